// Package events defines the message schemas the remote recognition worker
// consumes and produces.
package events

import "time"

// EventHeader contains metadata common to all events.
type EventHeader struct {
	Timestamp  time.Time `json:"Timestamp"`
	WorkflowID string    `json:"WorkflowID"`
	UserID     string    `json:"UserID"`
	TenantID   string    `json:"TenantID"`
	EventID    string    `json:"EventID"`
}

// ChallengeImageReceivedEvent is published when an embedding automation
// surface has downloaded a challenge image and stored it for recognition.
type ChallengeImageReceivedEvent struct {
	Header   EventHeader `json:"Header"`
	ImageKey string      `json:"ImageKey"`
	// SourceURL records where the challenge image was downloaded from,
	// for offline diagnosis only.
	SourceURL string `json:"SourceURL,omitempty"`
}

// ChallengeRecognizedEvent is published after the recognition pipeline has
// produced corrected text for a challenge image.
type ChallengeRecognizedEvent struct {
	Header   EventHeader `json:"Header"`
	ImageKey string      `json:"ImageKey"`
	TextKey  string      `json:"TextKey"`
	// RawText is the recognizer output before correction; it is carried so
	// substitution-table tuning can be driven by real observed output.
	RawText       string `json:"RawText"`
	CorrectedText string `json:"CorrectedText"`
}
