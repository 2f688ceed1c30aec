package solver

import "context"

// Driver is the capability set the solver consumes from the embedding
// automation surface. Implementations wrap whatever drives the page that
// poses the challenge; the solver never assumes a particular browser or
// automation stack.
//
// Absence of an element is reported as a value, never as an error: a missing
// challenge input means no challenge is posed, and a missing challenge image
// means this attempt cannot acquire one. Errors are reserved for the surface
// itself failing.
type Driver interface {
	// FindChallengeImage locates the challenge image and returns a source
	// reference usable with Download. present is false when the page shows
	// no challenge image.
	FindChallengeImage(ctx context.Context) (src string, present bool, err error)

	// Download fetches the raw challenge image bytes.
	Download(ctx context.Context, src string) ([]byte, error)

	// ChallengeInputPresent reports whether the challenge text input is on
	// the page.
	ChallengeInputPresent(ctx context.Context) (bool, error)

	// SubmitText clears the challenge input, types the text, and triggers
	// submission.
	SubmitText(ctx context.Context, text string) error

	// TriggerNewImage requests a different challenge instance.
	TriggerNewImage(ctx context.Context) error

	// Screenshot captures the current page to the given path. Debug only.
	Screenshot(ctx context.Context, path string) error

	// WaitForSettle blocks until post-submission navigation settles.
	WaitForSettle(ctx context.Context) error
}
