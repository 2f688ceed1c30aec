// Package recognize provides text recognition over normalized challenge
// bitmaps. The solver depends only on the Engine contract, so the underlying
// capability can be a local Tesseract install or a remote vision model.
package recognize

import (
	"context"
	"errors"
	"strings"
)

// AlphanumericAllowList is the character set a challenge string can be drawn
// from. Engines must not report characters outside the allow-list they are
// given.
const AlphanumericAllowList = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var (
	// ErrEngineUnavailable indicates that the underlying recognition
	// capability could not be initialized. This is fatal for a solver
	// instance, not a per-attempt condition.
	ErrEngineUnavailable = errors.New("recognition engine unavailable")
	// ErrAPIKeyRequired indicates that a remote engine was configured
	// without credentials.
	ErrAPIKeyRequired = errors.New("API key is required")
)

// Engine recognizes text in a normalized, PNG-encoded bitmap. Implementations
// return the recognized fragments in reading order. An engine that produces
// no output returns an empty slice, not an error; errors are reserved for the
// recognition machinery itself failing.
type Engine interface {
	Recognize(ctx context.Context, bitmapPNG []byte, allowList string) ([]string, error)
}

// JoinFragments concatenates recognized fragments in order, upper-cases the
// result, and strips surrounding whitespace. This post-processing belongs to
// the caller side of the Engine contract, so every engine benefits from it
// uniformly.
func JoinFragments(fragments []string) string {
	joined := strings.Join(fragments, "")

	return strings.ToUpper(strings.TrimSpace(joined))
}
