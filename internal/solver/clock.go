package solver

import (
	"context"
	"fmt"
	"time"
)

// Clock abstracts wall-clock time so the manual-fallback poll loop can be
// unit-tested with a virtual clock instead of real sleeps.
type Clock interface {
	Now() time.Time

	// Sleep blocks for the duration or until the context is canceled,
	// in which case it returns the context's error.
	Sleep(ctx context.Context, duration time.Duration) error
}

// SystemClock is the Clock used outside of tests.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Sleep waits for the duration, honoring cancellation.
func (SystemClock) Sleep(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
