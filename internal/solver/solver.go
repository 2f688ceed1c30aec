// Package solver drives the attempt loop around the challenge recognition
// pipeline: acquire an image through the automation surface, recognize and
// canonicalize the text, submit it, verify the result, and decide whether to
// retry, wait for out-of-band resolution, or give up.
package solver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/captcha-solver-service/internal/pipeline"
	"github.com/book-expert/captcha-solver-service/internal/recognize"
)

var (
	// ErrDownload indicates that the challenge image could not be fetched
	// through the automation surface.
	ErrDownload = errors.New("challenge image download failed")
	// ErrRecognitionTooShort indicates that the corrected text was too
	// short to be a plausible challenge string; it is never submitted.
	ErrRecognitionTooShort = errors.New("recognized text too short")
	// ErrStillChallenged indicates that the challenge input was still
	// present after submission, so the submitted text was wrong.
	ErrStillChallenged = errors.New("challenge input still present after submission")
	// ErrManualFallbackTimeout indicates that the manual-resolution wait
	// expired with the challenge still posed.
	ErrManualFallbackTimeout = errors.New("manual fallback timed out")
)

// Outcome is the terminal judgement of a solve invocation or of a single
// attempt.
type Outcome int

const (
	// OutcomeSolved means the challenge is no longer posed.
	OutcomeSolved Outcome = iota
	// OutcomeRetryNeeded means the attempt failed but the loop continues.
	OutcomeRetryNeeded
	// OutcomeManualFallback means automated attempts are exhausted and the
	// solver is waiting for out-of-band resolution.
	OutcomeManualFallback
	// OutcomeFailed means the challenge remains unsolved.
	OutcomeFailed
)

// String returns the outcome name for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeSolved:
		return "solved"
	case OutcomeRetryNeeded:
		return "retry-needed"
	case OutcomeManualFallback:
		return "manual-fallback"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Attempt is the immutable record of one acquire→recognize→submit→verify
// cycle. It is archived only when debugging is enabled.
type Attempt struct {
	Index         int
	RawText       string
	CorrectedText string
	Outcome       Outcome
	Err           error
}

// Config holds the solve-control settings. It is immutable for the lifetime
// of a solve invocation.
type Config struct {
	// MaxAttempts bounds the number of attempt cycles.
	MaxAttempts int

	// MinTextLength is the shortest corrected text worth submitting.
	MinTextLength int

	// DebugEnabled persists per-attempt artifacts under OutputDir.
	DebugEnabled bool

	// OutputDir is where debug artifacts are rooted.
	OutputDir string

	// FallbackPollInterval is the pause between manual-fallback polls.
	FallbackPollInterval time.Duration

	// FallbackCeiling bounds the total manual-fallback wait.
	FallbackCeiling time.Duration
}

// DefaultConfig returns the reference solve-control settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:          3,
		MinTextLength:        4,
		DebugEnabled:         false,
		OutputDir:            "captcha_failures",
		FallbackPollInterval: 2 * time.Second,
		FallbackCeiling:      120 * time.Second,
	}
}

// Recognizer is what the solver needs from the recognition pipeline.
type Recognizer interface {
	Process(ctx context.Context, raw []byte) (*pipeline.Result, error)
}

// Solver runs the attempt state machine. A nil recognizer marks the solver
// instance as permanently unavailable: every solve call short-circuits with
// ErrEngineUnavailable instead of attempting recognition. Attempts are
// strictly sequential; a Solver must not be used concurrently.
type Solver struct {
	recognizer Recognizer
	artifacts  *Artifacts
	clock      Clock
	config     Config
	logger     *logger.Logger
	archive    []Attempt
}

// New creates a solver using the system clock. Pass a nil recognizer when
// recognition-engine initialization failed; the solver then reports the
// feature as unavailable rather than erroring per attempt.
func New(recognizer Recognizer, config Config, log *logger.Logger) *Solver {
	return NewWithClock(recognizer, config, SystemClock{}, log)
}

// NewWithClock creates a solver with an explicit clock for the
// manual-fallback poll loop.
func NewWithClock(recognizer Recognizer, config Config, clock Clock, log *logger.Logger) *Solver {
	return &Solver{
		recognizer: recognizer,
		artifacts:  NewArtifacts(config.OutputDir, config.DebugEnabled, log),
		clock:      clock,
		config:     config,
		logger:     log,
		archive:    nil,
	}
}

// Artifacts exposes the debug artifact store, primarily so embedders can
// report where failure evidence was kept.
func (s *Solver) Artifacts() *Artifacts {
	return s.artifacts
}

// Attempts returns the archived attempt records of the most recent solve.
// The archive is only populated when debugging is enabled.
func (s *Solver) Attempts() []Attempt {
	out := make([]Attempt, len(s.archive))
	copy(out, s.archive)

	return out
}

// Solve runs automated attempts until the challenge is gone or MaxAttempts
// cycles are spent. Ordinary recognition misses never surface as errors; the
// only error returned besides cancellation is ErrEngineUnavailable.
func (s *Solver) Solve(ctx context.Context, driver Driver) (Outcome, error) {
	if s.recognizer == nil {
		s.logger.Error("Recognition engine unavailable, cannot solve challenge")

		return OutcomeFailed, recognize.ErrEngineUnavailable
	}

	s.archive = s.archive[:0]

	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return OutcomeFailed, fmt.Errorf("solve canceled: %w", err)
		}

		record := s.runAttempt(ctx, driver, attempt)
		s.recordAttempt(record)

		if record.Outcome == OutcomeSolved {
			s.artifacts.CleanupAttempts(attempt)
			s.logger.Success("Challenge solved on attempt %d", attempt+1)

			return OutcomeSolved, nil
		}

		s.logger.Warn(
			"Attempt %d/%d failed: %v",
			attempt+1,
			s.config.MaxAttempts,
			record.Err,
		)
	}

	// Failed attempts keep their artifacts on disk for offline inspection.
	s.logger.Error("Failed to solve challenge after %d attempts", s.config.MaxAttempts)

	return OutcomeFailed, nil
}

// SolveWithFallback runs Solve and, if automated attempts are exhausted,
// waits a bounded time for the challenge to be resolved out-of-band (for
// example by a developer driving the page manually).
func (s *Solver) SolveWithFallback(ctx context.Context, driver Driver) (Outcome, error) {
	outcome, err := s.Solve(ctx, driver)
	if err != nil || outcome == OutcomeSolved {
		return outcome, err
	}

	return s.awaitManualResolution(ctx, driver)
}

// runAttempt executes one full cycle and returns its immutable record.
func (s *Solver) runAttempt(ctx context.Context, driver Driver, attempt int) Attempt {
	record := Attempt{
		Index:         attempt,
		RawText:       "",
		CorrectedText: "",
		Outcome:       OutcomeRetryNeeded,
		Err:           nil,
	}

	// Detecting: absence of the input means no challenge is posed, which
	// counts as solved without consuming an attempt.
	present, err := driver.ChallengeInputPresent(ctx)
	if err != nil {
		record.Err = fmt.Errorf("detect challenge input: %w", err)

		return record
	}

	if !present {
		s.logger.Info("No challenge detected on current page")

		record.Outcome = OutcomeSolved

		return record
	}

	raw, err := s.acquireImage(ctx, driver)
	if err != nil {
		record.Err = err

		return record
	}

	s.artifacts.SaveRawImage(attempt, raw)
	s.artifacts.CaptureScreenshot(ctx, driver, attempt)

	result, err := s.recognizer.Process(ctx, raw)
	if err != nil {
		record.Err = fmt.Errorf("recognition cycle: %w", err)

		return record
	}

	s.artifacts.SaveBitmap(attempt, result.BitmapPNG)

	record.RawText = result.RawText
	record.CorrectedText = result.CorrectedText

	s.logger.Info("Attempt %d recognized %q", attempt+1, result.CorrectedText)

	// Validating: text too short to be a challenge string is never
	// submitted; ask for a fresh image before the next attempt.
	if len(result.CorrectedText) < s.config.MinTextLength {
		s.requestNewImage(ctx, driver)

		record.Err = fmt.Errorf(
			"%w: %q has %d characters, need %d",
			ErrRecognitionTooShort,
			result.CorrectedText,
			len(result.CorrectedText),
			s.config.MinTextLength,
		)

		return record
	}

	record.Err = s.submitAndVerify(ctx, driver, result.CorrectedText)
	if record.Err == nil {
		record.Outcome = OutcomeSolved
	}

	return record
}

// acquireImage locates and downloads the challenge image.
func (s *Solver) acquireImage(ctx context.Context, driver Driver) ([]byte, error) {
	src, found, err := driver.FindChallengeImage(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: locate image: %w", ErrDownload, err)
	}

	if !found {
		return nil, fmt.Errorf("%w: no challenge image on page", ErrDownload)
	}

	raw, err := driver.Download(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}

	return raw, nil
}

// submitAndVerify enters the corrected text and checks whether the challenge
// input disappeared.
func (s *Solver) submitAndVerify(ctx context.Context, driver Driver, text string) error {
	err := driver.SubmitText(ctx, text)
	if err != nil {
		return fmt.Errorf("submit text: %w", err)
	}

	err = driver.WaitForSettle(ctx)
	if err != nil {
		return fmt.Errorf("wait for page to settle: %w", err)
	}

	present, err := driver.ChallengeInputPresent(ctx)
	if err != nil {
		return fmt.Errorf("verify submission: %w", err)
	}

	if present {
		s.requestNewImage(ctx, driver)

		return ErrStillChallenged
	}

	return nil
}

// requestNewImage asks the surface for a different challenge instance.
// Best-effort: a failing affordance is logged and the retry proceeds anyway.
func (s *Solver) requestNewImage(ctx context.Context, driver Driver) {
	err := driver.TriggerNewImage(ctx)
	if err != nil {
		s.logger.Warn("Could not request a new challenge image: %v", err)
	}
}

// awaitManualResolution polls for the challenge input to disappear, bounded
// by the configured interval and ceiling.
func (s *Solver) awaitManualResolution(ctx context.Context, driver Driver) (Outcome, error) {
	s.logger.Warn("Automated solving failed, waiting for manual resolution...")

	s.artifacts.CaptureManualScreenshot(ctx, driver)

	deadline := s.clock.Now().Add(s.config.FallbackCeiling)

	for s.clock.Now().Before(deadline) {
		present, err := driver.ChallengeInputPresent(ctx)
		if err == nil && !present {
			s.logger.Success("Challenge resolved manually")
			s.artifacts.RemoveManualScreenshot()

			return OutcomeSolved, nil
		}

		err = s.clock.Sleep(ctx, s.config.FallbackPollInterval)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("manual fallback interrupted: %w", err)
		}
	}

	s.logger.Error("Manual resolution wait expired: %v", ErrManualFallbackTimeout)

	return OutcomeFailed, nil
}

func (s *Solver) recordAttempt(record Attempt) {
	if s.artifacts.Enabled() {
		s.archive = append(s.archive, record)
	}
}
