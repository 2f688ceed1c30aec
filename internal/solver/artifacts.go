package solver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
)

const (
	artifactFilePermission = 0o600
	artifactDirPermission  = 0o750
)

// Artifacts persists per-attempt debug files: the raw downloaded image, the
// normalized bitmap handed to the recognizer, and page screenshots. Every
// operation is best-effort; a write failure is logged and swallowed so debug
// output can never fail or block an attempt. Paths are attempt-indexed so no
// two attempts collide.
type Artifacts struct {
	outputDir string
	enabled   bool
	logger    *logger.Logger
}

// NewArtifacts creates the store and, when enabled, its output directory.
func NewArtifacts(outputDir string, enabled bool, log *logger.Logger) *Artifacts {
	store := &Artifacts{
		outputDir: outputDir,
		enabled:   enabled,
		logger:    log,
	}

	if enabled {
		err := os.MkdirAll(outputDir, artifactDirPermission)
		if err != nil {
			log.Warn("Could not create debug output directory %s: %v", outputDir, err)

			store.enabled = false
		}
	}

	return store
}

// Enabled reports whether debug artifacts are being persisted.
func (a *Artifacts) Enabled() bool {
	return a.enabled
}

// RawImagePath returns the location of an attempt's downloaded challenge
// image.
func (a *Artifacts) RawImagePath(attempt int) string {
	return filepath.Join(a.outputDir, fmt.Sprintf("captcha_%d.png", attempt))
}

// BitmapPath returns the location of an attempt's normalized bitmap.
func (a *Artifacts) BitmapPath(attempt int) string {
	return filepath.Join(a.outputDir, fmt.Sprintf("preprocessed_%d.png", attempt))
}

// ScreenshotPath returns the location of an attempt's page screenshot.
func (a *Artifacts) ScreenshotPath(attempt int) string {
	return filepath.Join(a.outputDir, fmt.Sprintf("captcha_screenshot_%d.png", attempt))
}

// ManualScreenshotPath returns the location of the screenshot captured when
// the solver hands over to manual resolution.
func (a *Artifacts) ManualScreenshotPath() string {
	return filepath.Join(a.outputDir, "captcha_manual_intervention.png")
}

// SaveRawImage persists an attempt's downloaded challenge image.
func (a *Artifacts) SaveRawImage(attempt int, data []byte) {
	a.save(a.RawImagePath(attempt), data)
}

// SaveBitmap persists an attempt's normalized bitmap.
func (a *Artifacts) SaveBitmap(attempt int, data []byte) {
	a.save(a.BitmapPath(attempt), data)
}

// CaptureScreenshot asks the driver for a page screenshot for the attempt.
func (a *Artifacts) CaptureScreenshot(ctx context.Context, driver Driver, attempt int) {
	a.screenshot(ctx, driver, a.ScreenshotPath(attempt))
}

// CaptureManualScreenshot records the page state at the moment automated
// solving gave up, for whoever resolves the challenge by hand.
func (a *Artifacts) CaptureManualScreenshot(ctx context.Context, driver Driver) {
	a.screenshot(ctx, driver, a.ManualScreenshotPath())
}

// RemoveManualScreenshot deletes the manual-intervention screenshot after an
// out-of-band resolution succeeded.
func (a *Artifacts) RemoveManualScreenshot() {
	a.remove(a.ManualScreenshotPath())
}

// CleanupAttempts deletes the artifacts of every attempt up to and including
// the given index. Called once a challenge is solved; failures are logged and
// never escalated.
func (a *Artifacts) CleanupAttempts(lastAttempt int) {
	if !a.enabled {
		return
	}

	for attempt := 0; attempt <= lastAttempt; attempt++ {
		a.remove(a.RawImagePath(attempt))
		a.remove(a.BitmapPath(attempt))
		a.remove(a.ScreenshotPath(attempt))
	}
}

func (a *Artifacts) save(path string, data []byte) {
	if !a.enabled {
		return
	}

	err := os.WriteFile(path, data, artifactFilePermission)
	if err != nil {
		a.logger.Warn("Could not write debug artifact %s: %v", path, err)
	}
}

func (a *Artifacts) screenshot(ctx context.Context, driver Driver, path string) {
	if !a.enabled {
		return
	}

	err := driver.Screenshot(ctx, path)
	if err != nil {
		a.logger.Warn("Could not capture screenshot %s: %v", path, err)
	}
}

func (a *Artifacts) remove(path string) {
	if !a.enabled {
		return
	}

	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		a.logger.Warn("Could not delete debug artifact %s: %v", path, err)
	}
}
