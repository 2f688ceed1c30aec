package recognize

import (
	"context"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
	"github.com/otiai10/gosseract/v2"
)

// TesseractConfig holds configuration for the local Tesseract engine.
type TesseractConfig struct {
	// Language specifies the OCR language model to use (e.g., "eng").
	Language string

	// PageSegMode determines how Tesseract segments the bitmap. Challenge
	// strings are a single line of text, so the default treats the whole
	// image as one line.
	PageSegMode gosseract.PageSegMode
}

// DefaultTesseractConfig returns the tuning used for single-line challenge
// bitmaps.
func DefaultTesseractConfig() TesseractConfig {
	return TesseractConfig{
		Language:    "eng",
		PageSegMode: gosseract.PSM_SINGLE_LINE,
	}
}

// Tesseract recognizes challenge text through a local Tesseract install via
// gosseract. A fresh client is created per call because gosseract clients are
// not safe for concurrent use.
type Tesseract struct {
	config TesseractConfig
	logger *logger.Logger
}

// NewTesseract probes the local Tesseract install and returns an engine bound
// to it. A missing install or a missing language model is reported as
// ErrEngineUnavailable; callers must treat that as the recognition feature
// being absent, not as a retryable condition.
func NewTesseract(config TesseractConfig, log *logger.Logger) (*Tesseract, error) {
	languages, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return nil, fmt.Errorf("probe tesseract install: %w: %w", ErrEngineUnavailable, err)
	}

	found := false

	for _, language := range languages {
		if language == config.Language {
			found = true

			break
		}
	}

	if !found {
		return nil, fmt.Errorf(
			"tesseract language %q not installed: %w",
			config.Language,
			ErrEngineUnavailable,
		)
	}

	log.Info("Tesseract engine ready (language %s)", config.Language)

	return &Tesseract{
		config: config,
		logger: log,
	}, nil
}

// Recognize runs Tesseract over the bitmap restricted to the allow-list and
// returns the recognized fragments. A run that yields no text is an empty
// result, not an error.
func (t *Tesseract) Recognize(
	ctx context.Context,
	bitmapPNG []byte,
	allowList string,
) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("recognition canceled: %w", err)
	}

	client := gosseract.NewClient()
	defer func() {
		closeErr := client.Close()
		if closeErr != nil {
			t.logger.Warn("Failed to close tesseract client: %v", closeErr)
		}
	}()

	err := client.SetLanguage(t.config.Language)
	if err != nil {
		return nil, fmt.Errorf("set tesseract language: %w", err)
	}

	err = client.SetPageSegMode(t.config.PageSegMode)
	if err != nil {
		return nil, fmt.Errorf("set tesseract page segmentation mode: %w", err)
	}

	err = client.SetWhitelist(allowList)
	if err != nil {
		return nil, fmt.Errorf("set tesseract whitelist: %w", err)
	}

	err = client.SetImageFromBytes(bitmapPNG)
	if err != nil {
		return nil, fmt.Errorf("set tesseract image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		// A failed extraction is equivalent to the engine seeing
		// nothing; the solver's validation step handles it.
		t.logger.Warn("Tesseract produced no output: %v", err)

		return []string{}, nil
	}

	return strings.Fields(text), nil
}
