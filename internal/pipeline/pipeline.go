// Package pipeline composes the challenge recognition flow: normalize the
// raw image, recognize text in the bitmap, and canonicalize the result. The
// solver and the remote worker both run attempts through this one pipeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"

	"github.com/book-expert/captcha-solver-service/internal/correct"
	"github.com/book-expert/captcha-solver-service/internal/preprocess"
	"github.com/book-expert/captcha-solver-service/internal/recognize"
)

// ErrEngineRequired indicates that a pipeline was constructed without a
// recognition engine.
var ErrEngineRequired = errors.New("recognition engine is required")

// Result carries every artifact an attempt produces. It is immutable once
// returned; callers that persist debug artifacts read from it.
type Result struct {
	// BitmapPNG is the normalized bitmap, PNG-encoded, exactly as it was
	// handed to the recognition engine.
	BitmapPNG []byte

	// Fragments are the engine's raw text fragments in reading order.
	Fragments []string

	// RawText is the fragments joined, upper-cased, and trimmed.
	RawText string

	// CorrectedText is the canonicalized text suitable for submission.
	CorrectedText string
}

// Pipeline runs raw challenge image bytes through preprocessing, recognition,
// and correction.
type Pipeline struct {
	preprocessor *preprocess.Preprocessor
	engine       recognize.Engine
	corrector    *correct.Corrector
	logger       *logger.Logger
}

// New creates a recognition pipeline.
func New(
	preprocessor *preprocess.Preprocessor,
	engine recognize.Engine,
	corrector *correct.Corrector,
	log *logger.Logger,
) (*Pipeline, error) {
	if engine == nil {
		return nil, ErrEngineRequired
	}

	return &Pipeline{
		preprocessor: preprocessor,
		engine:       engine,
		corrector:    corrector,
		logger:       log,
	}, nil
}

// Process runs one recognition cycle over raw image bytes.
func (p *Pipeline) Process(ctx context.Context, raw []byte) (*Result, error) {
	bitmap, err := p.preprocessor.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize challenge image: %w", err)
	}

	bitmapPNG, err := preprocess.EncodePNG(bitmap)
	if err != nil {
		return nil, fmt.Errorf("encode normalized bitmap: %w", err)
	}

	fragments, err := p.engine.Recognize(ctx, bitmapPNG, recognize.AlphanumericAllowList)
	if err != nil {
		return nil, fmt.Errorf("recognize challenge text: %w", err)
	}

	rawText := recognize.JoinFragments(fragments)
	correctedText := p.corrector.Correct(rawText)

	p.logger.Info("Recognized %q, corrected to %q", rawText, correctedText)

	return &Result{
		BitmapPNG:     bitmapPNG,
		Fragments:     fragments,
		RawText:       rawText,
		CorrectedText: correctedText,
	}, nil
}
