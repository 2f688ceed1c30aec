package recognize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"google.golang.org/genai"
)

const geminiPromptFormat = "The image contains a short distorted challenge string. " +
	"Transcribe it exactly. Every character is one of %q. " +
	"Reply with the characters only, no explanation and no punctuation."

// ErrAllModelsFailed indicates that every configured Gemini model failed for
// a recognition call.
var ErrAllModelsFailed = errors.New("all configured models failed")

// GeminiConfig holds configuration for the Gemini-backed recognition engine.
type GeminiConfig struct {
	APIKey            string
	Models            []string
	MaxRetries        int
	RetryDelaySeconds int
	TimeoutSeconds    int
	Temperature       float64
}

// Gemini recognizes challenge text by asking a vision model to transcribe the
// bitmap. It is the remote alternative to the local Tesseract engine and
// satisfies the same contract.
type Gemini struct {
	client *genai.Client
	config GeminiConfig
	logger *logger.Logger
}

// NewGemini creates the engine and its API client. Missing credentials or a
// failed client handshake are reported as ErrEngineUnavailable.
func NewGemini(ctx context.Context, config GeminiConfig, log *logger.Logger) (*Gemini, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, ErrAPIKeyRequired)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w: %w", ErrEngineUnavailable, err)
	}

	return &Gemini{
		client: client,
		config: config,
		logger: log,
	}, nil
}

// Recognize tries each configured model in order, with bounded retries per
// model, and returns the first transcription obtained. An empty transcription
// is an empty result, not an error.
func (g *Gemini) Recognize(
	ctx context.Context,
	bitmapPNG []byte,
	allowList string,
) ([]string, error) {
	if len(g.config.Models) == 0 {
		return nil, fmt.Errorf("%w: no models configured", ErrAllModelsFailed)
	}

	prompt := fmt.Sprintf(geminiPromptFormat, allowList)

	var lastErr error

	for _, model := range g.config.Models {
		text, err := g.tryModel(ctx, model, bitmapPNG, prompt)
		if err != nil {
			lastErr = err

			g.logger.Warn("Model %s failed: %v", model, err)

			continue
		}

		return strings.Fields(text), nil
	}

	return nil, fmt.Errorf("%w: %w", ErrAllModelsFailed, lastErr)
}

func (g *Gemini) tryModel(
	ctx context.Context,
	model string,
	bitmapPNG []byte,
	prompt string,
) (string, error) {
	attempts := max(g.config.MaxRetries, 1)

	retryDelay := time.Duration(g.config.RetryDelaySeconds) * time.Second

	var lastErr error

	for attempt := range attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("recognition canceled: %w", ctx.Err())
			case <-time.After(retryDelay):
			}
		}

		text, err := g.generateOnce(ctx, model, bitmapPNG, prompt)
		if err == nil {
			return text, nil
		}

		lastErr = err
	}

	return "", lastErr
}

func (g *Gemini) generateOnce(
	ctx context.Context,
	model string,
	bitmapPNG []byte,
	prompt string,
) (string, error) {
	timeout := time.Duration(g.config.TimeoutSeconds) * time.Second

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(bitmapPNG, "image/png"),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	generationConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.config.Temperature)),
	}

	response, err := g.client.Models.GenerateContent(callCtx, model, contents, generationConfig)
	if err != nil {
		return "", fmt.Errorf("generate content with %s: %w", model, err)
	}

	return response.Text(), nil
}
