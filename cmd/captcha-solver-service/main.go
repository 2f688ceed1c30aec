// ./cmd/captcha-solver-service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/captcha-solver-service/internal/config"
	"github.com/book-expert/captcha-solver-service/internal/correct"
	"github.com/book-expert/captcha-solver-service/internal/pipeline"
	"github.com/book-expert/captcha-solver-service/internal/preprocess"
	"github.com/book-expert/captcha-solver-service/internal/recognize"
	"github.com/book-expert/captcha-solver-service/internal/worker"
)

func main() {
	// A temporary logger for the bootstrap process
	log, err := logger.New(os.TempDir(), "captcha-solver-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create bootstrap logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load("", log)
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatal("Failed to create service directories: %v", err)
	}

	// Initialize the final logger based on the loaded configuration
	log, err = logger.New(cfg.Service.LogDir, "captcha-solver-service.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create final logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	engine, err := buildEngine(ctx, cfg, log)
	if err != nil {
		if errors.Is(err, recognize.ErrEngineUnavailable) {
			log.Fatal(
				"Recognition engine '%s' is unavailable: %v",
				cfg.Service.Engine,
				err,
			)
		}

		log.Fatal("Failed to initialize recognition engine: %v", err)
	}

	preprocessor := preprocess.NewPreprocessor(preprocess.Params{
		ClipLimit:         cfg.Preprocess.ClipLimit,
		TileGridSize:      cfg.Preprocess.TileGridSize,
		BlurSigma:         cfg.Preprocess.BlurSigma,
		BinarizeThreshold: uint8(cfg.Preprocess.BinarizeThreshold),
		DilateKernelSize:  cfg.Preprocess.DilateKernelSize,
		ErodeKernelSize:   cfg.Preprocess.ErodeKernelSize,
	}, log)

	mainPipeline, err := pipeline.New(preprocessor, engine, correct.NewCorrector(), log)
	if err != nil {
		log.Fatal("Failed to initialize recognition pipeline: %v", err)
	}

	natsWorker, err := worker.New(worker.Config{
		URL:               cfg.NATS.URL,
		StreamName:        cfg.NATS.Consumer.Stream,
		Subject:           cfg.NATS.Consumer.Subject,
		Consumer:          cfg.NATS.Consumer.Durable,
		OutputSubject:     cfg.NATS.Producer.Subject,
		DeadLetterSubject: cfg.NATS.DLQSubject,
		ImageBucket:       cfg.NATS.ObjectStore.ImageBucket,
		TextBucket:        cfg.NATS.ObjectStore.TextBucket,
	}, mainPipeline, log)
	if err != nil {
		log.Fatal("Failed to initialize NATS worker: %v", err)
	}

	go func() {
		log.Info("Starting NATS worker...")

		if err := natsWorker.Run(ctx); err != nil {
			log.Error("NATS worker stopped with error: %v", err)
			cancel()
		}
	}()

	<-sigChan
	log.Info("Shutdown signal received, gracefully shutting down...")
	cancel()
	natsWorker.Close()
	time.Sleep(2 * time.Second)
	log.Info("Shutdown complete.")
}

// buildEngine constructs the recognition engine selected by the configuration.
func buildEngine(
	ctx context.Context,
	cfg *config.Config,
	log *logger.Logger,
) (recognize.Engine, error) {
	switch cfg.Service.Engine {
	case "tesseract":
		tesseractCfg := recognize.DefaultTesseractConfig()
		tesseractCfg.Language = cfg.Tesseract.Language

		return recognize.NewTesseract(tesseractCfg, log)
	case "gemini":
		apiKey := cfg.GetAPIKey()
		if apiKey == "" {
			return nil, fmt.Errorf(
				"gemini engine selected but %s is not set: %w",
				cfg.Gemini.APIKeyEnvironmentVariable,
				recognize.ErrAPIKeyRequired,
			)
		}

		return recognize.NewGemini(ctx, recognize.GeminiConfig{
			APIKey:            apiKey,
			Models:            cfg.Gemini.Models,
			MaxRetries:        cfg.Gemini.MaxRetries,
			RetryDelaySeconds: cfg.Gemini.RetryDelaySeconds,
			TimeoutSeconds:    cfg.Gemini.TimeoutSeconds,
			Temperature:       cfg.Gemini.Temperature,
		}, log)
	default:
		return nil, fmt.Errorf(
			"unknown recognition engine '%s': %w",
			cfg.Service.Engine,
			recognize.ErrEngineUnavailable,
		)
	}
}
