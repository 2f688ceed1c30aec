// Package config loads and validates the service configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

const DefaultConfigFilename = "project.toml"

// Config is the root of the service configuration tree.
type Config struct {
	Service    ServiceSettings    `toml:"service"`
	Solver     SolverSettings     `toml:"solver"`
	Preprocess PreprocessSettings `toml:"preprocess"`
	Tesseract  TesseractSettings  `toml:"tesseract"`
	Gemini     GeminiSettings     `toml:"gemini"`
	NATS       NATSSettings       `toml:"nats"`
}

type ServiceSettings struct {
	LogDir string `toml:"log_dir"`
	Engine string `toml:"engine"`
}

type SolverSettings struct {
	MaxAttempts              int    `toml:"max_attempts"`
	MinTextLength            int    `toml:"min_text_length"`
	DebugArtifacts           bool   `toml:"debug_artifacts"`
	OutputDir                string `toml:"output_dir"`
	FallbackPollIntervalSecs int    `toml:"fallback_poll_interval_seconds"`
	FallbackCeilingSecs      int    `toml:"fallback_ceiling_seconds"`
}

type PreprocessSettings struct {
	ClipLimit         float64 `toml:"clip_limit"`
	TileGridSize      int     `toml:"tile_grid_size"`
	BlurSigma         float64 `toml:"blur_sigma"`
	BinarizeThreshold int     `toml:"binarize_threshold"`
	DilateKernelSize  int     `toml:"dilate_kernel_size"`
	ErodeKernelSize   int     `toml:"erode_kernel_size"`
}

type TesseractSettings struct {
	Language string `toml:"language"`
}

type GeminiSettings struct {
	APIKeyEnvironmentVariable string   `toml:"api_key_variable"`
	Models                    []string `toml:"models"`
	MaxRetries                int      `toml:"max_retries"`
	RetryDelaySeconds         int      `toml:"retry_delay_seconds"`
	TimeoutSeconds            int      `toml:"timeout_seconds"`
	Temperature               float64  `toml:"temperature"`
}

type NATSSettings struct {
	URL         string              `toml:"url"`
	DLQSubject  string              `toml:"dlq_subject"`
	Consumer    ConsumerSettings    `toml:"consumer"`
	Producer    ProducerSettings    `toml:"producer"`
	ObjectStore ObjectStoreSettings `toml:"object_store"`
}

type ConsumerSettings struct {
	Stream  string `toml:"stream"`
	Subject string `toml:"subject"`
	Durable string `toml:"durable"`
}

type ProducerSettings struct {
	Subject string `toml:"subject"`
}

type ObjectStoreSettings struct {
	ImageBucket string `toml:"image_bucket"`
	TextBucket  string `toml:"text_bucket"`
}

// Load reads the configuration from filePath, falling back to
// DefaultConfigFilename when filePath is empty, and applies defaults for
// settings the file omits.
func Load(filePath string, loggerInstance *logger.Logger) (*Config, error) {
	if filePath == "" {
		filePath = DefaultConfigFilename
	}

	configFile, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file '%s': %w", filePath, err)
	}
	defer func() {
		if closeErr := configFile.Close(); closeErr != nil && loggerInstance != nil {
			loggerInstance.Warn("Failed to close config file: %v", closeErr)
		}
	}()

	var configuration Config

	decoder := toml.NewDecoder(configFile)
	if err := decoder.Decode(&configuration); err != nil {
		return nil, fmt.Errorf("failed to decode TOML configuration: %w", err)
	}

	configuration.applyDefaults()

	return &configuration, nil
}

func (c *Config) applyDefaults() {
	if c.Service.Engine == "" {
		c.Service.Engine = "tesseract"
	}

	if c.Solver.MaxAttempts <= 0 {
		c.Solver.MaxAttempts = 3
	}

	if c.Solver.MinTextLength <= 0 {
		c.Solver.MinTextLength = 4
	}

	if c.Solver.OutputDir == "" {
		c.Solver.OutputDir = "captcha_failures"
	}

	if c.Solver.FallbackPollIntervalSecs <= 0 {
		c.Solver.FallbackPollIntervalSecs = 2
	}

	if c.Solver.FallbackCeilingSecs <= 0 {
		c.Solver.FallbackCeilingSecs = 120
	}

	if c.Preprocess.ClipLimit <= 0 {
		c.Preprocess.ClipLimit = 2.0
	}

	if c.Preprocess.TileGridSize <= 0 {
		c.Preprocess.TileGridSize = 8
	}

	if c.Preprocess.BlurSigma <= 0 {
		c.Preprocess.BlurSigma = 0.8
	}

	if c.Preprocess.BinarizeThreshold <= 0 {
		c.Preprocess.BinarizeThreshold = 170
	}

	if c.Preprocess.DilateKernelSize <= 0 {
		c.Preprocess.DilateKernelSize = 2
	}

	if c.Preprocess.ErodeKernelSize <= 0 {
		c.Preprocess.ErodeKernelSize = 1
	}

	if c.Tesseract.Language == "" {
		c.Tesseract.Language = "eng"
	}

	if c.Gemini.MaxRetries <= 0 {
		c.Gemini.MaxRetries = 3
	}

	if c.Gemini.RetryDelaySeconds <= 0 {
		c.Gemini.RetryDelaySeconds = 5
	}

	if c.Gemini.TimeoutSeconds <= 0 {
		c.Gemini.TimeoutSeconds = 60
	}
}

// GetAPIKey resolves the Gemini API key from the configured environment
// variable. An empty string means no key is available.
func (c *Config) GetAPIKey() string {
	return os.Getenv(c.Gemini.APIKeyEnvironmentVariable)
}

func (c *Config) GetLogFilePath(filename string) string {
	return filepath.Join(c.Service.LogDir, filename)
}

// FallbackPollInterval returns the manual fallback poll interval as a duration.
func (c *Config) FallbackPollInterval() time.Duration {
	return time.Duration(c.Solver.FallbackPollIntervalSecs) * time.Second
}

// FallbackCeiling returns the manual fallback waiting ceiling as a duration.
func (c *Config) FallbackCeiling() time.Duration {
	return time.Duration(c.Solver.FallbackCeilingSecs) * time.Second
}

// EnsureDirectories creates the directories the service writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Service.LogDir, c.Solver.OutputDir} {
		if dir == "" {
			continue
		}

		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory '%s': %w", dir, err)
		}
	}

	return nil
}
