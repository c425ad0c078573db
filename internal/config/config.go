// Package config loads mood-map settings from MOODMAP_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime setting of the service and CLI.
type Config struct {
	LogLevel string `env:"MOODMAP_LOG_LEVEL" envDefault:"info"`

	// HTTP dashboard
	Port string `env:"MOODMAP_PORT" envDefault:"8080"`

	// Engine selects the analysis backend: "opencv" or "mock".
	Engine         string  `env:"MOODMAP_ENGINE" envDefault:"opencv"`
	InputSize      int     `env:"MOODMAP_INPUT_SIZE" envDefault:"416"`
	ScoreThreshold float64 `env:"MOODMAP_SCORE_THRESHOLD" envDefault:"0.5"`

	// Model artifacts
	ModelDir     string        `env:"MOODMAP_MODEL_DIR" envDefault:"models"`
	ModelBaseURL string        `env:"MOODMAP_MODEL_BASE_URL"`
	ManifestPath string        `env:"MOODMAP_MANIFEST"`
	ModelTimeout time.Duration `env:"MOODMAP_MODEL_TIMEOUT" envDefault:"2m"`

	// Camera
	CameraDevice string `env:"MOODMAP_CAMERA_DEVICE" envDefault:"0"`
	CameraPreset string `env:"MOODMAP_CAMERA_PRESET" envDefault:"default"`

	// Detection scheduling
	TickInterval    time.Duration `env:"MOODMAP_TICK_INTERVAL" envDefault:"100ms"`
	MaxAttempts     int           `env:"MOODMAP_MAX_ATTEMPTS" envDefault:"5"`
	RetryDelay      time.Duration `env:"MOODMAP_RETRY_DELAY" envDefault:"500ms"`
	ReleaseDelay    time.Duration `env:"MOODMAP_RELEASE_DELAY" envDefault:"3s"`
	MaxReadFailures int           `env:"MOODMAP_MAX_READ_FAILURES" envDefault:"10"`

	// Snapshot
	Attribution string `env:"MOODMAP_ATTRIBUTION" envDefault:"Mood Map - anonymous, not stored"`
	ExportDir   string `env:"MOODMAP_EXPORT_DIR" envDefault:"."`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load returns the configuration from the environment, validated.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that other packages rely on.
func (c Config) Validate() error {
	switch c.Engine {
	case "opencv", "mock":
	default:
		return fmt.Errorf("config: unknown engine %q (want opencv or mock)", c.Engine)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("config: tick interval must be positive, got %v", c.TickInterval)
	}
	if c.RetryDelay < 0 || c.ReleaseDelay < 0 {
		return fmt.Errorf("config: delays must not be negative")
	}
	if c.MaxReadFailures < 1 {
		return fmt.Errorf("config: max read failures must be at least 1, got %d", c.MaxReadFailures)
	}
	if c.ScoreThreshold <= 0 || c.ScoreThreshold >= 1 {
		return fmt.Errorf("config: score threshold must be in (0,1), got %v", c.ScoreThreshold)
	}
	return nil
}
