// Package config loads nostrMQ's runtime configuration from the
// environment, with an optional .env file layered underneath it.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every tunable nostrMQ needs to send and receive messages.
type Config struct {
	SecretKey string   `env:"NOSTRMQ_SECRET_KEY,required"`
	Relays    []string `env:"NOSTRMQ_RELAYS" envSeparator:";"`

	PowDifficulty int `env:"NOSTRMQ_POW_DIFFICULTY" envDefault:"0"`
	PowThreads    int `env:"NOSTRMQ_POW_THREADS" envDefault:"1"`

	LookbackSeconds int `env:"NOSTRMQ_LOOKBACK_SECONDS" envDefault:"3600"`
	TrackLimit      int `env:"NOSTRMQ_TRACK_LIMIT" envDefault:"1000"`

	CacheDir          string `env:"NOSTRMQ_CACHE_DIR" envDefault:".nostrmq"`
	EnablePersistence bool   `env:"NOSTRMQ_ENABLE_PERSISTENCE" envDefault:"true"`
}

const (
	minPowDifficulty = 0
	maxPowDifficulty = 32
	minPowThreads    = 1
	maxPowThreads    = 64
	minTrackLimit    = 10
	maxTrackLimit    = 1000
)

// Load reads a .env file (if present, best-effort) and then the process
// environment into a Config, validating and clamping values to the
// ranges documented for pow/tracker tuning.
func Load() (*Config, error) {
	return LoadConfig[Config]()
}

// LoadConfig parses environment variables into a T using struct `env`
// tags, loading a .env file first if one exists in the working directory.
// Generic so it can be reused for test fixtures or alternate config
// shapes without duplicating the env/dotenv wiring.
func LoadConfig[T any]() (*T, error) {
	_ = godotenv.Load()

	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if c, ok := any(&cfg).(*Config); ok {
		if err := c.validate(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return fmt.Errorf("NOSTRMQ_SECRET_KEY is required")
	}
	if len(c.SecretKey) != 64 {
		return fmt.Errorf("NOSTRMQ_SECRET_KEY must be 64 hex characters, got %d", len(c.SecretKey))
	}
	if !isHex(c.SecretKey) {
		return fmt.Errorf("NOSTRMQ_SECRET_KEY must be hex-encoded")
	}

	if len(c.Relays) == 0 {
		return fmt.Errorf("NOSTRMQ_RELAYS must list at least one relay URL")
	}
	for _, r := range c.Relays {
		if !strings.HasPrefix(r, "ws://") && !strings.HasPrefix(r, "wss://") {
			return fmt.Errorf("relay URL %q must use ws:// or wss://", r)
		}
	}

	if c.PowDifficulty < minPowDifficulty || c.PowDifficulty > maxPowDifficulty {
		return fmt.Errorf("NOSTRMQ_POW_DIFFICULTY must be between %d and %d, got %d", minPowDifficulty, maxPowDifficulty, c.PowDifficulty)
	}
	if c.PowThreads < minPowThreads {
		c.PowThreads = minPowThreads
	}
	if c.PowThreads > maxPowThreads {
		c.PowThreads = maxPowThreads
	}

	if c.TrackLimit < minTrackLimit {
		c.TrackLimit = minTrackLimit
	}
	if c.TrackLimit > maxTrackLimit {
		c.TrackLimit = maxTrackLimit
	}

	if c.LookbackSeconds < 0 {
		return fmt.Errorf("NOSTRMQ_LOOKBACK_SECONDS must not be negative, got %d", c.LookbackSeconds)
	}

	return nil
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
