package correlation

import (
	"fmt"
	"math"
	"runtime"
	"time"
)

// Config holds all configuration for a correlation run
type Config struct {
	Weights Weights `json:"weights"`

	// Decay windows
	TimeWindow    time.Duration `json:"time_window"`
	MaxDistanceKM float64       `json:"max_distance_km"`

	// Ranking
	MinStrength float64 `json:"min_strength"`

	// Candidate generation
	Pruning    PruningMode   `json:"pruning"`
	BucketSize time.Duration `json:"bucket_size"`

	// Scoring parallelism, 0 means GOMAXPROCS
	Workers int `json:"workers"`

	Enhancement EnhancementConfig `json:"enhancement"`
}

// EnhancementConfig configures the narrative decorator applied after ranking
type EnhancementConfig struct {
	Enabled     bool          `json:"enabled"`
	TopN        int           `json:"top_n"`
	Timeout     time.Duration `json:"timeout"`
	MaxRetries  int           `json:"max_retries"`
	RetryDelay  time.Duration `json:"retry_delay"`
	Concurrency int           `json:"concurrency"`

	// Requests per second across all calls, 0 disables limiting
	RateLimit float64 `json:"rate_limit"`
	Burst     int     `json:"burst"`
}

// maxEnhancementRetries caps per-call retries
const maxEnhancementRetries = 5

// DefaultConfig returns production defaults: 24h window, 50km radius, 0.3 threshold
func DefaultConfig() Config {
	return Config{
		Weights:       DefaultWeights(),
		TimeWindow:    24 * time.Hour,
		MaxDistanceKM: 50,
		MinStrength:   0.3,
		Pruning:       PruneAuto,
		BucketSize:    24 * time.Hour,
		Workers:       0,
		Enhancement:   DefaultEnhancementConfig(),
	}
}

// DefaultEnhancementConfig returns enhancement defaults. Disabled unless asked for.
func DefaultEnhancementConfig() EnhancementConfig {
	return EnhancementConfig{
		Enabled:     false,
		TopN:        10,
		Timeout:     120 * time.Second,
		MaxRetries:  0,
		RetryDelay:  500 * time.Millisecond,
		Concurrency: 2,
		RateLimit:   0,
		Burst:       1,
	}
}

// Validate checks every value that would make a run meaningless
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("engine config validation failed: %w", err)
	}
	if c.TimeWindow <= 0 {
		return fmt.Errorf("engine config validation failed: %w",
			ErrInvalidConfig("time_window", "must be positive"))
	}
	if !(c.MaxDistanceKM > 0) || math.IsInf(c.MaxDistanceKM, 0) {
		return fmt.Errorf("engine config validation failed: %w",
			ErrInvalidConfig("max_distance_km", "must be a positive finite number"))
	}
	if math.IsNaN(c.MinStrength) || c.MinStrength < 0 || c.MinStrength > 1 {
		return fmt.Errorf("engine config validation failed: %w",
			ErrInvalidConfig("min_strength", "must be within [0,1]"))
	}
	if !c.Pruning.Valid() {
		return fmt.Errorf("engine config validation failed: %w",
			ErrInvalidConfig("pruning", fmt.Sprintf("unknown mode %q", c.Pruning)))
	}
	if c.Pruning != PruneOff && c.BucketSize < time.Second {
		return fmt.Errorf("engine config validation failed: %w",
			ErrInvalidConfig("bucket_size", "must be at least one second"))
	}
	if c.Workers < 0 {
		return fmt.Errorf("engine config validation failed: %w",
			ErrInvalidConfig("workers", "must not be negative"))
	}
	if err := c.Enhancement.Validate(); err != nil {
		return fmt.Errorf("enhancement config validation failed: %w", err)
	}
	return nil
}

// Validate checks enhancement settings. Disabled enhancement is always valid.
func (c EnhancementConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.TopN < 0 {
		return ErrInvalidConfig("top_n", "must not be negative")
	}
	if c.Timeout <= 0 {
		return ErrInvalidConfig("timeout", "must be positive")
	}
	if c.MaxRetries < 0 || c.MaxRetries > maxEnhancementRetries {
		return ErrInvalidConfig("max_retries", fmt.Sprintf("must be within [0,%d]", maxEnhancementRetries))
	}
	if c.RetryDelay < 0 {
		return ErrInvalidConfig("retry_delay", "must not be negative")
	}
	if c.Concurrency < 1 {
		return ErrInvalidConfig("concurrency", "must be at least 1")
	}
	if c.RateLimit < 0 || math.IsNaN(c.RateLimit) {
		return ErrInvalidConfig("rate_limit", "must not be negative")
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}
