package config

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/intelligence/correlation"
	"go.uber.org/zap/zapcore"
)

// Config is the unified sift configuration
type Config struct {
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Narrative   NarrativeConfig   `mapstructure:"narrative"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Neo4j       Neo4jConfig       `mapstructure:"neo4j"`
	NATS        NATSConfig        `mapstructure:"nats"`
	API         APIConfig         `mapstructure:"api"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CorrelationConfig mirrors correlation.Config in file/env form
type CorrelationConfig struct {
	TimeWindow    time.Duration `mapstructure:"time_window"`
	MaxDistanceKM float64       `mapstructure:"max_distance_km"`
	MinStrength   float64       `mapstructure:"min_strength"`
	Weights       WeightsConfig `mapstructure:"weights"`
	Pruning       string        `mapstructure:"pruning"`
	BucketSize    time.Duration `mapstructure:"bucket_size"`
	Workers       int           `mapstructure:"workers"`

	// "lat,lon" applied to events and items of every investigation without one
	DefaultLocation string `mapstructure:"default_location"`
}

// WeightsConfig holds the per-dimension weights
type WeightsConfig struct {
	Temporal float64 `mapstructure:"temporal"`
	Spatial  float64 `mapstructure:"spatial"`
	Content  float64 `mapstructure:"content"`
}

// NarrativeConfig configures the LLM narrative collaborator
type NarrativeConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	TopN        int           `mapstructure:"top_n"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Concurrency int           `mapstructure:"concurrency"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	Burst       int           `mapstructure:"burst"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres or memory
	DSN    string `mapstructure:"dsn"`
}

// Neo4jConfig configures the optional correlation graph mirror
type Neo4jConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// APIConfig configures the HTTP server
type APIConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	HealthTimeout   time.Duration `mapstructure:"health_timeout"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

// Default returns a configuration that runs locally without external services
func Default() Config {
	engine := correlation.DefaultConfig()
	enh := engine.Enhancement
	return Config{
		Correlation: CorrelationConfig{
			TimeWindow:    engine.TimeWindow,
			MaxDistanceKM: engine.MaxDistanceKM,
			MinStrength:   engine.MinStrength,
			Weights: WeightsConfig{
				Temporal: engine.Weights.Temporal,
				Spatial:  engine.Weights.Spatial,
				Content:  engine.Weights.Content,
			},
			Pruning:    string(engine.Pruning),
			BucketSize: engine.BucketSize,
			Workers:    engine.Workers,
		},
		Narrative: NarrativeConfig{
			Enabled:     false,
			Host:        "http://localhost:11434",
			Model:       "gemma:4b",
			Timeout:     enh.Timeout,
			MaxTokens:   4096,
			Temperature: 0.3,
			TopN:        enh.TopN,
			MaxRetries:  enh.MaxRetries,
			RetryDelay:  enh.RetryDelay,
			Concurrency: enh.Concurrency,
			RateLimit:   enh.RateLimit,
			Burst:       enh.Burst,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "sift.db",
		},
		Neo4j: Neo4jConfig{
			URI:      "bolt://localhost:7687",
			Username: "neo4j",
			Database: "neo4j",
		},
		NATS: DefaultNATSConfig(),
		API: APIConfig{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    32 << 20,
			HealthTimeout:   5 * time.Second,
		},
		Telemetry: DefaultTelemetryConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate collects every problem instead of stopping at the first
func (c Config) Validate() error {
	var errs ValidationErrors

	if _, err := c.EngineConfig(); err != nil {
		errs.add("correlation", err.Error(), "check weights, windows and thresholds")
	}
	if c.Correlation.DefaultLocation != "" {
		if _, err := domain.ParseCoordinate(c.Correlation.DefaultLocation); err != nil {
			errs.add("correlation.default_location", err.Error(), "use \"lat,lon\" in decimal degrees")
		}
	}

	if c.Narrative.Enabled {
		u, err := url.Parse(c.Narrative.Host)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs.add("narrative.host", fmt.Sprintf("invalid URL %q", c.Narrative.Host), "e.g. http://localhost:11434")
		}
		if strings.TrimSpace(c.Narrative.Model) == "" {
			errs.add("narrative.model", "model is required", "set SIFT_NARRATIVE_MODEL")
		}
		if c.Narrative.MaxTokens <= 0 {
			errs.add("narrative.max_tokens", "must be positive", "")
		}
		if c.Narrative.Temperature < 0 || math.IsNaN(c.Narrative.Temperature) {
			errs.add("narrative.temperature", "must not be negative", "")
		}
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			errs.add("storage.dsn", "DSN is required for "+c.Storage.Driver, "")
		}
	default:
		errs.add("storage.driver", fmt.Sprintf("unknown driver %q", c.Storage.Driver), "use sqlite, postgres or memory")
	}

	if c.Neo4j.Enabled && c.Neo4j.URI == "" {
		errs.add("neo4j.uri", "URI is required when neo4j is enabled", "e.g. bolt://localhost:7687")
	}

	if err := c.NATS.Validate(); err != nil {
		errs.add("nats", err.Error(), "")
	}

	if c.API.Address == "" {
		errs.add("api.address", "address is required", "e.g. :8080")
	}
	if c.API.MaxBodyBytes <= 0 {
		errs.add("api.max_body_bytes", "must be positive", "")
	}

	if err := c.Telemetry.Validate(); err != nil {
		errs.add("telemetry", err.Error(), "")
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs.add("logging.level", err.Error(), "use debug, info, warn or error")
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs.add("logging.format", fmt.Sprintf("unknown format %q", c.Logging.Format), "use console or json")
	}

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

// EngineConfig converts to the engine's configuration and validates it
func (c Config) EngineConfig() (correlation.Config, error) {
	mode, err := correlation.ParsePruningMode(c.Correlation.Pruning)
	if err != nil {
		return correlation.Config{}, err
	}
	cfg := correlation.Config{
		Weights: correlation.Weights{
			Temporal: c.Correlation.Weights.Temporal,
			Spatial:  c.Correlation.Weights.Spatial,
			Content:  c.Correlation.Weights.Content,
		},
		TimeWindow:    c.Correlation.TimeWindow,
		MaxDistanceKM: c.Correlation.MaxDistanceKM,
		MinStrength:   c.Correlation.MinStrength,
		Pruning:       mode,
		BucketSize:    c.Correlation.BucketSize,
		Workers:       c.Correlation.Workers,
		Enhancement: correlation.EnhancementConfig{
			Enabled:     c.Narrative.Enabled,
			TopN:        c.Narrative.TopN,
			Timeout:     c.Narrative.Timeout,
			MaxRetries:  c.Narrative.MaxRetries,
			RetryDelay:  c.Narrative.RetryDelay,
			Concurrency: c.Narrative.Concurrency,
			RateLimit:   c.Narrative.RateLimit,
			Burst:       c.Narrative.Burst,
		},
	}
	if err := cfg.Validate(); err != nil {
		return correlation.Config{}, err
	}
	return cfg, nil
}
