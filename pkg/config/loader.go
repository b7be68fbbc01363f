package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SIFT_STORAGE_DSN
const EnvPrefix = "SIFT"

// Loader handles configuration loading from multiple sources
type Loader struct {
	searchPaths  []string
	envPrefix    string
	configFile   string
	allowMissing bool
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		searchPaths:  ConfigPaths(),
		envPrefix:    EnvPrefix,
		allowMissing: true,
	}
}

// WithSearchPaths sets custom search paths for configuration files
func (l *Loader) WithSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// WithEnvPrefix sets the environment variable prefix
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithConfigFile sets a specific configuration file to load
func (l *Loader) WithConfigFile(file string) *Loader {
	l.configFile = file
	return l
}

// RequireConfigFile makes configuration file mandatory
func (l *Loader) RequireConfigFile() *Loader {
	l.allowMissing = false
	return l
}

// Load loads configuration from all sources in priority order:
// 1. Default configuration
// 2. Configuration file (if found)
// 3. Environment variables
// 4. Command line flags (bound externally through Viper)
func (l *Loader) Load() (*Config, error) {
	v := l.Viper()
	if err := l.readConfigFile(v); err != nil {
		return nil, err
	}
	return Decode(v)
}

// Viper returns a viper instance with defaults and env binding applied but
// no file read yet. Callers may bind flags before decoding.
func (l *Loader) Viper() *viper.Viper {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Decode unmarshals and validates the settings held by v
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, ConfigError{
			Type:    "decode",
			File:    v.ConfigFileUsed(),
			Message: err.Error(),
			Cause:   err,
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) readConfigFile(v *viper.Viper) error {
	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return ConfigError{Type: "file", File: l.configFile, Message: err.Error(), Cause: err}
		}
		return nil
	}

	v.SetConfigName("sift")
	for _, p := range l.searchPaths {
		v.AddConfigPath(p)
	}
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		if l.allowMissing {
			return nil
		}
		return ConfigError{
			Type:    "file",
			Message: fmt.Sprintf("no sift config found in %s", strings.Join(l.searchPaths, ", ")),
			Cause:   err,
		}
	}
	return ConfigError{Type: "file", File: v.ConfigFileUsed(), Message: err.Error(), Cause: err}
}

// Load is a convenience wrapper: an explicit path, or the search paths when empty
func Load(path string) (*Config, error) {
	l := NewLoader()
	if path != "" {
		l = l.WithConfigFile(path)
	}
	return l.Load()
}

// ConfigPaths returns the directories searched for sift.{yaml,json,toml}
func ConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".sift"))
	}
	return append(paths, "/etc/sift")
}

func setDefaults(v *viper.Viper, d Config) {
	c := d.Correlation
	v.SetDefault("correlation.time_window", c.TimeWindow)
	v.SetDefault("correlation.max_distance_km", c.MaxDistanceKM)
	v.SetDefault("correlation.min_strength", c.MinStrength)
	v.SetDefault("correlation.weights.temporal", c.Weights.Temporal)
	v.SetDefault("correlation.weights.spatial", c.Weights.Spatial)
	v.SetDefault("correlation.weights.content", c.Weights.Content)
	v.SetDefault("correlation.pruning", c.Pruning)
	v.SetDefault("correlation.bucket_size", c.BucketSize)
	v.SetDefault("correlation.workers", c.Workers)
	v.SetDefault("correlation.default_location", c.DefaultLocation)

	n := d.Narrative
	v.SetDefault("narrative.enabled", n.Enabled)
	v.SetDefault("narrative.host", n.Host)
	v.SetDefault("narrative.model", n.Model)
	v.SetDefault("narrative.timeout", n.Timeout)
	v.SetDefault("narrative.max_tokens", n.MaxTokens)
	v.SetDefault("narrative.temperature", n.Temperature)
	v.SetDefault("narrative.top_n", n.TopN)
	v.SetDefault("narrative.max_retries", n.MaxRetries)
	v.SetDefault("narrative.retry_delay", n.RetryDelay)
	v.SetDefault("narrative.concurrency", n.Concurrency)
	v.SetDefault("narrative.rate_limit", n.RateLimit)
	v.SetDefault("narrative.burst", n.Burst)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.dsn", d.Storage.DSN)

	v.SetDefault("neo4j.enabled", d.Neo4j.Enabled)
	v.SetDefault("neo4j.uri", d.Neo4j.URI)
	v.SetDefault("neo4j.username", d.Neo4j.Username)
	v.SetDefault("neo4j.password", d.Neo4j.Password)
	v.SetDefault("neo4j.database", d.Neo4j.Database)

	s := d.NATS
	v.SetDefault("nats.enabled", s.Enabled)
	v.SetDefault("nats.url", s.URL)
	v.SetDefault("nats.name", s.Name)
	v.SetDefault("nats.max_reconnects", s.MaxReconnects)
	v.SetDefault("nats.reconnect_wait", s.ReconnectWait)
	v.SetDefault("nats.stream_name", s.StreamName)
	v.SetDefault("nats.results_subject", s.ResultsSubject)
	v.SetDefault("nats.runs_subject", s.RunsSubject)
	v.SetDefault("nats.max_age", s.MaxAge)
	v.SetDefault("nats.consumer_name", s.ConsumerName)
	v.SetDefault("nats.ack_wait", s.AckWait)
	v.SetDefault("nats.max_deliver", s.MaxDeliver)
	v.SetDefault("nats.batch_size", s.BatchSize)
	v.SetDefault("nats.fetch_timeout", s.FetchTimeout)

	a := d.API
	v.SetDefault("api.address", a.Address)
	v.SetDefault("api.read_timeout", a.ReadTimeout)
	v.SetDefault("api.write_timeout", a.WriteTimeout)
	v.SetDefault("api.shutdown_timeout", a.ShutdownTimeout)
	v.SetDefault("api.cors_origins", a.CORSOrigins)
	v.SetDefault("api.max_body_bytes", a.MaxBodyBytes)
	v.SetDefault("api.health_timeout", a.HealthTimeout)

	t := d.Telemetry
	v.SetDefault("telemetry.enabled", t.Enabled)
	v.SetDefault("telemetry.endpoint", t.Endpoint)
	v.SetDefault("telemetry.service_name", t.ServiceName)
	v.SetDefault("telemetry.environment", t.Environment)
	v.SetDefault("telemetry.sampling_rate", t.SamplingRate)
	v.SetDefault("telemetry.metric_interval", t.MetricInterval)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}
