package config

import (
	"fmt"
	"time"
)

// NATSConfig holds all NATS-related configuration
type NATSConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Connection
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`

	// JetStream
	StreamName     string        `mapstructure:"stream_name"`
	ResultsSubject string        `mapstructure:"results_subject"`
	RunsSubject    string        `mapstructure:"runs_subject"`
	MaxAge         time.Duration `mapstructure:"max_age"`

	// Consumer settings
	ConsumerName string        `mapstructure:"consumer_name"`
	AckWait      time.Duration `mapstructure:"ack_wait"`
	MaxDeliver   int           `mapstructure:"max_deliver"`
	BatchSize    int           `mapstructure:"batch_size"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// DefaultNATSConfig returns production-ready defaults
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Enabled:        false,
		URL:            "nats://localhost:4222",
		Name:           "sift",
		MaxReconnects:  10,
		ReconnectWait:  time.Second,
		StreamName:     "SIFT",
		ResultsSubject: "sift.correlations",
		RunsSubject:    "sift.runs",
		MaxAge:         7 * 24 * time.Hour,
		ConsumerName:   "sift-correlator",
		AckWait:        5 * time.Minute,
		MaxDeliver:     3,
		BatchSize:      10,
		FetchTimeout:   time.Second,
	}
}

// Subjects returns every subject the stream must capture
func (c NATSConfig) Subjects() []string {
	return []string{c.ResultsSubject + ".>", c.RunsSubject + ".>"}
}

// Validate checks if the configuration is valid
func (c NATSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" {
		return fmt.Errorf("NATS URL cannot be empty")
	}
	if c.StreamName == "" {
		return fmt.Errorf("stream name cannot be empty")
	}
	if c.ResultsSubject == "" || c.RunsSubject == "" {
		return fmt.Errorf("results and runs subjects cannot be empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.AckWait <= 0 {
		return fmt.Errorf("ack wait must be positive")
	}
	return nil
}
