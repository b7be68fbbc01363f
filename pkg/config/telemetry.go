package config

import (
	"fmt"
	"time"
)

// TelemetryConfig configures OTLP export of engine traces and metrics
type TelemetryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Endpoint       string        `mapstructure:"endpoint"` // host:port of an OTLP gRPC collector
	ServiceName    string        `mapstructure:"service_name"`
	Environment    string        `mapstructure:"environment"`
	SamplingRate   float64       `mapstructure:"sampling_rate"`
	MetricInterval time.Duration `mapstructure:"metric_interval"`
}

// DefaultTelemetryConfig exports nothing until enabled
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Endpoint:       "localhost:4317",
		ServiceName:    "sift",
		Environment:    "development",
		SamplingRate:   1.0,
		MetricInterval: 30 * time.Second,
	}
}

// Validate checks the exporter settings when telemetry is enabled
func (c TelemetryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("OTLP endpoint cannot be empty")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be within [0, 1], got %v", c.SamplingRate)
	}
	if c.MetricInterval <= 0 {
		return fmt.Errorf("metric interval must be positive")
	}
	return nil
}
