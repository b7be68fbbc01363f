package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/sift/pkg/intelligence/correlation"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	engine, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, correlation.DefaultConfig(), engine)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Correlation.MinStrength = 2
	cfg.Storage.Driver = "oracle"
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs.Errors, 3)
	assert.Equal(t, "correlation", verrs.Errors[0].Field)
	assert.Equal(t, "storage.driver", verrs.Errors[1].Field)
	assert.Equal(t, "logging.format", verrs.Errors[2].Field)
	assert.Contains(t, err.Error(), "multiple validation errors")
	assert.Len(t, verrs.Suggestions(), 3)
}

func TestValidateNarrative(t *testing.T) {
	cfg := Default()
	cfg.Narrative.Enabled = true
	cfg.Narrative.Host = "not a url"
	cfg.Narrative.Model = " "

	var verrs ValidationErrors
	require.True(t, errors.As(cfg.Validate(), &verrs))
	fields := make([]string, 0, len(verrs.Errors))
	for _, e := range verrs.Errors {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"narrative.host", "narrative.model"}, fields)
}

func TestValidateDefaultLocation(t *testing.T) {
	cfg := Default()
	cfg.Correlation.DefaultLocation = "40.7,-74.0"
	assert.NoError(t, cfg.Validate())

	cfg.Correlation.DefaultLocation = "north"
	assert.Error(t, cfg.Validate())
}

func TestEngineConfigRejectsUnknownPruning(t *testing.T) {
	cfg := Default()
	cfg.Correlation.Pruning = "spatial"
	_, err := cfg.EngineConfig()
	assert.Error(t, err)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := NewLoader().WithSearchPaths([]string{t.TempDir()}).Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoadRequiredFileMissing(t *testing.T) {
	_, err := NewLoader().WithSearchPaths([]string{t.TempDir()}).RequireConfigFile().Load()
	require.Error(t, err)

	var cerr ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "file", cerr.Type)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sift.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
correlation:
  time_window: 2h
  min_strength: 0.5
  weights:
    temporal: 1
    spatial: 0
    content: 0
storage:
  driver: memory
api:
  cors_origins: ["http://localhost:3000"]
`), 0o600))

	t.Setenv("SIFT_CORRELATION_PRUNING", "temporal")
	t.Setenv("SIFT_LOGGING_LEVEL", "debug")

	cfg, err := NewLoader().WithSearchPaths([]string{dir}).RequireConfigFile().Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.Correlation.TimeWindow)
	assert.Equal(t, 0.5, cfg.Correlation.MinStrength)
	assert.Equal(t, WeightsConfig{Temporal: 1}, cfg.Correlation.Weights)
	assert.Equal(t, "temporal", cfg.Correlation.Pruning)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.API.CORSOrigins)
	// untouched keys keep their defaults
	assert.Equal(t, 50.0, cfg.Correlation.MaxDistanceKM)
}

func TestLoadExplicitFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: oracle\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)

	var verrs ValidationErrors
	assert.True(t, errors.As(err, &verrs))
}

func TestNATSValidate(t *testing.T) {
	n := DefaultNATSConfig()
	assert.NoError(t, n.Validate())

	n.Enabled = true
	assert.NoError(t, n.Validate())
	assert.Equal(t, []string{"sift.correlations.>", "sift.runs.>"}, n.Subjects())

	n.BatchSize = 0
	assert.Error(t, n.Validate())
}

func TestTelemetryValidate(t *testing.T) {
	c := DefaultTelemetryConfig()
	assert.NoError(t, c.Validate())

	c.Enabled = true
	assert.NoError(t, c.Validate())

	c.SamplingRate = 1.5
	assert.ErrorContains(t, c.Validate(), "sampling rate")

	c.SamplingRate = 0.5
	c.Endpoint = ""
	assert.ErrorContains(t, c.Validate(), "endpoint")
}
