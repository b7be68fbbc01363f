package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yairfalse/sift/pkg/config"
	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/health"
	"github.com/yairfalse/sift/pkg/intelligence/correlation"
	"github.com/yairfalse/sift/pkg/intelligence/storage"
	"github.com/yairfalse/sift/pkg/intelligence/storage/sqlstore"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	return &cfg
}

func TestNewMemoryRuntime(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	assert.Nil(t, a.Narrator)
	assert.IsType(t, &storage.MemoryStorage{}, a.Store)

	inv, err := a.Service.CreateInvestigation(ctx, domain.Investigation{Name: "case"})
	require.NoError(t, err)
	result, err := a.Service.Correlate(ctx, inv.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Correlations)

	_, err = a.Subscriber()
	assert.ErrorContains(t, err, "nats is not enabled")
}

func TestNewWithNarrative(t *testing.T) {
	cfg := memoryConfig()
	cfg.Narrative.Enabled = true

	a, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Narrator)
	assert.Equal(t, "gemma:4b", a.Narrator.Model())
	assert.True(t, a.Engine.Config().Enhancement.Enabled)
}

func TestCloseRunsRegisteredCleanups(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	calls := 0
	a.Register("server", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, calls)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	s, err := OpenStore(ctx, config.StorageConfig{Driver: "sqlite", DSN: ":memory:"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &sqlstore.Store{}, s)
	require.NoError(t, s.Close())

	_, err = OpenStore(ctx, config.StorageConfig{Driver: "mongo"}, logger)
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestNewEngineRequiresNarratorForEnhancement(t *testing.T) {
	cfg := memoryConfig()
	cfg.Narrative.Enabled = true

	_, err := NewEngine(cfg, zaptest.NewLogger(t), nil)
	assert.True(t, errors.Is(err, correlation.ErrNoNarrator))

	narrator, err := NewNarrator(cfg.Narrative, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = NewEngine(cfg, zaptest.NewLogger(t), narrator)
	assert.NoError(t, err)
}

func TestHealthChecks(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Storage = config.StorageConfig{Driver: "sqlite", DSN: ":memory:"}

	a, err := New(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	report := a.Health.Run(ctx)
	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.Contains(t, report.Components, "storage")

	cfg.Narrative.Enabled = true
	cfg.Narrative.Host = "http://127.0.0.1:1"
	b, err := New(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer b.Close()

	report = b.Health.Run(ctx)
	assert.Equal(t, health.StatusDegraded, report.Status)
	assert.Equal(t, health.StatusUnhealthy, report.Components["narrative"].Status)
}
