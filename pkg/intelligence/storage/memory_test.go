package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/intelligence/storage"
	"github.com/yairfalse/sift/pkg/intelligence/storage/storagetest"
	"go.uber.org/zap/zaptest"
)

func TestMemoryStorageContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return storage.NewMemoryStorage(zaptest.NewLogger(t), storage.DefaultMemoryStorageConfig())
	})
}

func TestMemoryStorageEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStorage(zaptest.NewLogger(t), storage.MemoryStorageConfig{MaxInvestigations: 2})

	require.NoError(t, s.CreateInvestigation(ctx, storagetest.Investigation("a")))
	time.Sleep(time.Millisecond)
	require.NoError(t, s.CreateInvestigation(ctx, storagetest.Investigation("b")))
	time.Sleep(time.Millisecond)

	// touching a makes b the eviction candidate
	_, err := s.GetInvestigation(ctx, "a")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	require.NoError(t, s.CreateInvestigation(ctx, storagetest.Investigation("c")))

	_, err = s.GetInvestigation(ctx, "b")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	_, err = s.GetInvestigation(ctx, "a")
	assert.NoError(t, err)

	metrics := s.GetMetrics()
	assert.Equal(t, int64(1), metrics["total_evictions"])
	assert.Equal(t, 2, metrics["investigations_stored"])
}

func TestMemoryStorageCleanup(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStorage(zaptest.NewLogger(t), storage.DefaultMemoryStorageConfig())
	require.NoError(t, s.CreateInvestigation(ctx, storagetest.Investigation("old")))

	require.NoError(t, s.Cleanup(ctx, time.Hour))
	_, err := s.GetInvestigation(ctx, "old")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Cleanup(ctx, time.Millisecond))
	_, err = s.GetInvestigation(ctx, "old")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestEventFilterMatch(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := ts.Add(time.Hour)

	dated := &domain.ForensicEvent{ID: "e", Timestamp: &ts, FilePath: "/Users/Ann/Secret.pdf"}
	undated := &domain.ForensicEvent{ID: "u", FilePath: "/tmp/x"}

	assert.True(t, storage.EventFilter{}.Match(undated))
	assert.False(t, storage.EventFilter{Start: &ts}.Match(undated))
	assert.True(t, storage.EventFilter{Start: &ts, End: &later}.Match(dated))
	assert.False(t, storage.EventFilter{Start: &later}.Match(dated))
	assert.True(t, storage.EventFilter{PathContains: "secret"}.Match(dated))
}
