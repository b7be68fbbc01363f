package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yairfalse/sift/pkg/domain"
	"github.com/yairfalse/sift/pkg/intelligence/storage"
	"github.com/yairfalse/sift/pkg/intelligence/storage/sqlstore/migrate"
	"github.com/yairfalse/sift/pkg/intelligence/storage/storagetest"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), zaptest.NewLogger(t), SQLite, filepath.Join(t.TempDir(), "sift.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return openSQLite(t) })
}

func TestSQLiteInMemory(t *testing.T) {
	s, err := Open(context.Background(), zaptest.NewLogger(t), SQLite, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateInvestigation(context.Background(), storagetest.Investigation("inv")))
	list, err := s.ListInvestigations(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sift.db")

	s, err := Open(ctx, zaptest.NewLogger(t), SQLite, path)
	require.NoError(t, err)
	require.NoError(t, s.CreateInvestigation(ctx, storagetest.Investigation("inv")))
	require.NoError(t, s.Close())

	// schema application is idempotent
	s, err = Open(ctx, zaptest.NewLogger(t), SQLite, path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.GetInvestigation(ctx, "inv")
	assert.NoError(t, err)
}

func TestLargeInodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	require.NoError(t, s.CreateInvestigation(ctx, storagetest.Investigation("inv")))

	inode := uint64(1<<63 + 42)
	require.NoError(t, s.SaveEvents(ctx, "inv", []domain.ForensicEvent{{ID: "e", FilePath: "/x", Inode: &inode}}))

	events, err := s.ListEvents(ctx, "inv", storage.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Inode)
	assert.Equal(t, inode, *events[0].Inode)
}

func TestPathFilterEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	require.NoError(t, s.CreateInvestigation(ctx, storagetest.Investigation("inv")))
	require.NoError(t, s.SaveEvents(ctx, "inv", []domain.ForensicEvent{
		{ID: "a", FilePath: "/data/100%_done.txt"},
		{ID: "b", FilePath: "/data/100x-done.txt"},
	}))

	events, err := s.ListEvents(ctx, "inv", storage.EventFilter{PathContains: "100%_"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].ID)
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: Postgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &Store{dialect: SQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file:custom.db?mode=ro", sqliteDSN("file:custom.db?mode=ro"))
	assert.Contains(t, sqliteDSN("/var/lib/sift.db"), "journal_mode(WAL)")
	assert.Contains(t, sqliteDSN(":memory:"), "memory")
}

func TestOpenUnknownDialect(t *testing.T) {
	_, err := Open(context.Background(), zaptest.NewLogger(t), Dialect("oracle"), "x")
	assert.Error(t, err)
}

func TestPostgresContract(t *testing.T) {
	dsn := os.Getenv("SIFT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SIFT_TEST_POSTGRES_DSN not set")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		require.NoError(t, migrate.Run(dsn, migrate.Down))
		s, err := Open(context.Background(), zaptest.NewLogger(t), Postgres, dsn)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
