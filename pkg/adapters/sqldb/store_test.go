package sqldb_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/coachflow/pkg/adapters/sqldb"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
)

func openMemory(t *testing.T) *sqldb.Store {
	t.Helper()
	store, err := sqldb.Open(context.Background(), sqldb.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	ports.RunConversationStoreContract(t, openMemory(t))
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/sessions.db"
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	store, err := sqldb.Open(ctx, sqldb.SQLite, path)
	require.NoError(t, err)

	s := domain.NewSession("durable", "user-1", "", "values", now)
	s.Status = domain.LifecycleActive
	require.NoError(t, store.Put(ctx, s, 0))
	require.NoError(t, store.Close())

	reopened, err := sqldb.Open(ctx, sqldb.SQLite, path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Get(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
	assert.Equal(t, domain.LifecycleActive, loaded.Status)
}

func TestSQLiteStore_CountByStatus(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, status := range []domain.LifecycleStatus{domain.LifecycleActive, domain.LifecycleActive, domain.LifecyclePaused} {
		s := domain.NewSession(string(rune('a'+i)), "u", "", "values", now)
		s.Status = status
		require.NoError(t, store.Put(ctx, s, 0))
	}

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.LifecycleActive])
	assert.Equal(t, 1, counts[domain.LifecyclePaused])
}

func TestSQLiteStore_ConflictReportsStoredVersion(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	s := domain.NewSession("c", "u", "", "values", now)
	require.NoError(t, store.Put(ctx, s, 0))
	require.NoError(t, store.Put(ctx, s, 1))

	err := store.Put(ctx, s, 1)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.Expected)
	assert.Equal(t, int64(2), conflict.Actual)
}

func TestOpen_UnknownDialect(t *testing.T) {
	_, err := sqldb.Open(context.Background(), sqldb.Dialect("oracle"), "dsn")
	assert.Error(t, err)
}
