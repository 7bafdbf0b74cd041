package gridcache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plume-labs/plume/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func sqliteEntry(key string, ttl time.Duration) Entry {
	now := time.Now().UTC().Truncate(time.Second)
	return Entry{
		CacheKey:    key,
		BBox:        model.BBox{West: -122.45, South: 37.75, East: -122.30, North: 37.90},
		ResolutionM: 500,
		Method:      model.MethodIDW,
		GridData:    []byte(`{"points":[]}`),
		SizeBytes:   13,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func TestSQLiteStore_SetGet(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	miss, err := store.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, miss)

	want := sqliteEntry("k1", time.Hour)
	require.NoError(t, store.Set(ctx, want))

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.CacheKey, got.CacheKey)
	assert.Equal(t, want.BBox, got.BBox)
	assert.Equal(t, want.ResolutionM, got.ResolutionM)
	assert.Equal(t, want.Method, got.Method)
	assert.Equal(t, want.GridData, got.GridData)
}

func TestSQLiteStore_UpsertReplaces(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, sqliteEntry("k1", time.Hour)))

	updated := sqliteEntry("k1", time.Hour)
	updated.GridData = []byte(`{"points":[1]}`)
	updated.SizeBytes = len(updated.GridData)
	require.NoError(t, store.Set(ctx, updated))

	got, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, updated.GridData, got.GridData)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Entries)
}

func TestSQLiteStore_ExpiredRowsDroppedOnRead(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	expired := sqliteEntry("gone", time.Hour)
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.Set(ctx, expired))

	got, err := store.Get(ctx, "gone")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_InvalidateBBox(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, sqliteEntry("sf", time.Hour)))

	la := sqliteEntry("la", time.Hour)
	la.BBox = model.BBox{West: -118.5, South: 33.9, East: -118.1, North: 34.2}
	require.NoError(t, store.Set(ctx, la))

	n, err := store.InvalidateBBox(ctx, model.BBox{West: -122.50, South: 37.70, East: -122.40, North: 37.80})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, "sf")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.Get(ctx, "la")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestSQLiteStore_InvalidateOlderThan(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	old := sqliteEntry("old", time.Hour)
	old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, store.Set(ctx, old))
	require.NoError(t, store.Set(ctx, sqliteEntry("fresh", time.Hour)))

	n, err := store.InvalidateOlderThan(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestSQLiteStore_InvalidateAllAndStats(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, sqliteEntry("a", time.Hour)))
	require.NoError(t, store.Set(ctx, sqliteEntry("b", time.Hour)))

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Entries)
	assert.Equal(t, int64(26), st.TotalBytes)

	n, err := store.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Entries)
}
