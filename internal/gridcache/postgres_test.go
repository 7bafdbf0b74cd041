package gridcache

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/plume-labs/plume/internal/model"
)

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgres(mock), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	store, mock := newMockPostgres(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS grid_cache").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMiss(t *testing.T) {
	store, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT cache_key").
		WithArgs("absent").
		WillReturnError(pgx.ErrNoRows)

	got, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetHit(t *testing.T) {
	store, mock := newMockPostgres(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT cache_key").
		WithArgs("k1").
		WillReturnRows(pgxmock.NewRows([]string{
			"cache_key", "method", "resolution_m", "west", "south", "east", "north",
			"grid_data", "size_bytes", "created_at", "expires_at",
		}).AddRow(
			"k1", "idw", 500, -122.45, 37.75, -122.30, 37.90,
			[]byte(`{}`), 2, now, now.Add(time.Hour),
		))

	got, err := store.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.MethodIDW, got.Method)
	assert.Equal(t, 500, got.ResolutionM)
	assert.Equal(t, -122.45, got.BBox.West)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Set(t *testing.T) {
	store, mock := newMockPostgres(t)
	now := time.Now().UTC()
	entry := Entry{
		CacheKey:    "k1",
		BBox:        model.BBox{West: -122.45, South: 37.75, East: -122.30, North: 37.90},
		ResolutionM: 500,
		Method:      model.MethodIDW,
		GridData:    []byte(`{}`),
		SizeBytes:   2,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}

	geomBytes, err := bboxEWKB(entry.BBox)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO grid_cache").
		WithArgs(
			"k1", "idw", 500, -122.45, 37.75, -122.30, 37.90,
			geomBytes, []byte(`{}`), 2, now, now.Add(time.Hour),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Set(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InvalidateBBox(t *testing.T) {
	store, mock := newMockPostgres(t)
	mock.ExpectExec("DELETE FROM grid_cache").
		WithArgs(-122.5, 37.7, -122.3, 37.9).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := store.InvalidateBBox(context.Background(), model.BBox{West: -122.5, South: 37.7, East: -122.3, North: 37.9})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InvalidateAll(t *testing.T) {
	store, mock := newMockPostgres(t)
	mock.ExpectExec("DELETE FROM grid_cache").
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := store.InvalidateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	store, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count", "coalesce"}).AddRow(4, int64(2048)))

	st, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, st.Entries)
	assert.Equal(t, int64(2048), st.TotalBytes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBBoxEWKB(t *testing.T) {
	data, err := bboxEWKB(model.BBox{West: -1, South: -2, East: 3, North: 4})
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 4326, g.SRID())

	bounds := g.Bounds()
	assert.Equal(t, -1.0, bounds.Min(0))
	assert.Equal(t, -2.0, bounds.Min(1))
	assert.Equal(t, 3.0, bounds.Max(0))
	assert.Equal(t, 4.0, bounds.Max(1))
}
