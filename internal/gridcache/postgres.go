package gridcache

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/plume-labs/plume/internal/model"
)

// Pool is the subset of pgxpool.Pool the Postgres store needs; pgxmock
// satisfies it for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements the durable tier on PostGIS. The entry bbox is
// persisted both as scalar corners (for reconstruction) and as a geometry
// column so spatial invalidation uses the index.
type PostgresStore struct {
	pool Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS grid_cache (
	cache_key    TEXT PRIMARY KEY,
	method       TEXT NOT NULL,
	resolution_m INTEGER NOT NULL,
	west         DOUBLE PRECISION NOT NULL,
	south        DOUBLE PRECISION NOT NULL,
	east         DOUBLE PRECISION NOT NULL,
	north        DOUBLE PRECISION NOT NULL,
	bbox_geom    GEOMETRY(POLYGON, 4326) NOT NULL,
	grid_data    BYTEA NOT NULL,
	size_bytes   INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_grid_cache_expires_at ON grid_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_grid_cache_bbox_geom ON grid_cache USING GIST(bbox_geom);
`

// Migrate creates the cache table and spatial index.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "gridcache: postgres migrate")
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Get returns the entry for key, or (nil, nil) on miss or expiry.
func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := s.pool.QueryRow(ctx, `
		SELECT cache_key, method, resolution_m, west, south, east, north,
		       grid_data, size_bytes, created_at, expires_at
		FROM grid_cache
		WHERE cache_key = $1 AND expires_at > now()`, key,
	).Scan(
		&e.CacheKey, &e.Method, &e.ResolutionM,
		&e.BBox.West, &e.BBox.South, &e.BBox.East, &e.BBox.North,
		&e.GridData, &e.SizeBytes, &e.CreatedAt, &e.ExpiresAt,
	)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "gridcache: postgres get")
	}
	return &e, nil
}

// Set upserts an entry; an existing key is replaced wholesale.
func (s *PostgresStore) Set(ctx context.Context, e Entry) error {
	geomBytes, err := bboxEWKB(e.BBox)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO grid_cache (
			cache_key, method, resolution_m, west, south, east, north,
			bbox_geom, grid_data, size_bytes, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, ST_GeomFromEWKB($8), $9, $10, $11, $12)
		ON CONFLICT (cache_key) DO UPDATE SET
			method       = EXCLUDED.method,
			resolution_m = EXCLUDED.resolution_m,
			west = EXCLUDED.west, south = EXCLUDED.south,
			east = EXCLUDED.east, north = EXCLUDED.north,
			bbox_geom    = EXCLUDED.bbox_geom,
			grid_data    = EXCLUDED.grid_data,
			size_bytes   = EXCLUDED.size_bytes,
			created_at   = EXCLUDED.created_at,
			expires_at   = EXCLUDED.expires_at`,
		e.CacheKey, string(e.Method), e.ResolutionM,
		e.BBox.West, e.BBox.South, e.BBox.East, e.BBox.North,
		geomBytes, e.GridData, e.SizeBytes, e.CreatedAt.UTC(), e.ExpiresAt.UTC(),
	)
	return eris.Wrap(err, "gridcache: postgres set")
}

// InvalidateBBox deletes entries whose geometry intersects the bbox.
func (s *PostgresStore) InvalidateBBox(ctx context.Context, bbox model.BBox) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM grid_cache
		WHERE bbox_geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)`,
		bbox.West, bbox.South, bbox.East, bbox.North,
	)
	if err != nil {
		return 0, eris.Wrap(err, "gridcache: postgres invalidate bbox")
	}
	return int(tag.RowsAffected()), nil
}

// InvalidateOlderThan deletes entries created more than age ago.
func (s *PostgresStore) InvalidateOlderThan(ctx context.Context, age time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM grid_cache WHERE created_at < $1`,
		time.Now().UTC().Add(-age),
	)
	if err != nil {
		return 0, eris.Wrap(err, "gridcache: postgres invalidate by age")
	}
	return int(tag.RowsAffected()), nil
}

// InvalidateAll empties the table.
func (s *PostgresStore) InvalidateAll(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM grid_cache`)
	if err != nil {
		return 0, eris.Wrap(err, "gridcache: postgres invalidate all")
	}
	return int(tag.RowsAffected()), nil
}

// Stats counts live entries and their payload bytes.
func (s *PostgresStore) Stats(ctx context.Context) (StoreStats, error) {
	var st StoreStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM grid_cache WHERE expires_at > now()`,
	).Scan(&st.Entries, &st.TotalBytes)
	if err != nil {
		return StoreStats{}, eris.Wrap(err, "gridcache: postgres stats")
	}
	return st, nil
}

// bboxEWKB encodes a bbox as an EWKB polygon with SRID 4326.
func bboxEWKB(b model.BBox) ([]byte, error) {
	poly := geom.NewPolygonFlat(geom.XY, []float64{
		b.West, b.South,
		b.East, b.South,
		b.East, b.North,
		b.West, b.North,
		b.West, b.South,
	}, []int{10}).SetSRID(4326)

	data, err := ewkb.Marshal(poly, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "gridcache: encode bbox EWKB")
	}
	return data, nil
}
