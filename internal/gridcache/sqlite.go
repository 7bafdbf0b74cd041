package gridcache

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/plume-labs/plume/internal/model"
)

// SQLiteStore implements the durable tier using modernc.org/sqlite. Suited
// to single-node deployments; the Postgres store covers shared ones.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "gridcache: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "gridcache: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS grid_cache (
	cache_key    TEXT PRIMARY KEY,
	method       TEXT NOT NULL,
	resolution_m INTEGER NOT NULL,
	west         REAL NOT NULL,
	south        REAL NOT NULL,
	east         REAL NOT NULL,
	north        REAL NOT NULL,
	grid_data    BLOB NOT NULL,
	size_bytes   INTEGER NOT NULL,
	created_at   DATETIME NOT NULL,
	expires_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_grid_cache_expires_at ON grid_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_grid_cache_bbox ON grid_cache(west, south, east, north);
`

// Migrate creates the cache table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "gridcache: sqlite migrate")
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the entry for key, or (nil, nil) on miss or expiry. Expired
// rows are deleted on read.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := s.db.QueryRowContext(ctx, `
		SELECT cache_key, method, resolution_m, west, south, east, north,
		       grid_data, size_bytes, created_at, expires_at
		FROM grid_cache WHERE cache_key = ?`, key,
	).Scan(
		&e.CacheKey, &e.Method, &e.ResolutionM,
		&e.BBox.West, &e.BBox.South, &e.BBox.East, &e.BBox.North,
		&e.GridData, &e.SizeBytes, &e.CreatedAt, &e.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "gridcache: sqlite get")
	}
	if e.Expired(time.Now()) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM grid_cache WHERE cache_key = ?`, key)
		return nil, nil
	}
	return &e, nil
}

// Set upserts an entry; an existing key is replaced wholesale.
func (s *SQLiteStore) Set(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grid_cache (
			cache_key, method, resolution_m, west, south, east, north,
			grid_data, size_bytes, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			method       = excluded.method,
			resolution_m = excluded.resolution_m,
			west = excluded.west, south = excluded.south,
			east = excluded.east, north = excluded.north,
			grid_data    = excluded.grid_data,
			size_bytes   = excluded.size_bytes,
			created_at   = excluded.created_at,
			expires_at   = excluded.expires_at`,
		e.CacheKey, string(e.Method), e.ResolutionM,
		e.BBox.West, e.BBox.South, e.BBox.East, e.BBox.North,
		e.GridData, e.SizeBytes, e.CreatedAt.UTC(), e.ExpiresAt.UTC(),
	)
	return eris.Wrap(err, "gridcache: sqlite set")
}

// InvalidateBBox deletes entries whose bbox intersects the given one.
func (s *SQLiteStore) InvalidateBBox(ctx context.Context, bbox model.BBox) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM grid_cache
		WHERE west <= ? AND east >= ? AND south <= ? AND north >= ?`,
		bbox.East, bbox.West, bbox.North, bbox.South,
	)
	if err != nil {
		return 0, eris.Wrap(err, "gridcache: sqlite invalidate bbox")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// InvalidateOlderThan deletes entries created more than age ago.
func (s *SQLiteStore) InvalidateOlderThan(ctx context.Context, age time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM grid_cache WHERE created_at < ?`,
		time.Now().UTC().Add(-age),
	)
	if err != nil {
		return 0, eris.Wrap(err, "gridcache: sqlite invalidate by age")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// InvalidateAll empties the table.
func (s *SQLiteStore) InvalidateAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM grid_cache`)
	if err != nil {
		return 0, eris.Wrap(err, "gridcache: sqlite invalidate all")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats counts live (unexpired) entries and their payload bytes.
func (s *SQLiteStore) Stats(ctx context.Context) (StoreStats, error) {
	var st StoreStats
	var bytes sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM grid_cache WHERE expires_at > ?`, time.Now().UTC(),
	).Scan(&st.Entries, &bytes)
	if err != nil {
		return StoreStats{}, eris.Wrap(err, "gridcache: sqlite stats")
	}
	st.TotalBytes = bytes.Int64
	return st, nil
}
