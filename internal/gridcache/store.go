package gridcache

import (
	"context"
	"time"

	"github.com/plume-labs/plume/internal/model"
)

// Entry is one cached grid. GridData is the JSON-encoded model.Grid;
// entries are immutable once written and replaced wholesale.
type Entry struct {
	CacheKey    string       `json:"cache_key"`
	BBox        model.BBox   `json:"bbox"`
	ResolutionM int          `json:"resolution_m"`
	Method      model.Method `json:"method"`
	GridData    []byte       `json:"grid_data"`
	SizeBytes   int          `json:"size_bytes"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// StoreStats is a snapshot of a durable tier's contents.
type StoreStats struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
}

// Durable is the persistent cache tier. It survives process and fast-tier
// restarts. Get returns (nil, nil) on miss or expiry.
type Durable interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, entry Entry) error
	InvalidateBBox(ctx context.Context, bbox model.BBox) (int, error)
	InvalidateOlderThan(ctx context.Context, age time.Duration) (int, error)
	InvalidateAll(ctx context.Context) (int, error)
	Stats(ctx context.Context) (StoreStats, error)
	Migrate(ctx context.Context) error
	Close() error
}
