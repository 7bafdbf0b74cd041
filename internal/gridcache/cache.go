package gridcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/plume-labs/plume/internal/model"
)

// TTLs control entry lifetime per method. Kriging grids are costlier to
// recompute so they live longer by default.
type TTLs struct {
	IDW     time.Duration
	Kriging time.Duration
}

// DefaultTTLs returns the standard method-specific lifetimes.
func DefaultTTLs() TTLs {
	return TTLs{IDW: 15 * time.Minute, Kriging: time.Hour}
}

// ttlFor picks the TTL for a method.
func (t TTLs) ttlFor(method model.Method) time.Duration {
	if method == model.MethodKriging {
		return t.Kriging
	}
	return t.IDW
}

// Cache is the two-tier grid cache. Reads check the fast tier, then the
// durable tier (repopulating the fast tier on a durable hit). Writes land
// in both tiers as whole-entry replacements; last writer wins and no
// cross-tier locking is needed.
type Cache struct {
	mem     *MemoryCache
	durable Durable
	ttls    TTLs
	logger  *zap.Logger
}

// Stats is a combined snapshot of both tiers.
type Stats struct {
	Memory  MemoryStats `json:"memory"`
	Durable StoreStats  `json:"durable"`
}

// New assembles a two-tier cache. durable may be nil, leaving a
// memory-only cache for tools and tests.
func New(mem *MemoryCache, durable Durable, ttls TTLs, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.L()
	}
	if ttls.IDW <= 0 || ttls.Kriging <= 0 {
		def := DefaultTTLs()
		if ttls.IDW <= 0 {
			ttls.IDW = def.IDW
		}
		if ttls.Kriging <= 0 {
			ttls.Kriging = def.Kriging
		}
	}
	return &Cache{mem: mem, durable: durable, ttls: ttls, logger: logger}
}

// Get looks up the grid for a spec. The bool reports hit/miss; a durable
// hit repopulates the fast tier before returning.
func (c *Cache) Get(ctx context.Context, spec model.GridSpec) (*model.Grid, bool) {
	key := Key(spec)

	if entry := c.mem.Get(key); entry != nil {
		return decodeEntry(entry, c.logger)
	}

	if c.durable == nil {
		return nil, false
	}
	entry, err := c.durable.Get(ctx, key)
	if err != nil {
		// A broken durable tier degrades to recomputation, never to failure.
		c.logger.Warn("durable cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if entry == nil {
		return nil, false
	}

	c.mem.Put(*entry)
	return decodeEntry(entry, c.logger)
}

// Set stores a computed grid under its spec's key in both tiers.
func (c *Cache) Set(ctx context.Context, spec model.GridSpec, grid *model.Grid) error {
	data, err := json.Marshal(grid)
	if err != nil {
		return eris.Wrap(err, "gridcache: encode grid")
	}

	now := time.Now().UTC()
	entry := Entry{
		CacheKey:    Key(spec),
		BBox:        spec.BBox,
		ResolutionM: spec.ResolutionM,
		Method:      spec.Method,
		GridData:    data,
		SizeBytes:   len(data),
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.ttls.ttlFor(spec.Method)),
	}

	c.mem.Put(entry)
	if c.durable == nil {
		return nil
	}
	if err := c.durable.Set(ctx, entry); err != nil {
		return eris.Wrap(err, "gridcache: durable set")
	}
	return nil
}

// MaxAge returns the suggested client cache lifetime for a method, for
// HTTP Cache-Control headers.
func (c *Cache) MaxAge(method model.Method) time.Duration {
	return c.ttls.ttlFor(method)
}

// InvalidateBBox removes entries intersecting bbox from both tiers and
// returns the durable-tier count.
func (c *Cache) InvalidateBBox(ctx context.Context, bbox model.BBox) (int, error) {
	c.mem.InvalidateBBox(bbox)
	if c.durable == nil {
		return 0, nil
	}
	return c.durable.InvalidateBBox(ctx, bbox)
}

// InvalidateOlderThan removes entries older than age from both tiers.
func (c *Cache) InvalidateOlderThan(ctx context.Context, age time.Duration) (int, error) {
	c.mem.InvalidateOlderThan(age)
	if c.durable == nil {
		return 0, nil
	}
	return c.durable.InvalidateOlderThan(ctx, age)
}

// InvalidateAll empties both tiers.
func (c *Cache) InvalidateAll(ctx context.Context) (int, error) {
	c.mem.InvalidateAll()
	if c.durable == nil {
		return 0, nil
	}
	return c.durable.InvalidateAll(ctx)
}

// Stats snapshots both tiers. Durable errors leave a zero durable section
// rather than failing the snapshot.
func (c *Cache) Stats(ctx context.Context) Stats {
	s := Stats{Memory: c.mem.Stats()}
	if c.durable != nil {
		ds, err := c.durable.Stats(ctx)
		if err != nil {
			c.logger.Warn("durable cache stats failed", zap.Error(err))
		} else {
			s.Durable = ds
		}
	}
	return s
}

func decodeEntry(entry *Entry, logger *zap.Logger) (*model.Grid, bool) {
	var grid model.Grid
	if err := json.Unmarshal(entry.GridData, &grid); err != nil {
		logger.Warn("corrupt cache entry dropped", zap.String("key", entry.CacheKey), zap.Error(err))
		return nil, false
	}
	grid.Metadata.Stats.CacheHit = true
	return &grid, true
}
