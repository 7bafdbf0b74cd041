package gridcache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/plume-labs/plume/internal/model"
)

// MemoryCache is the fast tier: a concurrent-safe LRU cache with per-entry
// TTL expiration and atomic hit/miss counters. Entries keep their bbox so
// spatial invalidation can run without decoding grid payloads.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	hits       atomic.Int64
	misses     atomic.Int64
}

// MemoryStats contains fast-tier performance counters.
type MemoryStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	TotalBytes int64   `json:"total_bytes"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewMemoryCache creates a MemoryCache holding at most maxEntries grids.
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
	}
}

// Get retrieves a cached entry. Returns nil on miss or expiration.
func (c *MemoryCache) Get(key string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil
	}
	if entry.Expired(time.Now()) {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return nil
	}

	// Move to back (most recently used).
	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return entry
}

// Put stores an entry, evicting the oldest when at capacity. An existing
// key is replaced wholesale.
func (c *MemoryCache) Put(entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[entry.CacheKey]; ok {
		c.entries[entry.CacheKey] = &entry
		c.removeFromOrder(entry.CacheKey)
		c.order = append(c.order, entry.CacheKey)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[entry.CacheKey] = &entry
	c.order = append(c.order, entry.CacheKey)
}

// InvalidateBBox drops every entry whose bbox intersects the given one and
// returns the count removed.
func (c *MemoryCache) InvalidateBBox(bbox model.BBox) int {
	return c.invalidate(func(e *Entry) bool { return e.BBox.Intersects(bbox) })
}

// InvalidateOlderThan drops entries created more than age ago.
func (c *MemoryCache) InvalidateOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)
	return c.invalidate(func(e *Entry) bool { return e.CreatedAt.Before(cutoff) })
}

// InvalidateAll empties the fast tier.
func (c *MemoryCache) InvalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*Entry)
	c.order = nil
	return n
}

func (c *MemoryCache) invalidate(match func(*Entry) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	var remaining []string
	for _, key := range c.order {
		if e, ok := c.entries[key]; ok && match(e) {
			delete(c.entries, key)
			removed++
		} else {
			remaining = append(remaining, key)
		}
	}
	c.order = remaining
	return removed
}

// Stats returns fast-tier counters.
func (c *MemoryCache) Stats() MemoryStats {
	c.mu.Lock()
	entries := len(c.entries)
	var bytes int64
	for _, e := range c.entries {
		bytes += int64(e.SizeBytes)
	}
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return MemoryStats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		TotalBytes: bytes,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

func (c *MemoryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
