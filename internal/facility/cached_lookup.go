package facility

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bloodlift/bloodlift/internal/geo"
)

// CachedLookupConfig configures CachedLookup.
type CachedLookupConfig struct {
	// Size is the maximum number of cached facilities (default: 512).
	Size int

	// TTL is how long a resolved coordinate is reused (default: 15 minutes).
	TTL time.Duration
}

// CachedLookup memoises successful coordinate lookups. Misses and errors
// are not cached.
type CachedLookup struct {
	next  Lookup
	cache *expirable.LRU[string, geo.Coordinate]
}

var _ Lookup = (*CachedLookup)(nil)

// NewCachedLookup wraps next with a bounded expiring cache.
func NewCachedLookup(next Lookup, cfg CachedLookupConfig) *CachedLookup {
	size := cfg.Size
	if size <= 0 {
		size = 512
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &CachedLookup{
		next:  next,
		cache: expirable.NewLRU[string, geo.Coordinate](size, nil, ttl),
	}
}

// Coordinate returns the cached coordinate or resolves it through next.
func (c *CachedLookup) Coordinate(ctx context.Context, id string) (geo.Coordinate, error) {
	if coord, ok := c.cache.Get(id); ok {
		return coord, nil
	}

	coord, err := c.next.Coordinate(ctx, id)
	if err != nil {
		return geo.Coordinate{}, err
	}

	c.cache.Add(id, coord)
	return coord, nil
}

// Invalidate drops id from the cache.
func (c *CachedLookup) Invalidate(id string) {
	c.cache.Remove(id)
}
