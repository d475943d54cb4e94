// internal/permissions/cache.go
package permissions

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL bounds permission staleness. Role changes are rare
	// administrative actions, so minutes of staleness is acceptable.
	DefaultTTL = 5 * time.Minute

	defaultMaxEntries = 4096
)

// Cache memoizes permission snapshots per user id with a fixed TTL and
// explicit invalidation. Concurrent misses for the same user coalesce into a
// single resolver call. Construct one per process and inject it; there is no
// package-level instance.
type Cache struct {
	resolver *Resolver
	entries  *lru.LRU[string, *Snapshot]
	flight   singleflight.Group
}

// NewCache builds a cache over resolver. ttl <= 0 selects DefaultTTL.
func NewCache(resolver *Resolver, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		resolver: resolver,
		entries:  lru.NewLRU[string, *Snapshot](defaultMaxEntries, nil, ttl),
	}
}

// Get returns the live snapshot for userID, resolving and storing a fresh
// one when none exists. The returned snapshot is shared; callers must not
// mutate it.
func (c *Cache) Get(ctx context.Context, userID string) (*Snapshot, error) {
	if snap, ok := c.entries.Get(userID); ok {
		cacheHits.Inc()
		return snap, nil
	}
	cacheMisses.Inc()

	v, err, _ := c.flight.Do(userID, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have stored
		// a snapshot between our miss and winning the flight.
		if snap, ok := c.entries.Get(userID); ok {
			return snap, nil
		}
		snap, err := c.resolver.Resolve(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.entries.Add(userID, snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Invalidate discards userID's snapshot; the next Get resolves fresh.
func (c *Cache) Invalidate(userID string) {
	c.entries.Remove(userID)
	c.flight.Forget(userID)
}

// InvalidateAll discards every snapshot.
func (c *Cache) InvalidateAll() {
	c.entries.Purge()
}
