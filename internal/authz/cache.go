package authz

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"amana.org/internal/obs"
)

const (
	defaultCacheTTL  = 5 * time.Minute
	defaultCacheSize = 4096
)

type cacheKey struct {
	userID         string
	organizationID string
}

type cacheEntry struct {
	access  Access
	gen     uint64
	expires time.Time
}

// DecisionCache memoizes resolver results per (user, organization) key for a
// staleness window. Invalidation bumps generation counters instead of
// deleting entries, so an in-flight resolution that started before an
// invalidation can never overwrite it with stale data: the entry it stores
// carries the old generation and is dead on arrival.
type DecisionCache struct {
	resolver *Resolver
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	entries  *lru.Cache[cacheKey, cacheEntry]
	global   uint64
	userGens map[string]uint64
	orgGens  map[string]uint64
	pairGens map[cacheKey]uint64
}

// CacheOption configures a DecisionCache.
type CacheOption func(*DecisionCache)

// WithTTL overrides the staleness window.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *DecisionCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCacheClock overrides the time source (useful for tests).
func WithCacheClock(fn func() time.Time) CacheOption {
	return func(c *DecisionCache) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewDecisionCache wraps the resolver with a bounded, TTL'd cache.
func NewDecisionCache(resolver *Resolver, opts ...CacheOption) (*DecisionCache, error) {
	entries, err := lru.New[cacheKey, cacheEntry](defaultCacheSize)
	if err != nil {
		return nil, err
	}
	c := &DecisionCache{
		resolver: resolver,
		ttl:      defaultCacheTTL,
		now:      time.Now,
		entries:  entries,
		userGens: make(map[string]uint64),
		orgGens:  make(map[string]uint64),
		pairGens: make(map[cacheKey]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Resolve returns the cached access for the key when fresh, recomputing
// through the resolver otherwise. A failed recomputation leaves no entry
// behind; the next read retries.
func (c *DecisionCache) Resolve(ctx context.Context, userID, organizationID string) (Access, error) {
	key := cacheKey{userID: userID, organizationID: organizationID}

	c.mu.Lock()
	gen := c.generation(key)
	if entry, ok := c.entries.Get(key); ok && entry.gen == gen && c.now().Before(entry.expires) {
		c.mu.Unlock()
		obs.DecisionCacheHit()
		return entry.access, nil
	}
	c.mu.Unlock()
	obs.DecisionCacheMiss()

	// Concurrent misses may race to recompute; resolution is a pure read,
	// so duplicate work is tolerated and the generation check on store
	// keeps a losing racer from resurrecting invalidated state.
	access, err := c.resolver.Resolve(ctx, userID, organizationID)
	if err != nil {
		return Access{}, err
	}

	c.mu.Lock()
	c.entries.Add(key, cacheEntry{
		access:  access,
		gen:     gen,
		expires: c.now().Add(c.ttl),
	})
	c.mu.Unlock()
	return access, nil
}

// Invalidate forces recomputation for the matching scope: both ids set
// invalidates one key, a single id invalidates every key for that user or
// organization, neither invalidates everything.
func (c *DecisionCache) Invalidate(userID, organizationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case userID != "" && organizationID != "":
		c.pairGens[cacheKey{userID: userID, organizationID: organizationID}]++
	case userID != "":
		c.userGens[userID]++
	case organizationID != "":
		c.orgGens[organizationID]++
	default:
		c.global++
	}
}

// generation is the sum of every counter scoping the key. Counters only
// grow, so any invalidation changes the value. Callers hold c.mu.
func (c *DecisionCache) generation(key cacheKey) uint64 {
	return c.global + c.userGens[key.userID] + c.orgGens[key.organizationID] + c.pairGens[key]
}

// Len reports the number of stored entries, fresh or not.
func (c *DecisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
