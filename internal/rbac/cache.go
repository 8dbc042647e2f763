package rbac

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	version     uint64
	generation  uint64
	authorities Authorities
}

// fillTicket records the cache state observed before a resolution started.
type fillTicket struct {
	generation uint64
	epoch      uint64
}

// AuthorityCache memoises resolved authorities per principal id. An entry is only
// served while both the principal version and the cache generation match; the
// version covers the loaded role graph, so a snapshot with a changed role or
// permission misses even without an invalidation. Reads
// take the LRU's shared lock; writes and invalidations are serialised, and a fill
// that raced an invalidation is dropped.
type AuthorityCache struct {
	entries    *lru.Cache[int64, cacheEntry]
	generation atomic.Uint64

	mu     sync.Mutex
	epochs map[int64]uint64
}

// NewAuthorityCache builds a cache bounded to size principals.
func NewAuthorityCache(size int) (*AuthorityCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("rbac: cache size must be positive, got %d", size)
	}
	entries, err := lru.New[int64, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("rbac: new cache: %w", err)
	}
	return &AuthorityCache{entries: entries, epochs: make(map[int64]uint64)}, nil
}

// Get returns cached authorities for the principal snapshot.
func (c *AuthorityCache) Get(p *Principal) (Authorities, bool) {
	if c == nil || p == nil {
		return Authorities{}, false
	}
	entry, ok := c.entries.Peek(p.ID)
	if !ok || entry.version != p.Version() || entry.generation != c.generation.Load() {
		return Authorities{}, false
	}
	return entry.authorities, true
}

func (c *AuthorityCache) begin(principalID int64) fillTicket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fillTicket{generation: c.generation.Load(), epoch: c.epochs[principalID]}
}

// put stores authorities unless the cache was invalidated since begin.
func (c *AuthorityCache) put(p *Principal, t fillTicket, authorities Authorities) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.generation != c.generation.Load() || t.epoch != c.epochs[p.ID] {
		return
	}
	c.entries.Add(p.ID, cacheEntry{version: p.Version(), generation: t.generation, authorities: authorities})
}

// Invalidate drops the entry of one principal.
func (c *AuthorityCache) Invalidate(principalID int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochs[principalID]++
	c.entries.Remove(principalID)
}

// Purge drops every entry, used after role or permission writes.
func (c *AuthorityCache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation.Add(1)
	c.epochs = make(map[int64]uint64)
	c.entries.Purge()
}

// Len returns the number of cached principals.
func (c *AuthorityCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

// AuthorityResolver is implemented by Resolver and CachedResolver.
type AuthorityResolver interface {
	Resolve(p *Principal) Authorities
}

// CachedResolver fronts a Resolver with an AuthorityCache, collapsing concurrent
// resolutions of the same principal snapshot.
type CachedResolver struct {
	resolver *Resolver
	cache    *AuthorityCache
	group    singleflight.Group
}

// NewCachedResolver wraps resolver with cache. A nil cache resolves every call.
func NewCachedResolver(resolver *Resolver, cache *AuthorityCache) *CachedResolver {
	if resolver == nil {
		resolver = NewResolver()
	}
	return &CachedResolver{resolver: resolver, cache: cache}
}

// Resolve returns cached authorities when fresh, otherwise resolves and caches.
func (r *CachedResolver) Resolve(p *Principal) Authorities {
	if r.cache == nil || p == nil {
		return r.resolver.Resolve(p)
	}
	if hit, ok := r.cache.Get(p); ok {
		return hit
	}
	ticket := r.cache.begin(p.ID)
	version := p.Version()
	key := strconv.FormatInt(p.ID, 10) + ":" + strconv.FormatUint(version, 10) + ":" +
		strconv.FormatUint(ticket.generation, 10) + ":" + strconv.FormatUint(ticket.epoch, 10)
	v, _, _ := r.group.Do(key, func() (interface{}, error) {
		resolved := r.resolver.Resolve(p)
		r.cache.put(p, ticket, resolved)
		return resolved, nil
	})
	return v.(Authorities)
}

// Cache exposes the underlying cache for invalidation wiring.
func (r *CachedResolver) Cache() *AuthorityCache {
	return r.cache
}

var (
	_ AuthorityResolver = (*Resolver)(nil)
	_ AuthorityResolver = (*CachedResolver)(nil)
)

// Invalidation is a cache invalidation request. All takes precedence.
type Invalidation struct {
	PrincipalID int64 `json:"principal_id,omitempty"`
	All         bool  `json:"all,omitempty"`
}

// Apply executes the invalidation against the local cache.
func (inv Invalidation) Apply(c *AuthorityCache) {
	switch {
	case inv.All:
		c.Purge()
	case inv.PrincipalID > 0:
		c.Invalidate(inv.PrincipalID)
	}
}

// Valid reports whether the request targets anything.
func (inv Invalidation) Valid() bool {
	return inv.All || inv.PrincipalID > 0
}
