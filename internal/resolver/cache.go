package resolver

import (
	"sync"
	"time"
)

// identityCache is a TTL cache for positive resolutions. A nil cache is
// valid and caches nothing, so the Resolver needs no enabled-checks.
type identityCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

type cacheEntry struct {
	resolution Resolution
	expires    time.Time
}

func newIdentityCache(ttl time.Duration) *identityCache {
	return &identityCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

func (c *identityCache) get(key string) (Resolution, bool) {
	if c == nil {
		return Resolution{}, false
	}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return Resolution{}, false
	}
	return entry.resolution, true
}

func (c *identityCache) put(key string, res Resolution) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{resolution: res, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *identityCache) flush() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
