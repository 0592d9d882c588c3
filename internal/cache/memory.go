package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache keeps entries in process memory until their TTL runs out.
// Values are copied in and out so callers never share a buffer.
type MemoryCache struct {
	cache *gocache.Cache

	// serializes Take so one entry is handed out once
	takeMu sync.Mutex
}

// NewMemoryCache creates a cache whose entries live for defaultTTL unless
// Set is given another ttl. Expired entries are purged every cleanupInterval.
func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get returns a copy of the live entry for key
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	val, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	return append([]byte(nil), val.([]byte)...), true
}

// Set stores value for ttl. Zero means the default TTL, NoExpiry keeps it
// until deleted.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	c.cache.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

// Take removes the entry and returns it with the lifetime it had left, so
// a caller that cannot use it can Set it back unchanged. Concurrent Takes
// of one key succeed at most once.
func (c *MemoryCache) Take(key string) ([]byte, time.Duration, bool) {
	c.takeMu.Lock()
	defer c.takeMu.Unlock()

	val, expires, found := c.cache.GetWithExpiration(key)
	if !found {
		return nil, 0, false
	}
	ttl := NoExpiry
	if !expires.IsZero() {
		if ttl = time.Until(expires); ttl <= 0 {
			return nil, 0, false
		}
	}
	c.cache.Delete(key)
	return val.([]byte), ttl, true
}

// Delete drops the entry for key, if any
func (c *MemoryCache) Delete(key string) error {
	c.cache.Delete(key)
	return nil
}
