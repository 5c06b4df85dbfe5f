package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// CachedResponse represents a cached model response
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// GenerateCacheKey generates a cache key from a prompt
func GenerateCacheKey(prompt string) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Cache is a TTL cache of model responses keyed by prompt hash.
type Cache struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

func New(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now}
}

// Load returns the cached response for key if present and not expired.
func (c *Cache) Load(key string) (string, bool) {
	val, ok := c.entries.Load(key)
	if !ok {
		return "", false
	}
	cached := val.(CachedResponse)
	if c.ttl > 0 && c.now().Sub(cached.Timestamp) > c.ttl {
		c.entries.Delete(key)
		return "", false
	}
	return cached.Response, true
}

func (c *Cache) Store(key, response string) {
	c.entries.Store(key, CachedResponse{
		Response:  response,
		Timestamp: c.now(),
	})
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	if c.ttl <= 0 {
		return 0
	}
	now := c.now()
	removed := 0
	c.entries.Range(func(key, val any) bool {
		if now.Sub(val.(CachedResponse).Timestamp) > c.ttl {
			c.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Len reports the number of entries, expired or not.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
