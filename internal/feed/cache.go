package feed

import (
	"sync"
	"time"
)

// cacheEntry is the last-known quote for a token plus its update time.
type cacheEntry struct {
	quote       Quote
	lastUpdated time.Time
}

// Cache holds the per-token last-known quote. It is the single source of
// truth consulted before any network call. Staleness never deletes an
// entry, it only forces a refresh on the next GetPrice.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache creates an empty price cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached quote for a token and whether one exists.
func (c *Cache) Get(token string) (Quote, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[token]
	return e.quote, e.lastUpdated, ok
}

// Fresh returns the cached quote if it was updated within the window.
func (c *Cache) Fresh(token string, window time.Duration) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[token]
	if !ok || time.Since(e.lastUpdated) >= window {
		return Quote{}, false
	}
	return e.quote, true
}

// Put stores a quote for a token, stamping the update time.
func (c *Cache) Put(token string, q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = cacheEntry{quote: q, lastUpdated: time.Now()}
}

// Len returns the number of cached tokens.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
