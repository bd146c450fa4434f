package alerting

import (
	"sync"
	"time"
)

// DedupCache tracks recently raised dedup keys to suppress repeats inside
// the window without a round trip to the store. The store's unique index on
// dedup_key remains the cross-process backstop.
type DedupCache struct {
	mu     sync.RWMutex
	window time.Duration
	seen   map[string]time.Time
}

// NewDedupCache creates a cache with the given suppression window.
func NewDedupCache(window time.Duration) *DedupCache {
	return &DedupCache{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Suppressed reports whether the key was raised within the window.
func (c *DedupCache) Suppressed(key string, now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	expiresAt, ok := c.seen[key]
	if !ok {
		return false
	}
	return now.Before(expiresAt)
}

// Mark records the key as raised at now.
func (c *DedupCache) Mark(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seen[key] = now.Add(c.window)
	if len(c.seen) > 10000 {
		c.pruneLocked(now)
	}
}

// pruneLocked drops expired keys. Must be called with the lock held.
func (c *DedupCache) pruneLocked(now time.Time) {
	for key, expiresAt := range c.seen {
		if !now.Before(expiresAt) {
			delete(c.seen, key)
		}
	}
}

// Clear removes all tracked keys.
func (c *DedupCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seen = make(map[string]time.Time)
}
