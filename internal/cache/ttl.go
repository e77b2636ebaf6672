// Package cache provides a small in-memory cache with per-entry expiry.
package cache

import (
	"sync"
	"time"
)

// Cache is a key-value store whose entries expire individually.
type Cache[K comparable, V any] interface {
	// Get returns the value and whether it was present and not expired.
	Get(key K) (V, bool)
	// Set stores value until ttl elapses. ttl <= 0 stores nothing.
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	// Len counts entries that have not expired yet.
	Len() int
	// PurgeExpired removes expired entries and returns how many were dropped.
	PurgeExpired() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a mutex-guarded map cache. Expired entries are treated as misses and
// removed lazily on Get or in bulk by PurgeExpired. When maxEntries is
// reached, Set first purges expired entries and then refuses new keys.
type TTL[K comparable, V any] struct {
	mu         sync.RWMutex
	items      map[K]entry[V]
	maxEntries int
}

// NewTTL returns an empty cache. maxEntries <= 0 means unbounded.
func NewTTL[K comparable, V any](maxEntries int) *TTL[K, V] {
	return &TTL[K, V]{
		items:      make(map[K]entry[V]),
		maxEntries: maxEntries,
	}
}

// now is swapped in tests.
var now = time.Now

func (c *TTL[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if !now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, still := c.items[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

func (c *TTL[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.purgeLocked(now())
		if len(c.items) >= c.maxEntries {
			return
		}
	}
	c.items[key] = entry[V]{value: value, expiresAt: now().Add(ttl)}
}

func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

func (c *TTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ts := now()
	n := 0
	for _, e := range c.items {
		if ts.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

func (c *TTL[K, V]) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeLocked(now())
}

func (c *TTL[K, V]) purgeLocked(ts time.Time) int {
	removed := 0
	for k, e := range c.items {
		if !ts.Before(e.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

var _ Cache[string, int] = (*TTL[string, int])(nil)
