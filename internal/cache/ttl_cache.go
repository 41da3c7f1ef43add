package cache

import (
	"sync"
	"time"

	"github.com/smallbiznis/creatorquota/internal/clock"
)

// Cache provides a minimal TTL cache interface for hot-path lookups.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache stores values in-memory with per-entry expiry. It is process
// local; use it only where a single instance owns the data.
type TTLCache[K comparable, V any] struct {
	mu       sync.RWMutex
	items    map[K]cacheEntry[V]
	clock    clock.Clock
	capacity int
}

// NewTTLCache constructs a new TTLCache. capacity <= 0 means unbounded; when
// full, expired entries are dropped first and then an arbitrary entry.
func NewTTLCache[K comparable, V any](clk clock.Clock, capacity int) *TTLCache[K, V] {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &TTLCache[K, V]{
		items:    make(map[K]cacheEntry[V]),
		clock:    clk,
		capacity: capacity,
	}
}

// Get returns a cached value if it exists and has not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	if c == nil {
		var zero V
		return zero, false
	}
	value, _, ok := c.GetAt(key, c.clock.Now())
	return value, ok
}

// GetAt returns the value and its expiry when now is before the expiry.
func (c *TTLCache[K, V]) GetAt(key K, now time.Time) (V, time.Time, bool) {
	var zero V
	if c == nil {
		return zero, time.Time{}, false
	}
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return zero, time.Time{}, false
	}
	if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
		return zero, time.Time{}, false
	}
	return entry.value, entry.expiresAt, true
}

// Set stores a value with the provided TTL.
func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if c == nil {
		return
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.clock.Now().Add(ttl)
	}
	c.SetUntil(key, value, expiresAt)
}

// SetUntil stores a value that expires at expiresAt. A zero time never expires.
func (c *TTLCache[K, V]) SetUntil(key K, value V, expiresAt time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists && c.capacity > 0 && len(c.items) >= c.capacity {
		c.evictLocked(c.clock.Now())
	}
	c.items[key] = cacheEntry[V]{
		value:     value,
		expiresAt: expiresAt,
	}
}

// Delete removes a cached entry.
func (c *TTLCache[K, V]) Delete(key K) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// PurgeExpired removes entries expired at now and returns how many went.
func (c *TTLCache[K, V]) PurgeExpired(now time.Time) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, entry := range c.items {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *TTLCache[K, V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *TTLCache[K, V]) evictLocked(now time.Time) {
	for key, entry := range c.items {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(c.items, key)
		}
	}
	if len(c.items) < c.capacity {
		return
	}
	for key := range c.items {
		delete(c.items, key)
		return
	}
}

// NoopCache always returns cache misses and ignores writes.
type NoopCache[K comparable, V any] struct{}

// Get always returns a miss.
func (NoopCache[K, V]) Get(key K) (V, bool) {
	var zero V
	return zero, false
}

// Set is a no-op.
func (NoopCache[K, V]) Set(key K, value V, ttl time.Duration) {}

// Delete is a no-op.
func (NoopCache[K, V]) Delete(key K) {}
