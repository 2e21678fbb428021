package cache

import (
	"sync"
	"time"

	"wallet-watcher-engine/internal/infrastructure/clock"
)

// TTLCache is an in-process cache with coarse expiry: once the TTL has
// elapsed since the current generation started, the whole cache is cleared.
// Entries never outlive the TTL.
type TTLCache[K comparable, V any] struct {
	mu         sync.Mutex
	ttl        time.Duration
	clock      clock.Clock
	generation time.Time
	items      map[K]V
}

// NewTTLCache creates a cache with the given TTL and clock
func NewTTLCache[K comparable, V any](ttl time.Duration, clk clock.Clock) *TTLCache[K, V] {
	if clk == nil {
		clk = clock.New()
	}
	return &TTLCache[K, V]{
		ttl:        ttl,
		clock:      clk,
		generation: clk.Now(),
		items:      make(map[K]V),
	}
}

// Get returns the cached value and whether it was present
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()
	v, ok := c.items[key]
	return v, ok
}

// Set stores a value in the current generation
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()
	c.items[key] = value
}

// SetIfAbsent stores a value unless the key is present, reporting whether it stored
func (c *TTLCache[K, V]) SetIfAbsent(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()
	if _, ok := c.items[key]; ok {
		return false
	}
	c.items[key] = value
	return true
}

// Delete removes a key
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len returns the number of live entries
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()
	return len(c.items)
}

// Clear drops every entry and starts a new generation
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	c.items = make(map[K]V)
	c.generation = c.clock.Now()
	c.mu.Unlock()
}

func (c *TTLCache[K, V]) sweepLocked() {
	now := c.clock.Now()
	if now.Sub(c.generation) < c.ttl {
		return
	}
	if len(c.items) > 0 {
		c.items = make(map[K]V)
	}
	c.generation = now
}
