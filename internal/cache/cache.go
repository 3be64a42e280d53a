// Package cache is a small in-process TTL cache used in front of slow
// read-only sources such as the event calendar.
package cache

import (
	"sync"
	"time"

	"github.com/robertarktes/rink-registrations/internal/clock"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	clock      clock.Clock
	items      map[K]entry[V]
}

// New returns a cache whose entries live for ttl. maxEntries <= 0 means unbounded.
func New[K comparable, V any](ttl time.Duration, maxEntries int, clk clock.Clock) *Cache[K, V] {
	if clk == nil {
		clk = clock.System{}
	}
	return &Cache[K, V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      clk,
		items:      make(map[K]entry[V]),
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.clock.Now().Before(e.expires) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if _, exists := c.items[key]; !exists && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.items[key] = entry[V]{value: value, expires: now.Add(c.ttl)}
}

// SetIfAbsent stores value unless a live entry exists, and reports whether it stored.
func (c *Cache[K, V]) SetIfAbsent(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if e, ok := c.items[key]; ok && now.Before(e.expires) {
		return false
	}
	if c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.items[key] = entry[V]{value: value, expires: now.Add(c.ttl)}
	return true
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// evictLocked drops expired entries, then the entry closest to expiry if still full.
func (c *Cache[K, V]) evictLocked(now time.Time) {
	var (
		oldestKey K
		oldest    time.Time
		found     bool
	)
	for k, e := range c.items {
		if !now.Before(e.expires) {
			delete(c.items, k)
			continue
		}
		if !found || e.expires.Before(oldest) {
			oldestKey, oldest, found = k, e.expires, true
		}
	}
	if len(c.items) >= c.maxEntries && found {
		delete(c.items, oldestKey)
	}
}
