package cache

import (
	"sync"
	"time"
)

// Cache is a concurrency-safe key/value store with per-entry expiry.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Len() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type ttlCache[K comparable, V any] struct {
	mu      sync.RWMutex
	items   map[K]entry[V]
	now     func() time.Time
	maxSize int
}

// NewTTLCache returns an in-memory cache. maxSize of zero means unbounded;
// when full, expired entries are swept before an arbitrary entry is evicted.
func NewTTLCache[K comparable, V any](maxSize int) Cache[K, V] {
	return &ttlCache[K, V]{
		items:   make(map[K]entry[V]),
		now:     time.Now,
		maxSize: maxSize,
	}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	if !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt) {
		c.Delete(key)
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set stores value. A non-positive ttl keeps the entry until evicted.
func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists && c.maxSize > 0 && len(c.items) >= c.maxSize {
		c.evictLocked()
	}
	c.items[key] = entry[V]{value: value, expiresAt: expiresAt}
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

func (c *ttlCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *ttlCache[K, V]) evictLocked() {
	now := c.now()
	for key, item := range c.items {
		if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
			delete(c.items, key)
		}
	}
	if len(c.items) < c.maxSize {
		return
	}
	for key := range c.items {
		delete(c.items, key)
		return
	}
}
