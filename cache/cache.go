// Package cache is an in-memory key-value store whose entries expire.
package cache

import (
	"sort"
	"sync"
	"time"
)

type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]

	// now is replaceable in tests.
	now func() time.Time
}

type entry[V any] struct {
	value V
	exp   time.Time
}

func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// Set stores value under key until ttl has passed.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{
		value: value,
		exp:   c.now().Add(ttl),
	}
}

// Get returns the value stored under key. The second result is false if
// there is no such entry or it has expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var val V

	e, ok := c.entries[key]
	if !ok {
		return val, false
	}

	// Present and unexpired
	if c.now().Before(e.exp) {
		return e.value, true
	}

	// Expired
	delete(c.entries, key)
	return val, false
}

// Keys returns the sorted keys of all unexpired entries.
func (c *Cache[V]) Keys() []string {
	c.Purge()

	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Purge drops every expired entry.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.exp) {
			delete(c.entries, k)
		}
	}
}
