// Package ristretto implements the cache port using dgraph-io/ristretto as an
// in-process, size-bounded cache.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache wraps a ristretto cache. Every entry costs 1, so maxEntries bounds
// the number of keys held.
type Cache[V any] struct {
	c *ristretto.Cache[string, V]
}

// New creates a ristretto-backed cache holding at most maxEntries keys.
func New[V any](maxEntries int64) (*Cache[V], error) {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters: maxEntries * 10, // ~10x expected items
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache[V]{c: c}, nil
}

// Get retrieves a value from the cache.
func (c *Cache[V]) Get(_ context.Context, key string) (value V, ok bool, err error) {
	value, ok = c.c.Get(key)
	return value, ok, nil
}

// Set stores a value with the given TTL. The write is visible to Get once
// Set returns.
func (c *Cache[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, 1, ttl)
	c.c.Wait()
	return nil
}

// Delete removes a value from the cache.
func (c *Cache[V]) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.c.Clear()
}

// Close shuts down the cache and releases resources.
func (c *Cache[V]) Close() {
	c.c.Close()
}
