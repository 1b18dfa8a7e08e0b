// Package natskv implements the cache port on a NATS JetStream KV bucket, so
// several buildnotify replicas share one channel directory.
package natskv

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/buildnotify/internal/port/cache"
)

var _ cache.Cache[string] = (*Cache)(nil)

// Cache stores string values in a JetStream KeyValue bucket.
type Cache struct {
	kv jetstream.KeyValue
}

// New creates a NATS KV-backed cache.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// Get returns the value for key. A missing or deleted key is a miss.
func (c *Cache) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(entry.Value()), true, nil
}

// Set stores value under key. Expiry is the bucket TTL.
func (c *Cache) Set(ctx context.Context, key, value string, _ time.Duration) error {
	_, err := c.kv.Put(ctx, key, []byte(value))
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
