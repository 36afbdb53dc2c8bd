// Package rediscache implements relmap.Cache on redis.
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	conn := local.New(dom, dbconn, local.WithCache(rediscache.New(rdb), time.Hour))
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/syssam/relmap"
)

// DefaultPrefix is prepended to all keys unless configured otherwise.
const DefaultPrefix = "relmap:"

// scanCount is the COUNT hint of the SCAN calls deleting by prefix.
const scanCount = 256

// Cache stores values in redis under a key prefix.
type Cache struct {
	client redis.UniversalClient
	prefix string
}

var _ relmap.Cache = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache)

// WithPrefix sets the prefix of the keys, isolating caches sharing a
// redis database.
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// New returns a cache over client.
func New(client redis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open connects to the redis server at url, such as
// redis://:password@localhost:6379/0, and returns a cache over it.
func Open(ctx context.Context, url string, opts ...Option) (*Cache, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("rediscache: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(fmt.Errorf("rediscache: ping: %w", err), client.Close())
	}
	return New(client, opts...), nil
}

// Client returns the redis client.
func (c *Cache) Client() redis.UniversalClient { return c.client }

// Get returns the value of key, or nil when it is not cached.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rediscache: get %s: %w", key, err)
	}
	return b, nil
}

// Set stores value under key. A zero ttl keeps it until deleted.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("rediscache: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("rediscache: delete %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes the keys starting with prefix.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) error {
	return c.deleteMatching(ctx, escape(c.prefix+prefix)+"*")
}

// Clear removes all keys of the cache.
func (c *Cache) Clear(ctx context.Context) error {
	return c.deleteMatching(ctx, escape(c.prefix)+"*")
}

// deleteMatching collects the keys matching pattern before unlinking
// them, since deleting while a SCAN cursor is open may skip keys.
func (c *Cache) deleteMatching(ctx context.Context, pattern string) error {
	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("rediscache: scan %s: %w", pattern, err)
	}
	for batch := range slices.Chunk(keys, scanCount) {
		if err := c.client.Unlink(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("rediscache: delete %s: %w", pattern, err)
		}
	}
	return nil
}

// escape quotes the glob characters of a key pattern.
func escape(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			b = append(b, '\\')
		}
		b = append(b, s[i])
	}
	return string(b)
}
