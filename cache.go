package relmap

import (
	"context"
	"strconv"
	"time"
)

// Cache is the interface for caching selected entities.
// The redis implementation lives in cache/rediscache.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// CacheKey generates a cache key for a select.
type CacheKey struct {
	Entity     string
	Operation  string
	Predicates string
	OrderBy    string
	Limit      int
	Offset     int
}

// Prefix returns the key prefix shared by all entries of the entity.
func (k CacheKey) Prefix() string {
	return k.Entity + ":"
}

// String returns the string representation of the cache key.
func (k CacheKey) String() string {
	s := k.Prefix() + k.Operation + ":" + k.Predicates + ":" + k.OrderBy
	if k.Limit > 0 || k.Offset > 0 {
		s += ":" + strconv.Itoa(k.Limit) + ":" + strconv.Itoa(k.Offset)
	}
	return s
}
