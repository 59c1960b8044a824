package cache

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	// ErrCacheMiss indicates the key is absent or its entry expired.
	ErrCacheMiss = errors.New("cache miss")

	// ErrClosed indicates the cache has been closed.
	ErrClosed = errors.New("cache closed")
)

// Cache is a TTL key-value cache for opaque byte values.
type Cache interface {
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves the value at key. Returns ErrCacheMiss when the key
	// is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the entry at key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// ClearExpired removes expired entries eagerly and returns how many
	// it removed. Backends with native expiry may return zero.
	ClearExpired(ctx context.Context) (int, error)

	// Close releases resources held by the cache.
	Close() error
}
