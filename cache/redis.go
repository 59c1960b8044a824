package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache on Redis, using its native key expiry.
type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
	closed atomic.Bool
}

// RedisCacheConfig configures a RedisCache.
type RedisCacheConfig struct {
	// Client is the Redis connection to use.
	Client redis.UniversalClient

	// Prefix namespaces every key this cache writes.
	// Default: "trackkit:cache:".
	Prefix string
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis cache: nil client")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "trackkit:cache:"
	}
	return &RedisCache{rdb: cfg.Client, prefix: prefix}, nil
}

// Set stores value with Redis-side expiry.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.rdb.Set(ctx, c.prefix+key, value, ttl).Err()
}

// Get retrieves the value at key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	data, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes the entry at key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.rdb.Del(ctx, c.prefix+key).Err()
}

// ClearExpired is a no-op: Redis expires keys itself.
func (c *RedisCache) ClearExpired(ctx context.Context) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	return 0, nil
}

// Close marks the cache closed. The underlying client is owned by the
// caller and stays open.
func (c *RedisCache) Close() error {
	c.closed.Store(true)
	return nil
}
