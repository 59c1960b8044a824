//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// getRedisAddr returns the Redis address from environment or default.
func getRedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// newTestRedisStore creates a RedisStore under a unique key prefix.
func newTestRedisStore(t *testing.T) Store {
	rdb := redis.NewClient(&redis.Options{Addr: getRedisAddr()})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	prefix := fmt.Sprintf("trackkit-test:%d:", time.Now().UnixNano())
	s, err := NewRedisStore(RedisConfig{Client: rdb, Prefix: prefix})
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}

	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		iter := rdb.Scan(cleanupCtx, 0, prefix+"*", 256).Iterator()
		for iter.Next(cleanupCtx) {
			rdb.Del(cleanupCtx, iter.Val())
		}
		s.Close()
		rdb.Close()
	})
	return s
}

func TestRedisStore(t *testing.T) {
	runStoreTests(t, newTestRedisStore)
}

func TestRedisStore_NilClient(t *testing.T) {
	if _, err := NewRedisStore(RedisConfig{}); err == nil {
		t.Fatal("expected error for nil client")
	}
}
