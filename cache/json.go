package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// JSONCache stores typed values in any Cache by JSON encoding them.
type JSONCache[T any] struct {
	cache Cache
}

// NewJSONCache wraps a cache with typed JSON serialization.
func NewJSONCache[T any](c Cache) *JSONCache[T] {
	return &JSONCache[T]{cache: c}
}

// Set encodes value and stores it.
func (j *JSONCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	return j.cache.Set(ctx, key, data, ttl)
}

// Get retrieves and decodes the value at key. On a miss the zero value
// is returned along with ErrCacheMiss.
func (j *JSONCache[T]) Get(ctx context.Context, key string) (T, error) {
	var value T
	data, err := j.cache.Get(ctx, key)
	if err != nil {
		return value, err
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("decode cache value: %w", err)
	}
	return value, nil
}

// Delete removes the entry at key.
func (j *JSONCache[T]) Delete(ctx context.Context, key string) error {
	return j.cache.Delete(ctx, key)
}
