package cache

import (
	"context"
	"errors"
	"time"
)

// MultiLayer composes caches into layers, fastest first. Reads return
// the first layer's hit; writes and deletes go to every layer.
type MultiLayer struct {
	layers []Cache
}

// NewMultiLayer builds a layered cache. At least one layer is required.
func NewMultiLayer(layers ...Cache) (*MultiLayer, error) {
	if len(layers) == 0 {
		return nil, errors.New("multilayer cache: at least one layer required")
	}
	return &MultiLayer{layers: layers}, nil
}

// Set writes to every layer. The first error aborts; earlier layers
// keep the write.
func (m *MultiLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	for _, layer := range m.layers {
		if err := layer.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the first hit, probing layers in order. Only when every
// layer misses does it report ErrCacheMiss; a layer failure surfaces
// immediately.
func (m *MultiLayer) Get(ctx context.Context, key string) ([]byte, error) {
	for _, layer := range m.layers {
		value, err := layer.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			return nil, err
		}
	}
	return nil, ErrCacheMiss
}

// Delete removes key from every layer.
func (m *MultiLayer) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, layer := range m.layers {
		if err := layer.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClearExpired sweeps every layer.
func (m *MultiLayer) ClearExpired(ctx context.Context) (int, error) {
	total := 0
	for _, layer := range m.layers {
		n, err := layer.ClearExpired(ctx)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Close closes every layer.
func (m *MultiLayer) Close() error {
	var errs []error
	for _, layer := range m.layers {
		if err := layer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
