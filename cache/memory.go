package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCache is an in-process TTL cache. TTLs are enforced on read;
// a background sweep reclaims memory from entries nobody reads again.
// Safe for concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	closed  atomic.Bool

	sweepTicker *time.Ticker
	done        chan struct{}
}

type memoryEntry struct {
	value   []byte
	expires time.Time // Zero means no expiry
	updated time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// NewMemoryCache creates an in-memory cache sweeping expired entries
// once per second.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		entries:     make(map[string]*memoryEntry),
		sweepTicker: time.NewTicker(time.Second),
		done:        make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *MemoryCache) sweepLoop() {
	for {
		select {
		case <-c.sweepTicker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *MemoryCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
		}
	}
}

// Set stores a copy of value under key.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	cp := make([]byte, len(value))
	copy(cp, value)

	now := time.Now()
	e := &memoryEntry{value: cp, updated: now}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
	return nil
}

// Get returns a copy of the value at key.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || e.expired(time.Now()) {
		return nil, ErrCacheMiss
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, nil
}

// Delete removes the entry at key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// ClearExpired removes all expired entries now.
func (c *MemoryCache) ClearExpired(ctx context.Context) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	now := time.Now()
	removed := 0

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Close stops the sweep loop and drops all entries.
func (c *MemoryCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.sweepTicker.Stop()
	close(c.done)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*memoryEntry)
	return nil
}
