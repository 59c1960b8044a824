package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryStore implements Store using in-memory storage.
// Useful for testing and single-process scenarios.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]*Record
	closed atomic.Bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*Record),
	}
}

// Put creates or replaces a record unconditionally.
func (s *MemoryStore) Put(ctx context.Context, r *Record) error {
	if err := ValidateKey(r.Key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[r.Key] = r.Clone()
	return nil
}

// Get retrieves a record by key.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	// Return a copy to prevent mutation
	return r.Clone(), nil
}

// Update applies the mutation iff the condition holds. Check and set run
// under one write lock, so concurrent updates serialize per store.
func (s *MemoryStore) Update(ctx context.Context, key string, m Mutation, c Condition) (*Record, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !c.Matches(r) {
		return nil, ErrConditionFailed
	}

	updated := r.Clone()
	m.Apply(updated)
	s.data[key] = updated
	return updated.Clone(), nil
}

// Query returns records whose Value equals value, ordered by UpdateTime.
func (s *MemoryStore) Query(ctx context.Context, value string, order Order, limit int) ([]*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	var matched []*Record
	for _, r := range s.data {
		if r.Value == value {
			matched = append(matched, r.Clone())
		}
	}
	s.mu.RUnlock()

	// Key breaks update-time ties, matching the ordered index encodings
	// of the persistent backends.
	sort.Slice(matched, func(i, j int) bool {
		ti, tj := matched[i].UpdateTime, matched[j].UpdateTime
		if order == NewestFirst {
			if !ti.Equal(tj) {
				return ti.After(tj)
			}
			return matched[i].Key > matched[j].Key
		}
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return matched[i].Key < matched[j].Key
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Scan returns keys starting with prefix.
func (s *MemoryStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Close shuts down the store.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}
