package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	boltRecordsBucket = []byte("records")
	boltIndexBucket   = []byte("index")
)

// BoltStore implements Store on an embedded bbolt file. Records live in
// one bucket keyed by record key; a second bucket holds the secondary
// index as composite keys `value \x00 updateTimeNanos \x00 key`, so a
// Query is a single ordered cursor scan over a key prefix. Both buckets
// are maintained inside one writable transaction per mutation, which is
// what makes Update an atomic check-and-set.
type BoltStore struct {
	db     *bolt.DB
	closed atomic.Bool
}

// BoltConfig configures a BoltStore.
type BoltConfig struct {
	// Path is the database file location.
	Path string

	// Timeout bounds the wait for the file lock. Default: 1 second.
	Timeout time.Duration
}

// NewBoltStore opens (creating if needed) a bbolt-backed store.
func NewBoltStore(cfg BoltConfig) (*BoltStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("bolt store: %w: empty path", ErrInvalidKey)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = time.Second
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("bolt store: open %s: %w", cfg.Path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltRecordsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(boltIndexBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt store: init buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// indexKey builds the composite index bucket key. The update time is a
// big-endian uint64 so byte order matches time order; NUL separators keep
// distinct values from prefix-colliding.
func indexKey(value string, updateTime time.Time, key string) []byte {
	buf := make([]byte, 0, len(value)+1+8+1+len(key))
	buf = append(buf, value...)
	buf = append(buf, 0)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(updateTime.UnixNano()))
	buf = append(buf, ts[:]...)
	buf = append(buf, 0)
	buf = append(buf, key...)
	return buf
}

func (s *BoltStore) putLocked(tx *bolt.Tx, r *Record) error {
	records := tx.Bucket(boltRecordsBucket)
	index := tx.Bucket(boltIndexBucket)

	// Drop the old index entry if the record already exists.
	if raw := records.Get([]byte(r.Key)); raw != nil {
		var old Record
		if err := json.Unmarshal(raw, &old); err != nil {
			return fmt.Errorf("decode existing record %s: %w", r.Key, err)
		}
		if err := index.Delete(indexKey(old.Value, old.UpdateTime, old.Key)); err != nil {
			return err
		}
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", r.Key, err)
	}
	if err := records.Put([]byte(r.Key), raw); err != nil {
		return err
	}
	return index.Put(indexKey(r.Value, r.UpdateTime, r.Key), []byte(r.Key))
}

// Put creates or replaces a record unconditionally.
func (s *BoltStore) Put(ctx context.Context, r *Record) error {
	if err := ValidateKey(r.Key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return s.putLocked(tx, r)
	})
}

// Get retrieves a record by key.
func (s *BoltStore) Get(ctx context.Context, key string) (*Record, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltRecordsBucket).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		rec = &Record{}
		return json.Unmarshal(raw, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update applies the mutation iff the condition holds. The read, the
// condition check and both bucket writes share one writable transaction.
func (s *BoltStore) Update(ctx context.Context, key string, m Mutation, c Condition) (*Record, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var rec *Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltRecordsBucket).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		current := &Record{}
		if err := json.Unmarshal(raw, current); err != nil {
			return fmt.Errorf("decode record %s: %w", key, err)
		}
		if !c.Matches(current) {
			return ErrConditionFailed
		}
		updated := current.Clone()
		m.Apply(updated)
		if err := s.putLocked(tx, updated); err != nil {
			return err
		}
		rec = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Query scans the index bucket over the value prefix in the requested
// direction, loading records as it goes.
func (s *BoltStore) Query(ctx context.Context, value string, order Order, limit int) ([]*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	prefix := append([]byte(value), 0)
	var out []*Record

	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(boltRecordsBucket)
		cur := tx.Bucket(boltIndexBucket).Cursor()

		load := func(recKey []byte) error {
			raw := records.Get(recKey)
			if raw == nil {
				// Index entry with no record means a torn write; surface it.
				return fmt.Errorf("index entry for missing record %q", recKey)
			}
			rec := &Record{}
			if err := json.Unmarshal(raw, rec); err != nil {
				return fmt.Errorf("decode record %q: %w", recKey, err)
			}
			out = append(out, rec)
			return nil
		}

		if order == OldestFirst {
			for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
				if err := load(v); err != nil {
					return err
				}
				if limit > 0 && len(out) >= limit {
					return nil
				}
			}
			return nil
		}

		// NewestFirst: seek past the prefix range, then walk backwards.
		end := append([]byte(value), 1)
		k, v := cur.Seek(end)
		if k == nil {
			k, v = cur.Last()
		} else {
			k, v = cur.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Prev() {
			if err := load(v); err != nil {
				return err
			}
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Scan returns keys starting with prefix.
func (s *BoltStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(boltRecordsBucket).Cursor()
		p := []byte(prefix)
		for k, _ := cur.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = cur.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Delete removes a record and its index entry.
func (s *BoltStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(boltRecordsBucket)
		raw := records.Get([]byte(key))
		if raw == nil {
			return nil
		}
		var old Record
		if err := json.Unmarshal(raw, &old); err != nil {
			return fmt.Errorf("decode record %s: %w", key, err)
		}
		if err := tx.Bucket(boltIndexBucket).Delete(indexKey(old.Value, old.UpdateTime, old.Key)); err != nil {
			return err
		}
		return records.Delete([]byte(key))
	})
}

// Close shuts down the store.
func (s *BoltStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
