package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestBoltStore(t *testing.T) Store {
	s, err := NewBoltStore(BoltConfig{Path: filepath.Join(t.TempDir(), "store.db")})
	if err != nil {
		t.Fatalf("NewBoltStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltStore(t *testing.T) {
	runStoreTests(t, newTestBoltStore)
}

func TestBoltStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	now := time.Now().UTC().Truncate(time.Microsecond)

	s, err := NewBoltStore(BoltConfig{Path: path})
	if err != nil {
		t.Fatalf("NewBoltStore failed: %v", err)
	}
	rec := newTestRecord("job1____t1", "job1____000____000", 0, now)
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Records and index entries survive a reopen.
	s2, err := NewBoltStore(BoltConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, rec.Key)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Status != rec.Status || got.Value != rec.Value {
		t.Errorf("record changed across reopen: %+v", got)
	}
	recs, err := s2.Query(ctx, rec.Value, OldestFirst, 0)
	if err != nil {
		t.Fatalf("Query after reopen failed: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("index lost across reopen: %d records", len(recs))
	}
}

func TestBoltStore_EmptyPath(t *testing.T) {
	if _, err := NewBoltStore(BoltConfig{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}
