package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// newTestRecord builds a pending record for harness tests.
func newTestRecord(key, value string, status int, updateTime time.Time) *Record {
	return &Record{
		Key:        key,
		Value:      value,
		Status:     status,
		Retry:      0,
		Lock:       NotLocked,
		LockTime:   time.Unix(0, 0).UTC(),
		CreateTime: updateTime,
		UpdateTime: updateTime,
		Data:       json.RawMessage(`{"n":1}`),
		Errors:     json.RawMessage(`{"history":[]}`),
	}
}

func intPtr(v int) *int          { return &v }
func strPtr(v string) *string    { return &v }
func timePtr(v time.Time) *time.Time { return &v }

// runStoreTests exercises the Store contract against any backend.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Microsecond)
		rec := newTestRecord("job1____t1", "job1____000____000", 0, now)
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := s.Get(ctx, rec.Key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Key != rec.Key || got.Value != rec.Value || got.Status != rec.Status {
			t.Errorf("got %+v, want %+v", got, rec)
		}
		if got.Lock != NotLocked {
			t.Errorf("expected unlocked sentinel, got %q", got.Lock)
		}
		if string(got.Data) != `{"n":1}` {
			t.Errorf("data round-trip failed: %s", got.Data)
		}
		if !got.UpdateTime.Equal(rec.UpdateTime) {
			t.Errorf("update time: got %v, want %v", got.UpdateTime, rec.UpdateTime)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, "job1____absent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("GetRepeatable", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Microsecond)
		rec := newTestRecord("job1____t1", "job1____000____000", 0, now)
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		a, err := s.Get(ctx, rec.Key)
		if err != nil {
			t.Fatalf("first Get failed: %v", err)
		}
		b, err := s.Get(ctx, rec.Key)
		if err != nil {
			t.Fatalf("second Get failed: %v", err)
		}
		if a.Status != b.Status || a.Lock != b.Lock || a.Retry != b.Retry ||
			!a.UpdateTime.Equal(b.UpdateTime) || string(a.Data) != string(b.Data) {
			t.Errorf("re-read differs: %+v vs %+v", a, b)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Update(ctx, "job1____absent", Mutation{Status: intPtr(3)}, Condition{})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateStatusCondition", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Microsecond)
		rec := newTestRecord("job1____t1", "job1____000____000", 0, now)
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		// Status not in set: must fail without mutating.
		_, err := s.Update(ctx, rec.Key,
			Mutation{Status: intPtr(3)},
			Condition{StatusIn: []int{6, 9}})
		if !errors.Is(err, ErrConditionFailed) {
			t.Fatalf("expected ErrConditionFailed, got %v", err)
		}
		got, _ := s.Get(ctx, rec.Key)
		if got.Status != 0 {
			t.Errorf("losing update mutated the record: status %d", got.Status)
		}

		// Status in set: must succeed.
		updated, err := s.Update(ctx, rec.Key,
			Mutation{Status: intPtr(3)},
			Condition{StatusIn: []int{0, 6}})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if updated.Status != 3 {
			t.Errorf("expected status 3, got %d", updated.Status)
		}
	})

	t.Run("UpdateLockCondition", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Microsecond)
		rec := newTestRecord("job1____t1", "job1____000____000", 0, now)
		rec.Lock = "token-a"
		rec.LockTime = now
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		if _, err := s.Update(ctx, rec.Key,
			Mutation{Lock: strPtr(NotLocked)},
			Condition{LockIs: strPtr("token-b")}); !errors.Is(err, ErrConditionFailed) {
			t.Fatalf("wrong token should fail, got %v", err)
		}

		updated, err := s.Update(ctx, rec.Key,
			Mutation{Lock: strPtr(NotLocked), LockTime: timePtr(now)},
			Condition{LockIs: strPtr("token-a")})
		if err != nil {
			t.Fatalf("holder unlock failed: %v", err)
		}
		if updated.Lock != NotLocked {
			t.Errorf("expected unlocked, got %q", updated.Lock)
		}
	})

	t.Run("UpdateAcquireCondition", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Microsecond)

		// Unlocked record is acquirable.
		rec := newTestRecord("job1____t1", "job1____000____000", 0, now)
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		_, err := s.Update(ctx, rec.Key,
			Mutation{Lock: strPtr("tok-1"), LockTime: timePtr(now)},
			Condition{Acquire: &Acquire{Token: "tok-1", StaleBefore: now.Add(-time.Minute)}})
		if err != nil {
			t.Fatalf("acquire on unlocked record failed: %v", err)
		}

		// Fresh foreign lock is not acquirable.
		_, err = s.Update(ctx, rec.Key,
			Mutation{Lock: strPtr("tok-2"), LockTime: timePtr(now)},
			Condition{Acquire: &Acquire{Token: "tok-2", StaleBefore: now.Add(-time.Minute)}})
		if !errors.Is(err, ErrConditionFailed) {
			t.Fatalf("acquire on held lock should fail, got %v", err)
		}

		// Re-acquire by the holding token is idempotent.
		_, err = s.Update(ctx, rec.Key,
			Mutation{LockTime: timePtr(now)},
			Condition{Acquire: &Acquire{Token: "tok-1", StaleBefore: now.Add(-time.Minute)}})
		if err != nil {
			t.Fatalf("re-acquire by holder failed: %v", err)
		}

		// Stale foreign lock is acquirable.
		_, err = s.Update(ctx, rec.Key,
			Mutation{Lock: strPtr("tok-3"), LockTime: timePtr(now.Add(time.Second))},
			Condition{Acquire: &Acquire{Token: "tok-3", StaleBefore: now.Add(time.Second)}})
		if err != nil {
			t.Fatalf("stale takeover failed: %v", err)
		}
		got, _ := s.Get(ctx, rec.Key)
		if got.Lock != "tok-3" {
			t.Errorf("expected lock tok-3, got %q", got.Lock)
		}
	})

	t.Run("QueryOrderAndLimit", func(t *testing.T) {
		s := newStore(t)
		base := time.Now().UTC().Truncate(time.Microsecond)
		value := "job1____000____000"
		for i := 0; i < 5; i++ {
			rec := newTestRecord(fmt.Sprintf("job1____t%d", i), value, 0, base.Add(time.Duration(i)*time.Second))
			if err := s.Put(ctx, rec); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		// A record under a different value must not appear.
		other := newTestRecord("job1____other", "job1____003____000", 3, base)
		if err := s.Put(ctx, other); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		oldest, err := s.Query(ctx, value, OldestFirst, 0)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(oldest) != 5 {
			t.Fatalf("expected 5 records, got %d", len(oldest))
		}
		for i := 1; i < len(oldest); i++ {
			if oldest[i].UpdateTime.Before(oldest[i-1].UpdateTime) {
				t.Errorf("oldest-first order violated at %d", i)
			}
		}
		if oldest[0].Key != "job1____t0" {
			t.Errorf("expected t0 first, got %s", oldest[0].Key)
		}

		newest, err := s.Query(ctx, value, NewestFirst, 2)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(newest) != 2 {
			t.Fatalf("expected 2 records, got %d", len(newest))
		}
		if newest[0].Key != "job1____t4" || newest[1].Key != "job1____t3" {
			t.Errorf("newest-first order wrong: %s, %s", newest[0].Key, newest[1].Key)
		}
	})

	t.Run("QueryTiesBreakByKey", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Microsecond)
		value := "job1____000____000"
		// Same update time for every record; key decides the order.
		for _, k := range []string{"job1____tc", "job1____ta", "job1____tb"} {
			if err := s.Put(ctx, newTestRecord(k, value, 0, now)); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}

		oldest, err := s.Query(ctx, value, OldestFirst, 0)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(oldest) != 3 {
			t.Fatalf("expected 3 records, got %d", len(oldest))
		}
		for i, want := range []string{"job1____ta", "job1____tb", "job1____tc"} {
			if oldest[i].Key != want {
				t.Errorf("oldest-first tie order: position %d got %s, want %s", i, oldest[i].Key, want)
			}
		}

		newest, err := s.Query(ctx, value, NewestFirst, 0)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		for i, want := range []string{"job1____tc", "job1____tb", "job1____ta"} {
			if newest[i].Key != want {
				t.Errorf("newest-first tie order: position %d got %s, want %s", i, newest[i].Key, want)
			}
		}
	})

	t.Run("QueryEmpty", func(t *testing.T) {
		s := newStore(t)
		recs, err := s.Query(ctx, "job1____099____000", OldestFirst, 10)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(recs) != 0 {
			t.Errorf("expected no records, got %d", len(recs))
		}
	})

	t.Run("IndexFollowsValue", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Microsecond)
		oldValue := "job1____000____000"
		newValue := "job1____003____000"
		rec := newTestRecord("job1____t1", oldValue, 0, now)
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		_, err := s.Update(ctx, rec.Key,
			Mutation{Value: strPtr(newValue), Status: intPtr(3), UpdateTime: timePtr(now.Add(time.Second))},
			Condition{})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		old, _ := s.Query(ctx, oldValue, OldestFirst, 0)
		if len(old) != 0 {
			t.Errorf("record still indexed under old value")
		}
		cur, _ := s.Query(ctx, newValue, OldestFirst, 0)
		if len(cur) != 1 {
			t.Fatalf("record not indexed under new value")
		}
		if cur[0].Status != 3 {
			t.Errorf("expected status 3 under new value, got %d", cur[0].Status)
		}
	})

	t.Run("ScanPrefix", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Microsecond)
		for _, key := range []string{"jobA____t1", "jobA____t2", "jobB____t1"} {
			if err := s.Put(ctx, newTestRecord(key, "jobA____000____000", 0, now)); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		keys, err := s.Scan(ctx, "jobA____")
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		if len(keys) != 2 {
			t.Fatalf("expected 2 keys, got %v", keys)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Microsecond)
		rec := newTestRecord("job1____t1", "job1____000____000", 0, now)
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Delete(ctx, rec.Key); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.Get(ctx, rec.Key); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		// Index entry must go with the record.
		recs, _ := s.Query(ctx, rec.Value, OldestFirst, 0)
		if len(recs) != 0 {
			t.Errorf("deleted record still indexed")
		}
		// Deleting again is not an error.
		if err := s.Delete(ctx, rec.Key); err != nil {
			t.Errorf("second Delete failed: %v", err)
		}
	})

	t.Run("ConcurrentAcquire", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Microsecond)
		rec := newTestRecord("job1____race", "job1____000____000", 0, now)
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		const workers = 8
		var wg sync.WaitGroup
		wins := make(chan string, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				token := fmt.Sprintf("tok-%d", i)
				_, err := s.Update(ctx, rec.Key,
					Mutation{Lock: strPtr(token), Status: intPtr(3), LockTime: timePtr(now)},
					Condition{
						StatusIn: []int{0, 6},
						Acquire:  &Acquire{Token: token, StaleBefore: now.Add(-time.Minute)},
					})
				if err == nil {
					wins <- token
				} else if !errors.Is(err, ErrConditionFailed) {
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		close(wins)

		var winners []string
		for w := range wins {
			winners = append(winners, w)
		}
		if len(winners) != 1 {
			t.Fatalf("expected exactly one winner, got %d", len(winners))
		}
		got, _ := s.Get(ctx, rec.Key)
		if got.Lock != winners[0] {
			t.Errorf("record lock %q does not match winner %q", got.Lock, winners[0])
		}
		if got.Status != 3 {
			t.Errorf("expected status 3, got %d", got.Status)
		}
	})
}
