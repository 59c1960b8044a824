// Package store is the key-value collaborator behind the status tracker.
//
// A Record carries the full persisted schema of one tracked task; the
// Store interface exposes single-item reads and writes plus one atomic
// check-and-set primitive (Update) and an exact-match secondary-index
// query. The tracker builds all of its mutual exclusion on Update: two
// workers racing the same conditional write must never both succeed.
//
// # Backends
//
//   - MemoryStore: mutex-guarded map (testing, single process)
//   - BoltStore: embedded bbolt file with an ordered index bucket
//   - RedisStore: HASH per record, ZSET per index value, Lua check-and-set
//   - PostgresStore: one table, conditional UPDATE ... RETURNING
//
// # Usage
//
//	// Testing: in-memory
//	st := store.NewMemoryStore()
//
//	// Embedded: bbolt
//	st, _ := store.NewBoltStore(store.BoltConfig{Path: "tasks.db"})
//
//	// Conditional write: acquire a lock on a pending task
//	token := uuid.NewString()
//	rec, err := st.Update(ctx, key,
//	    store.Mutation{Lock: &token, Status: &inProgress},
//	    store.Condition{
//	        StatusIn: []int{pending, failed},
//	        Acquire:  &store.Acquire{Token: token, StaleBefore: staleCutoff},
//	    })
//	if errors.Is(err, store.ErrConditionFailed) {
//	    // another worker won the race
//	}
package store
