// Package tracker provides concurrency-safe status tracking for
// batch-style workloads on top of a store backend.
//
// Each task carries a status code, a retry counter, an optimistic lock
// and a structured error history. Key features:
//
//   - Atomic claim: pending to in-progress is a single conditional write
//   - Lock tokens with expiration, so crashed workers lose their claim
//   - Retry accounting with an ignore threshold for poisoned tasks
//   - Sharded secondary index for hot-partition-free status queries
//
// # Basic Usage
//
// Build a config for one use case and a tracker on a store backend:
//
//	cfg, err := tracker.NewConfig(tracker.Config{
//	    UseCaseID: "document_etl",
//	    MaxRetry:  3,
//	})
//	tr, err := tracker.NewTracker(cfg, store.NewMemoryStore())
//
//	// Producer side: create work.
//	task, err := tr.MakeAndSave(ctx, "doc-001", map[string]any{"url": u})
//
//	// Worker side: claim, run, commit in one call.
//	err = tr.Start(ctx, "doc-001", func(ec *tracker.Context) error {
//	    ec.MergeData("checksum", sum)
//	    return process(ec.Task())
//	})
//
// # Task Lifecycle
//
// Tasks move through the following states:
//
//	Pending → InProgress → Succeeded
//	              ↓
//	           Failed → (retry) → InProgress
//	              ↓
//	           Ignored (retry budget exhausted)
//
// Start claims from pending, failed and any configured extra pending
// statuses, plus in-progress tasks whose lock has expired (crashed
// workers). Requeue moves a task back to pending and resets its retry
// counter; nothing else resets it.
//
// # Locking
//
// A claim stamps a fresh opaque token into the task's lock attribute,
// conditioned on the task being unlocked or the current lock having
// expired. The final status write is conditioned on the token still
// being in place, so a worker that lost its lock to a takeover gets
// ErrTaskLockLost instead of silently clobbering the new owner's work.
//
// # Queries
//
// Status reads fan out across the status's shards and merge into
// update-time order:
//
//	it, err := tr.QueryForUnfinished(ctx, tracker.OldestFirst, 100)
//	for it.Next() {
//	    task := it.Task()
//	}
//	if err := it.Err(); err != nil { ... }
//
// # Thread Safety
//
// Tracker is safe for concurrent use. Mutual exclusion between workers
// rests entirely on the store's conditional writes; no external lock
// service is involved.
package tracker
