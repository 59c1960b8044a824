package tracker

import (
	"context"
	"fmt"
	"sort"

	"github.com/vinayprograms/trackkit/store"
)

// ShardQueryError reports a failed read of one shard during a
// status query. The iterator stops at the first shard failure.
type ShardQueryError struct {
	Status int
	Shard  int
	Err    error
}

func (e *ShardQueryError) Error() string {
	return fmt.Sprintf("query status %d shard %d: %v", e.Status, e.Shard, e.Err)
}

func (e *ShardQueryError) Unwrap() error { return e.Err }

// Iterator walks query results one task at a time. Statuses are read
// lazily: a status's shards are only fetched once the iterator reaches
// it. Usage follows the rows pattern:
//
//	it, err := tr.QueryByStatus(ctx, statuses, tracker.OldestFirst, 0)
//	for it.Next() {
//		task := it.Task()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	tr      *Tracker
	ctx     context.Context
	order   store.Order
	limit   int
	pending []int

	buf     []*Task
	pos     int
	yielded int
	cur     *Task
	err     error
	done    bool
}

// Next advances to the next task. It returns false when the results are
// exhausted, the limit is reached, or a shard read failed.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if it.limit > 0 && it.yielded >= it.limit {
		it.done = true
		return false
	}
	for it.pos >= len(it.buf) {
		if len(it.pending) == 0 {
			it.done = true
			return false
		}
		status := it.pending[0]
		it.pending = it.pending[1:]
		if err := it.fetchStatus(status); err != nil {
			it.err = err
			return false
		}
	}
	it.cur = it.buf[it.pos]
	it.pos++
	it.yielded++
	return true
}

// Task returns the task at the current position. Only valid after a
// true Next.
func (it *Iterator) Task() *Task { return it.cur }

// Err returns the first error hit while iterating.
func (it *Iterator) Err() error { return it.err }

// fetchStatus reads every shard of one status and merges the results
// into update-time order.
func (it *Iterator) fetchStatus(status int) error {
	shards, err := it.tr.cfg.ShardCount(status)
	if err != nil {
		return err
	}

	remaining := 0
	if it.limit > 0 {
		remaining = it.limit - it.yielded
	}

	var merged []*Task
	for shard := 0; shard < shards; shard++ {
		value := it.tr.cfg.valueForShard(status, shard)
		recs, err := it.tr.store.Query(it.ctx, value, it.order, remaining)
		if err != nil {
			return &ShardQueryError{Status: status, Shard: shard, Err: err}
		}
		for _, rec := range recs {
			task, err := newTaskFromRecord(it.tr.cfg, rec)
			if err != nil {
				return &ShardQueryError{Status: status, Shard: shard, Err: err}
			}
			merged = append(merged, task)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if it.order == store.NewestFirst {
			return merged[i].UpdateTime.After(merged[j].UpdateTime)
		}
		return merged[i].UpdateTime.Before(merged[j].UpdateTime)
	})
	if remaining > 0 && len(merged) > remaining {
		merged = merged[:remaining]
	}

	it.buf = merged
	it.pos = 0
	return nil
}

// Orderings re-exported for callers that only import this package.
const (
	OldestFirst = store.OldestFirst
	NewestFirst = store.NewestFirst
)

// QueryByStatus returns an iterator over tasks in any of the given
// statuses, merged across shards into update-time order. A zero limit
// means unlimited; a positive limit caps the total across all statuses.
// Undeclared status codes are rejected up front.
func (tr *Tracker) QueryByStatus(ctx context.Context, statuses []int, order store.Order, limit int) (*Iterator, error) {
	for _, s := range statuses {
		if _, err := tr.cfg.ShardCount(s); err != nil {
			return nil, err
		}
	}
	return &Iterator{
		tr:      tr,
		ctx:     ctx,
		order:   order,
		limit:   limit,
		pending: append([]int(nil), statuses...),
	}, nil
}

// QueryForUnfinished returns an iterator over tasks that still need
// work: pending, the extra pending statuses, and failed.
func (tr *Tracker) QueryForUnfinished(ctx context.Context, order store.Order, limit int) (*Iterator, error) {
	statuses := []int{tr.cfg.PendingStatus}
	statuses = append(statuses, tr.cfg.MorePendingStatus...)
	statuses = append(statuses, tr.cfg.FailedStatus)
	return tr.QueryByStatus(ctx, statuses, order, limit)
}
