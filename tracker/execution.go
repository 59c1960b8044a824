package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/vinayprograms/trackkit/store"
)

// StartOption configures a single Start call.
type StartOption func(*startOptions)

type startOptions struct {
	moreAllowed   []int
	detailedError bool
}

// WithAllowedStatus widens the set of statuses a worker may claim from.
// By default pending, failed, the configured extra pending statuses and
// in-progress (stale locks only) are claimable.
func WithAllowedStatus(statuses ...int) StartOption {
	return func(o *startOptions) {
		o.moreAllowed = append(o.moreAllowed, statuses...)
	}
}

// WithDetailedError makes a failed acquisition report why it failed
// (locked, succeeded, ignored) at the cost of one extra read, and makes
// recorded failures carry a stack trace.
func WithDetailedError() StartOption {
	return func(o *startOptions) { o.detailedError = true }
}

// Context carries the claimed task through one execution. It stages
// payload changes so that they commit together with the success write
// and are discarded on failure.
type Context struct {
	task *Task
	data map[string]any
}

// Task returns the task as it was claimed.
func (c *Context) Task() *Task { return c.task }

// SetData replaces the staged payload.
func (c *Context) SetData(data map[string]any) { c.data = data }

// MergeData stages a single payload field.
func (c *Context) MergeData(key string, value any) {
	if c.data == nil {
		c.data = map[string]any{}
		for k, v := range c.task.Data {
			c.data[k] = v
		}
	}
	c.data[key] = value
}

// Start claims the task, runs fn, and commits the outcome. The claim is
// a single conditional write: it flips the task to in progress and
// stamps a fresh lock token in one atomic step, so concurrent workers
// racing on the same task see exactly one winner.
//
// When fn returns nil the task is marked succeeded and its staged data
// committed. When fn returns an error (or panics) the retry counter is
// bumped, the error appended to the task's history, and the task marked
// failed, or ignored once the counter passes the retry budget. The
// business error is returned unchanged so callers can inspect it.
func (tr *Tracker) Start(ctx context.Context, taskID string, fn func(*Context) error, opts ...StartOption) error {
	var o startOptions
	for _, opt := range opts {
		opt(&o)
	}

	// The pre-start hook can veto before anything is written; a vetoed
	// task keeps its status, lock and retry counter.
	if tr.preStart != nil {
		task, err := tr.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if err := tr.preStart(ctx, task); err != nil {
			return tr.cfg.taskErr(taskID, fmt.Errorf("pre-start hook: %w", err))
		}
	}

	task, token, err := tr.claim(ctx, taskID, &o)
	if err != nil {
		return err
	}
	tr.log.Debug("task claimed", map[string]interface{}{
		"task_id": taskID, "retry": task.Retry,
	})

	ec := &Context{task: task}

	fnErr := tr.run(ctx, task, token, fn, ec, o.detailedError)

	if fnErr == nil {
		if err := tr.commitSuccess(ctx, task, token, ec.data); err != nil {
			return tr.cfg.taskErr(taskID, err)
		}
		tr.notify(ctx, taskID)
		return nil
	}
	if cerr := tr.commitFailure(ctx, task, token, fnErr, o.detailedError, nil); cerr != nil {
		return tr.cfg.taskErr(taskID, errors.Join(cerr, fnErr))
	}
	tr.notify(ctx, taskID)
	return fnErr
}

// run executes fn, converting a panic into a recorded failure before
// re-panicking.
func (tr *Tracker) run(ctx context.Context, task *Task, token string, fn func(*Context) error, ec *Context, detailed bool) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			stack := debug.Stack()
			panicErr := fmt.Errorf("panic: %v", rec)
			if cerr := tr.commitFailure(ctx, task, token, panicErr, detailed, stack); cerr != nil {
				tr.log.Error("failure commit after panic", map[string]interface{}{
					"task_id": task.TaskID(), "error": cerr.Error(),
				})
			}
			panic(rec)
		}
	}()
	return fn(ec)
}

// claim performs the atomic pending-to-in-progress transition.
//
// InProgress is always in the allowed set: it is how a crashed worker's
// task gets reclaimed. A live in-progress task is still unclaimable,
// because its lock fails the Acquire clause.
func (tr *Tracker) claim(ctx context.Context, taskID string, o *startOptions) (*Task, string, error) {
	allowed := []int{tr.cfg.PendingStatus, tr.cfg.FailedStatus, tr.cfg.InProgressStatus}
	allowed = append(allowed, tr.cfg.MorePendingStatus...)
	allowed = append(allowed, o.moreAllowed...)

	value, err := tr.cfg.MakeValue(tr.cfg.InProgressStatus, taskID)
	if err != nil {
		return nil, "", tr.cfg.taskErr(taskID, err)
	}

	token := tr.newToken()
	now := tr.now()
	inProgress := tr.cfg.InProgressStatus

	rec, err := tr.store.Update(ctx, tr.cfg.MakeKey(taskID),
		store.Mutation{
			Value:      &value,
			Status:     &inProgress,
			Lock:       &token,
			LockTime:   &now,
			UpdateTime: &now,
		},
		store.Condition{
			StatusIn: allowed,
			Acquire:  &store.Acquire{Token: token, StaleBefore: now.Add(-tr.cfg.LockExpire)},
		},
	)
	if err != nil {
		switch err {
		case store.ErrNotFound:
			return nil, "", tr.cfg.taskErr(taskID, ErrTaskNotFound)
		case store.ErrConditionFailed:
			if o.detailedError {
				return nil, "", tr.cfg.taskErr(taskID, tr.classifyClaimFailure(ctx, taskID))
			}
			return nil, "", tr.cfg.taskErr(taskID, ErrTaskNotStartable)
		}
		return nil, "", tr.cfg.taskErr(taskID, err)
	}

	task, err := newTaskFromRecord(tr.cfg, rec)
	if err != nil {
		return nil, "", tr.cfg.taskErr(taskID, err)
	}
	return task, token, nil
}

// classifyClaimFailure reads the task once more to report why the claim
// was rejected. Best effort: the task may have moved again in between.
func (tr *Tracker) classifyClaimFailure(ctx context.Context, taskID string) error {
	rec, err := tr.store.Get(ctx, tr.cfg.MakeKey(taskID))
	if err != nil {
		if err == store.ErrNotFound {
			return ErrTaskNotFound
		}
		return ErrTaskNotStartable
	}
	task, err := newTaskFromRecord(tr.cfg, rec)
	if err != nil {
		return ErrTaskNotStartable
	}
	switch {
	case task.IsLocked("", tr.now()):
		return ErrTaskLocked
	case task.IsSucceeded():
		return ErrTaskAlreadySucceeded
	case task.IsIgnored():
		return ErrTaskIgnored
	default:
		return ErrTaskNotStartable
	}
}

// commitSuccess writes the succeeded state, conditioned on still owning
// the lock. The retry counter is deliberately left alone; Requeue is the
// reset path.
func (tr *Tracker) commitSuccess(ctx context.Context, task *Task, token string, staged map[string]any) error {
	value, err := tr.cfg.MakeValue(tr.cfg.SucceededStatus, task.TaskID())
	if err != nil {
		return err
	}
	now := tr.now()
	succeeded := tr.cfg.SucceededStatus
	notLocked := store.NotLocked

	m := store.Mutation{
		Value:      &value,
		Status:     &succeeded,
		Lock:       &notLocked,
		LockTime:   &now,
		UpdateTime: &now,
	}
	if staged != nil {
		raw, err := json.Marshal(staged)
		if err != nil {
			return fmt.Errorf("encode data: %w", err)
		}
		m.Data = raw
	}

	_, err = tr.store.Update(ctx, task.Key, m, store.Condition{LockIs: &token})
	if err != nil {
		if err == store.ErrConditionFailed {
			return ErrTaskLockLost
		}
		return err
	}
	return nil
}

// commitFailure bumps the retry counter, appends the error to the
// history, and writes failed or ignored depending on the retry budget.
// Staged data changes are discarded.
func (tr *Tracker) commitFailure(ctx context.Context, task *Task, token string, cause error, detailed bool, stack []byte) error {
	newRetry := task.Retry + 1
	status := tr.cfg.FailedStatus
	if newRetry > tr.cfg.MaxRetry {
		status = tr.cfg.IgnoredStatus
	}
	value, err := tr.cfg.MakeValue(status, task.TaskID())
	if err != nil {
		return err
	}

	now := tr.now()
	entry := ErrorEntry{
		NthRetry: newRetry,
		Time:     now,
		Message:  cause.Error(),
	}
	if detailed {
		if stack == nil {
			stack = debug.Stack()
		}
		entry.Stack = trimStack(string(stack), tr.cfg.TracebackLimit)
	}
	log := task.Errors
	log.History = append(log.History, entry)
	errorsJSON, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("encode errors: %w", err)
	}

	notLocked := store.NotLocked
	m := store.Mutation{
		Value:      &value,
		Status:     &status,
		Retry:      &newRetry,
		Lock:       &notLocked,
		LockTime:   &now,
		UpdateTime: &now,
		Errors:     errorsJSON,
	}

	_, err = tr.store.Update(ctx, task.Key, m, store.Condition{LockIs: &token})
	if err != nil {
		if err == store.ErrConditionFailed {
			return ErrTaskLockLost
		}
		return err
	}
	tr.log.Info("task failed", map[string]interface{}{
		"task_id": task.TaskID(), "retry": newRetry,
		"status": tr.cfg.StatusName(status),
	})
	return nil
}

// notify invokes the post-start hook after the final write landed.
func (tr *Tracker) notify(ctx context.Context, taskID string) {
	if tr.postStart == nil {
		return
	}
	task, err := tr.Get(ctx, taskID)
	if err != nil {
		tr.log.Warn("post-start hook read", map[string]interface{}{
			"task_id": taskID, "error": err.Error(),
		})
		return
	}
	if err := tr.postStart(ctx, task); err != nil {
		tr.log.Warn("post-start hook", map[string]interface{}{
			"task_id": taskID, "error": err.Error(),
		})
	}
}

// trimStack keeps at most limit lines of a stack trace. Zero or negative
// keeps everything.
func trimStack(stack string, limit int) string {
	if limit <= 0 {
		return stack
	}
	lines := strings.Split(strings.TrimRight(stack, "\n"), "\n")
	if len(lines) <= limit {
		return stack
	}
	return strings.Join(lines[:limit], "\n") + "\n..."
}
