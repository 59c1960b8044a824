package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/trackkit/logging"
	"github.com/vinayprograms/trackkit/store"
)

// Tracker coordinates task lifecycle on top of a store backend.
// All methods are safe for concurrent use.
type Tracker struct {
	cfg   *Config
	store store.Store
	log   *logging.Logger

	preStart  func(ctx context.Context, t *Task) error
	postStart func(ctx context.Context, t *Task) error

	now      func() time.Time
	newToken func() string
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *logging.Logger) Option {
	return func(tr *Tracker) {
		tr.log = log.WithComponent("tracker")
	}
}

// WithPreStartHook registers a hook that runs before a task is
// claimed. A hook error vetoes the execution: nothing is written and
// the task is left exactly as it was.
func WithPreStartHook(fn func(ctx context.Context, t *Task) error) Option {
	return func(tr *Tracker) { tr.preStart = fn }
}

// WithPostStartHook registers a hook that runs after the final status
// write. Hook errors are logged, never propagated: by the time the hook
// runs the outcome is already committed.
func WithPostStartHook(fn func(ctx context.Context, t *Task) error) Option {
	return func(tr *Tracker) { tr.postStart = fn }
}

// NewTracker builds a Tracker for one use case.
func NewTracker(cfg *Config, st store.Store, opts ...Option) (*Tracker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if st == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	tr := &Tracker{
		cfg:      cfg,
		store:    st,
		log:      logging.Nop(),
		now:      time.Now,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr, nil
}

// MakeAndSave creates a new task in pending status and writes it
// unconditionally, overwriting any previous task with the same ID.
func (tr *Tracker) MakeAndSave(ctx context.Context, taskID string, data map[string]any) (*Task, error) {
	if taskID == "" {
		return nil, tr.cfg.taskErr(taskID, store.ErrInvalidKey)
	}
	value, err := tr.cfg.MakeValue(tr.cfg.PendingStatus, taskID)
	if err != nil {
		return nil, tr.cfg.taskErr(taskID, err)
	}

	dataJSON, err := marshalData(data)
	if err != nil {
		return nil, tr.cfg.taskErr(taskID, err)
	}
	errorsJSON, _ := json.Marshal(ErrorLog{History: []ErrorEntry{}})

	now := tr.now()
	rec := &store.Record{
		Key:        tr.cfg.MakeKey(taskID),
		Value:      value,
		Status:     tr.cfg.PendingStatus,
		Retry:      0,
		Lock:       store.NotLocked,
		LockTime:   time.Unix(0, 0).UTC(),
		CreateTime: now,
		UpdateTime: now,
		Data:       dataJSON,
		Errors:     errorsJSON,
	}
	if err := tr.store.Put(ctx, rec); err != nil {
		return nil, tr.cfg.taskErr(taskID, err)
	}
	tr.log.Debug("task created", map[string]interface{}{"task_id": taskID})
	return newTaskFromRecord(tr.cfg, rec)
}

// Get fetches a task by ID. Returns ErrTaskNotFound when absent.
func (tr *Tracker) Get(ctx context.Context, taskID string) (*Task, error) {
	rec, err := tr.store.Get(ctx, tr.cfg.MakeKey(taskID))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, tr.cfg.taskErr(taskID, ErrTaskNotFound)
		}
		return nil, tr.cfg.taskErr(taskID, err)
	}
	return newTaskFromRecord(tr.cfg, rec)
}

// Requeue moves a task back to pending and resets its retry counter.
// It refuses to touch a task whose lock is still live.
func (tr *Tracker) Requeue(ctx context.Context, taskID string) (*Task, error) {
	value, err := tr.cfg.MakeValue(tr.cfg.PendingStatus, taskID)
	if err != nil {
		return nil, tr.cfg.taskErr(taskID, err)
	}
	now := tr.now()
	pending := tr.cfg.PendingStatus
	zero := 0
	notLocked := store.NotLocked

	rec, err := tr.store.Update(ctx, tr.cfg.MakeKey(taskID),
		store.Mutation{
			Value:      &value,
			Status:     &pending,
			Retry:      &zero,
			Lock:       &notLocked,
			LockTime:   &now,
			UpdateTime: &now,
		},
		store.Condition{
			Acquire: &store.Acquire{Token: "", StaleBefore: now.Add(-tr.cfg.LockExpire)},
		},
	)
	if err != nil {
		switch err {
		case store.ErrNotFound:
			return nil, tr.cfg.taskErr(taskID, ErrTaskNotFound)
		case store.ErrConditionFailed:
			return nil, tr.cfg.taskErr(taskID, ErrTaskLocked)
		}
		return nil, tr.cfg.taskErr(taskID, err)
	}
	tr.log.Debug("task requeued", map[string]interface{}{"task_id": taskID})
	return newTaskFromRecord(tr.cfg, rec)
}

// CountTasks returns the number of tasks in this use case.
func (tr *Tracker) CountTasks(ctx context.Context) (int, error) {
	keys, err := tr.store.Scan(ctx, tr.keyPrefix())
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// DeleteAllTasks removes every task in this use case. Meant for tests
// and for tearing down finished workloads.
func (tr *Tracker) DeleteAllTasks(ctx context.Context) (int, error) {
	keys, err := tr.store.Scan(ctx, tr.keyPrefix())
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, key := range keys {
		if err := tr.store.Delete(ctx, key); err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	tr.log.Info("tasks deleted", map[string]interface{}{"count": deleted})
	return deleted, nil
}

func (tr *Tracker) keyPrefix() string {
	return tr.cfg.UseCaseID + tr.cfg.Separator
}

func marshalData(data map[string]any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	return raw, nil
}
