package tracker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vinayprograms/trackkit/store"
)

// ErrorEntry is one recorded failure. Entries are appended to a task's
// history, never overwritten.
type ErrorEntry struct {
	// NthRetry is the retry counter value after this failure.
	NthRetry int `json:"nth_retry"`

	// Time is when the failure was recorded.
	Time time.Time `json:"time"`

	// Message is the business error's text.
	Message string `json:"message"`

	// Stack is the captured stack trace, present only when the
	// execution ran with detailed errors.
	Stack string `json:"stack,omitempty"`
}

// ErrorLog is the structured failure record of a task.
type ErrorLog struct {
	History []ErrorEntry `json:"history"`
}

// Task is one tracked unit of work.
type Task struct {
	// Key is the partition key: use case + separator + task ID.
	Key string

	// Value is the secondary-index attribute: use case, zero-padded
	// status, zero-padded shard.
	Value string

	// Status is the current status code.
	Status int

	// Retry counts failed attempts.
	Retry int

	// Lock is store.NotLocked or the current owner's token.
	Lock string

	// LockTime is when Lock was last set.
	LockTime time.Time

	// CreateTime and UpdateTime track creation and last mutation.
	CreateTime time.Time
	UpdateTime time.Time

	// Data is the caller payload.
	Data map[string]any

	// Errors is the failure history.
	Errors ErrorLog

	cfg *Config
}

// newTaskFromRecord decodes a store record into a Task.
func newTaskFromRecord(cfg *Config, r *store.Record) (*Task, error) {
	t := &Task{
		Key:        r.Key,
		Value:      r.Value,
		Status:     r.Status,
		Retry:      r.Retry,
		Lock:       r.Lock,
		LockTime:   r.LockTime,
		CreateTime: r.CreateTime,
		UpdateTime: r.UpdateTime,
		cfg:        cfg,
	}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &t.Data); err != nil {
			return nil, fmt.Errorf("decode data of %s: %w", r.Key, err)
		}
	}
	if len(r.Errors) > 0 {
		if err := json.Unmarshal(r.Errors, &t.Errors); err != nil {
			return nil, fmt.Errorf("decode errors of %s: %w", r.Key, err)
		}
	}
	return t, nil
}

// TaskID returns the task ID part of the key.
func (t *Task) TaskID() string {
	return t.cfg.TaskIDFromKey(t.Key)
}

// UseCaseID returns the use case part of the key.
func (t *Task) UseCaseID() string {
	return t.cfg.UseCaseID
}

// Shard returns the shard number encoded in the index value.
func (t *Task) Shard() int {
	parts := strings.Split(t.Value, t.cfg.Separator)
	shard, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return -1
	}
	return shard
}

// StatusName returns the human readable status name.
func (t *Task) StatusName() string {
	return t.cfg.StatusName(t.Status)
}

// IsPending reports whether the task is waiting to start.
func (t *Task) IsPending() bool { return t.Status == t.cfg.PendingStatus }

// IsInProgress reports whether some worker holds the task.
func (t *Task) IsInProgress() bool { return t.Status == t.cfg.InProgressStatus }

// IsFailed reports whether the last attempt failed.
func (t *Task) IsFailed() bool { return t.Status == t.cfg.FailedStatus }

// IsSucceeded reports whether the task completed.
func (t *Task) IsSucceeded() bool { return t.Status == t.cfg.SucceededStatus }

// IsIgnored reports whether the task exhausted its retries.
func (t *Task) IsIgnored() bool { return t.Status == t.cfg.IgnoredStatus }

// IsLocked reports whether the task is locked at the given instant.
// A lock held by expectedLock does not count, and neither does a lock
// older than the configured expiration.
func (t *Task) IsLocked(expectedLock string, now time.Time) bool {
	if t.Lock == store.NotLocked {
		return false
	}
	if expectedLock != "" && t.Lock == expectedLock {
		return false
	}
	return now.Sub(t.LockTime) < t.cfg.LockExpire
}
