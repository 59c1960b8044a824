package tracker

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrInvalidConfig indicates the tracker configuration violates one
	// or more constraints. The message lists every violation.
	ErrInvalidConfig = errors.New("invalid tracker config")

	// ErrInvalidStatus indicates a status code not declared in the
	// configuration was used in a query or write.
	ErrInvalidStatus = errors.New("status not declared in config")

	// ErrInvalidShardCount indicates a shard count that is not positive.
	ErrInvalidShardCount = errors.New("shard count must be positive")

	// ErrTaskNotFound indicates the task was never created with
	// MakeAndSave, or was deleted externally.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotStartable indicates the task's status is outside the
	// allowed-start set, or the task is locked. Expected under
	// concurrency; callers skip or retry.
	ErrTaskNotStartable = errors.New("task not ready to start")

	// ErrTaskLocked indicates another worker holds a non-stale lock.
	ErrTaskLocked = errors.New("task locked by another worker")

	// ErrTaskAlreadySucceeded indicates the task already completed.
	ErrTaskAlreadySucceeded = errors.New("task already succeeded")

	// ErrTaskIgnored indicates the task exhausted its retries and was
	// set aside.
	ErrTaskIgnored = errors.New("task ignored after retry exhaustion")

	// ErrTaskLockLost indicates the final status write found the lock
	// taken over. The execution's result was discarded; the takeover
	// worker owns the task now.
	ErrTaskLockLost = errors.New("task lock lost before final write")
)

// TaskError wraps one of the sentinel errors with task identity.
type TaskError struct {
	UseCaseID string
	TaskID    string
	Err       error
}

// Error returns the error message.
func (e *TaskError) Error() string {
	return fmt.Sprintf("Task(use_case_id=%q, task_id=%q): %v", e.UseCaseID, e.TaskID, e.Err)
}

// Unwrap returns the sentinel cause.
func (e *TaskError) Unwrap() error {
	return e.Err
}

func (c *Config) taskErr(taskID string, err error) error {
	return &TaskError{UseCaseID: c.UseCaseID, TaskID: taskID, Err: err}
}
