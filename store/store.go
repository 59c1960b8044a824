package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Common errors.
var (
	// ErrNotFound indicates the record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConditionFailed indicates a conditional update found the record
	// in a state that does not satisfy the condition. The record was not
	// mutated.
	ErrConditionFailed = errors.New("condition failed")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")

	// ErrInvalidKey indicates an empty or malformed record key.
	ErrInvalidKey = errors.New("invalid key")
)

// NotLocked is the sentinel lock value of a record nobody holds.
const NotLocked = "__not_locked__"

// Record is the persisted form of one tracked task. The attribute set is
// the wire schema: every backend stores exactly these fields.
type Record struct {
	// Key is the partition key, a composite of use case and task ID.
	Key string `json:"key"`

	// Value is the secondary-index attribute, a composite of use case,
	// zero-padded status code and zero-padded shard number. Query reads
	// are served by exact match on this string.
	Value string `json:"value"`

	// Status is the numeric status code.
	Status int `json:"status"`

	// Retry counts failed attempts.
	Retry int `json:"retry"`

	// Lock is either NotLocked or an opaque ownership token.
	Lock string `json:"lock"`

	// LockTime is when Lock was last set (including when it was cleared).
	LockTime time.Time `json:"lock_time"`

	// CreateTime is set once at creation.
	CreateTime time.Time `json:"create_time"`

	// UpdateTime is set on every mutation.
	UpdateTime time.Time `json:"update_time"`

	// Data is the caller payload, JSON encoded.
	Data json.RawMessage `json:"data,omitempty"`

	// Errors is the failure history, JSON encoded.
	Errors json.RawMessage `json:"errors,omitempty"`
}

// Clone creates a deep copy of the record.
func (r *Record) Clone() *Record {
	clone := *r
	if r.Data != nil {
		clone.Data = make(json.RawMessage, len(r.Data))
		copy(clone.Data, r.Data)
	}
	if r.Errors != nil {
		clone.Errors = make(json.RawMessage, len(r.Errors))
		copy(clone.Errors, r.Errors)
	}
	return &clone
}

// Mutation describes a partial update. Nil fields are left untouched.
type Mutation struct {
	Value      *string
	Status     *int
	Retry      *int
	Lock       *string
	LockTime   *time.Time
	UpdateTime *time.Time
	Data       json.RawMessage
	Errors     json.RawMessage
}

// Apply writes the non-nil fields onto the record in place.
func (m Mutation) Apply(r *Record) {
	if m.Value != nil {
		r.Value = *m.Value
	}
	if m.Status != nil {
		r.Status = *m.Status
	}
	if m.Retry != nil {
		r.Retry = *m.Retry
	}
	if m.Lock != nil {
		r.Lock = *m.Lock
	}
	if m.LockTime != nil {
		r.LockTime = *m.LockTime
	}
	if m.UpdateTime != nil {
		r.UpdateTime = *m.UpdateTime
	}
	if m.Data != nil {
		r.Data = m.Data
	}
	if m.Errors != nil {
		r.Errors = m.Errors
	}
}

// Acquire is the lock-acquisition clause of a Condition. It holds when the
// record is unlocked, already held by Token, or the current lock is stale.
type Acquire struct {
	// Token is the candidate lock token. A record already locked by this
	// token is acquirable, which makes retried acquisition writes
	// idempotent.
	Token string

	// StaleBefore marks locks set before this instant as expired and
	// eligible for takeover.
	StaleBefore time.Time
}

// Condition restricts a conditional update. Clauses combine with AND; the
// zero value matches any existing record.
type Condition struct {
	// StatusIn, when non-empty, requires the current status to be one of
	// the listed codes.
	StatusIn []int

	// LockIs, when non-nil, requires the current lock to equal this token.
	LockIs *string

	// Acquire, when non-nil, requires the record to be lockable.
	Acquire *Acquire
}

// Matches reports whether the record satisfies the condition. Backends
// that evaluate conditions client-side under their own write lock use
// this; server-side backends reimplement the same predicate.
func (c Condition) Matches(r *Record) bool {
	if len(c.StatusIn) > 0 {
		ok := false
		for _, s := range c.StatusIn {
			if r.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if c.LockIs != nil && r.Lock != *c.LockIs {
		return false
	}
	if c.Acquire != nil {
		free := r.Lock == NotLocked ||
			r.Lock == c.Acquire.Token ||
			r.LockTime.Before(c.Acquire.StaleBefore)
		if !free {
			return false
		}
	}
	return true
}

// Order selects the time direction of a Query.
type Order int

const (
	// OldestFirst returns records in ascending UpdateTime order.
	OldestFirst Order = iota
	// NewestFirst returns records in descending UpdateTime order.
	NewestFirst
)

// Store is the key-value collaborator: single-item reads and writes with
// a check-and-set primitive, plus an exact-match secondary-index query.
// All mutual exclusion in the tracker rests on Update being atomic per
// item; implementations must guarantee that two racing Updates against
// the same key cannot both observe the pre-image.
type Store interface {
	// Put creates or replaces a record unconditionally.
	Put(ctx context.Context, r *Record) error

	// Get retrieves a record by key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) (*Record, error)

	// Update applies the mutation iff the condition holds, as one atomic
	// check-and-set. Returns the post-update record. Returns ErrNotFound
	// if the key does not exist and ErrConditionFailed if it exists but
	// the condition does not hold; in both cases nothing is written.
	Update(ctx context.Context, key string, m Mutation, c Condition) (*Record, error)

	// Query returns records whose Value attribute equals value, ordered
	// by UpdateTime, at most limit of them. A value with no records
	// yields an empty slice.
	Query(ctx context.Context, value string, order Order, limit int) ([]*Record, error)

	// Scan returns the keys of all records whose key starts with prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Delete removes a record. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close shuts down the store and releases resources.
	Close() error
}

// ValidateKey checks if a record key is usable.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}
