package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Common errors.
var (
	// ErrNotFound indicates no blob exists at the key.
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidKey indicates an empty or malformed blob key.
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store is a content-addressed blob store. Keys are caller supplied;
// Put overwrites idempotently, so writing the same content to the same
// key any number of times is safe.
type Store interface {
	// Put writes data at key, replacing any existing blob.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads the blob at key. Returns ErrNotFound when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether a blob is stored at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the blob at key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error
}

// Key derives the content-addressed storage key for one attribute of one
// record. The key is a pure function of the content, so an unchanged
// value always maps to the same key and never needs a second upload.
func Key(prefix, pk, attr string, data []byte) string {
	sum := sha256.Sum256(data)
	parts := make([]string, 0, 4)
	if prefix != "" {
		parts = append(parts, strings.Trim(prefix, "/"))
	}
	parts = append(parts,
		"pk="+pk,
		"attr="+attr,
		"sha256="+hex.EncodeToString(sum[:]),
	)
	return strings.Join(parts, "/")
}

// Action records what happened to one attribute during PutLarge.
type Action struct {
	// Attr is the record attribute name.
	Attr string

	// Key is where the attribute's content lives in the blob store.
	Key string

	// PutExecuted is false when the content was already present, which
	// with content-addressed keys means the attribute value is unchanged.
	PutExecuted bool
}

// PutResult reports the blob writes of one PutLarge call. Keep it
// around until the record write lands: its cleanup methods undo or
// finish the blob side depending on how the record write went.
type PutResult struct {
	Actions []Action
}

// Attributes returns attribute name to blob key, for building the
// record payload after the blobs are in place.
func (r *PutResult) Attributes() map[string]string {
	out := make(map[string]string, len(r.Actions))
	for _, a := range r.Actions {
		out[a.Attr] = a.Key
	}
	return out
}

// CleanupOnCreateFailure removes the blobs written for a record create
// that failed. Blobs that were already present are left alone.
func (r *PutResult) CleanupOnCreateFailure(ctx context.Context, st Store) error {
	return r.deleteExecuted(ctx, st)
}

// CleanupOnUpdateSuccess removes the superseded blobs after a record
// update landed. old maps attribute name to the key the record pointed
// at before the update. Attributes whose content did not change wrote
// no new blob, so their old key is still live and is kept.
func (r *PutResult) CleanupOnUpdateSuccess(ctx context.Context, st Store, old map[string]string) error {
	var errs []error
	for _, a := range r.Actions {
		if !a.PutExecuted {
			continue
		}
		oldKey, ok := old[a.Attr]
		if !ok || oldKey == "" {
			continue
		}
		if err := st.Delete(ctx, oldKey); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", oldKey, err))
		}
	}
	return errors.Join(errs...)
}

// CleanupOnUpdateFailure removes the blobs written for a record update
// that failed, leaving the record's current blobs untouched.
//
// A new key can never collide with the record's current key: if the
// content were unchanged the key would already exist and no put would
// have executed.
func (r *PutResult) CleanupOnUpdateFailure(ctx context.Context, st Store) error {
	return r.deleteExecuted(ctx, st)
}

func (r *PutResult) deleteExecuted(ctx context.Context, st Store) error {
	var errs []error
	for _, a := range r.Actions {
		if !a.PutExecuted {
			continue
		}
		if err := st.Delete(ctx, a.Key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", a.Key, err))
		}
	}
	return errors.Join(errs...)
}

// PutLarge offloads oversized attribute values to the blob store before
// the owning record is written. attrs maps attribute name to raw value.
// Content already present is not re-uploaded.
//
// Write ordering matters for consistency: blobs first, then the record.
// On a failed record write, call the matching cleanup method on the
// returned PutResult.
func PutLarge(ctx context.Context, st Store, prefix, pk string, attrs map[string][]byte) (*PutResult, error) {
	if pk == "" {
		return nil, ErrInvalidKey
	}
	res := &PutResult{Actions: make([]Action, 0, len(attrs))}
	for attr, data := range attrs {
		key := Key(prefix, pk, attr, data)
		ok, err := st.Exists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", key, err)
		}
		executed := false
		if !ok {
			if err := st.Put(ctx, key, data); err != nil {
				return nil, fmt.Errorf("put %s: %w", key, err)
			}
			executed = true
		}
		res.Actions = append(res.Actions, Action{Attr: attr, Key: key, PutExecuted: executed})
	}
	return res, nil
}
