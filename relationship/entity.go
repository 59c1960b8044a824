package relationship

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/trackkit/store"
)

// Entity is one stored entity.
type Entity struct {
	ID   string
	Type string

	// Name is the human-friendly display name.
	Name string

	// Deleted marks a soft-deleted entity. The record stays in the
	// store and still shows up in ListEntities.
	Deleted bool

	CreateTime time.Time
	UpdateTime time.Time
}

// entityData is the JSON payload of an entity record.
type entityData struct {
	Name    string `json:"name,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// NewEntity creates an entity and writes it to the store. Returns
// ErrEntityExists if an entity of the same type and ID is already
// present. The existence check and the write are two store calls, so
// racing creators of the same ID can both pass the check; the last
// write wins.
func (g *Graph) NewEntity(ctx context.Context, t EntityType, id, name string) (*Entity, error) {
	if err := validateTypeName(t.Name); err != nil {
		return nil, err
	}
	if err := validateEntityID(id); err != nil {
		return nil, err
	}

	key := entityKey(t.Name, id)
	if _, err := g.store.Get(ctx, key); err == nil {
		return nil, fmt.Errorf("entity %q/%q: %w", t.Name, id, ErrEntityExists)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := g.now()
	data, err := json.Marshal(entityData{Name: name})
	if err != nil {
		return nil, err
	}
	rec := &store.Record{
		Key:        key,
		Value:      entityValue(t.Name),
		Lock:       store.NotLocked,
		LockTime:   time.Unix(0, 0).UTC(),
		CreateTime: now,
		UpdateTime: now,
		Data:       data,
	}
	if err := g.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	g.log.Debug("entity created", map[string]interface{}{"type": t.Name, "id": id})
	return entityFromRecord(t.Name, id, rec)
}

// GetEntity fetches one entity. Returns ErrEntityNotFound when absent.
func (g *Graph) GetEntity(ctx context.Context, t EntityType, id string) (*Entity, error) {
	if err := validateTypeName(t.Name); err != nil {
		return nil, err
	}
	if err := validateEntityID(id); err != nil {
		return nil, err
	}
	rec, err := g.store.Get(ctx, entityKey(t.Name, id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("entity %q/%q: %w", t.Name, id, ErrEntityNotFound)
		}
		return nil, err
	}
	return entityFromRecord(t.Name, id, rec)
}

// ListEntities returns every entity of the type in creation order.
// Soft-deleted entities are included, flagged by Deleted.
func (g *Graph) ListEntities(ctx context.Context, t EntityType) ([]*Entity, error) {
	if err := validateTypeName(t.Name); err != nil {
		return nil, err
	}
	recs, err := g.store.Query(ctx, entityValue(t.Name), store.OldestFirst, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*Entity, 0, len(recs))
	for _, rec := range recs {
		id, _, ok := splitPair(rec.Key)
		if !ok {
			continue
		}
		e, err := entityFromRecord(t.Name, id, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteEntity soft-deletes an entity: the record stays but Deleted is
// set. Links are not touched. Returns ErrEntityNotFound when absent.
func (g *Graph) DeleteEntity(ctx context.Context, t EntityType, id string) error {
	e, err := g.GetEntity(ctx, t, id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(entityData{Name: e.Name, Deleted: true})
	if err != nil {
		return err
	}
	now := g.now()
	_, err = g.store.Update(ctx, entityKey(t.Name, id), store.Mutation{
		Data:       data,
		UpdateTime: &now,
	}, store.Condition{})
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("entity %q/%q: %w", t.Name, id, ErrEntityNotFound)
	}
	if err == nil {
		g.log.Debug("entity deleted", map[string]interface{}{"type": t.Name, "id": id})
	}
	return err
}

func entityFromRecord(typeName, id string, rec *store.Record) (*Entity, error) {
	var d entityData
	if len(rec.Data) > 0 {
		if err := json.Unmarshal(rec.Data, &d); err != nil {
			return nil, fmt.Errorf("entity %q/%q: decode: %w", typeName, id, err)
		}
	}
	return &Entity{
		ID:         id,
		Type:       typeName,
		Name:       d.Name,
		Deleted:    d.Deleted,
		CreateTime: rec.CreateTime,
		UpdateTime: rec.UpdateTime,
	}, nil
}

// splitPair extracts the partition-side ID and type name from a record
// key.
func splitPair(key string) (id, typeName string, ok bool) {
	parts := strings.SplitN(key, Separator, 3)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
