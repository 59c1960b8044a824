package relationship

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vinayprograms/trackkit/store"
)

// Link is one relationship record between two entities. From is the
// partition-side entity: the many entity of a one-to-many, the left
// entity of a many-to-many. To is the sort side.
type Link struct {
	From string
	To   string
	Type string

	CreateTime time.Time
	UpdateTime time.Time
}

// SetOneToMany links a many entity to its one entity, e.g. assigns a
// video its owner. Any previous link of the many entity is removed
// first, so each many entity holds at most one. The removal and the
// write are separate store calls, not a transaction; a reader in
// between can observe the many entity briefly unlinked.
func (g *Graph) SetOneToMany(ctx context.Context, r OneToManyType, manyID, oneID string) error {
	if err := validateTypeName(r.Name); err != nil {
		return err
	}
	if err := validateEntityID(manyID); err != nil {
		return err
	}
	if err := validateEntityID(oneID); err != nil {
		return err
	}
	if err := g.deleteByPrefix(ctx, linkPrefix(r.Name, manyID)); err != nil {
		return err
	}
	if err := g.putLink(ctx, r.Name, manyID, oneID); err != nil {
		return err
	}
	g.log.Debug("one-to-many set", map[string]interface{}{
		"type": r.Name, "many": manyID, "one": oneID,
	})
	return nil
}

// UnsetOneToMany removes the many entity's link, if any.
func (g *Graph) UnsetOneToMany(ctx context.Context, r OneToManyType, manyID string) error {
	if err := validateTypeName(r.Name); err != nil {
		return err
	}
	if err := validateEntityID(manyID); err != nil {
		return err
	}
	return g.deleteByPrefix(ctx, linkPrefix(r.Name, manyID))
}

// FindOneByMany returns the many entity's link, e.g. the ownership
// record of a video. Returns ErrLinkNotFound when the many entity is
// unlinked.
func (g *Graph) FindOneByMany(ctx context.Context, r OneToManyType, manyID string) (*Link, error) {
	if err := validateTypeName(r.Name); err != nil {
		return nil, err
	}
	if err := validateEntityID(manyID); err != nil {
		return nil, err
	}
	links, err := g.linksByPrefix(ctx, linkPrefix(r.Name, manyID))
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%s %q: %w", r.Name, manyID, ErrLinkNotFound)
	}
	return links[0], nil
}

// FindManyByOne returns every link pointing at the one entity, e.g.
// all videos owned by a user, oldest link first.
func (g *Graph) FindManyByOne(ctx context.Context, r OneToManyType, oneID string) ([]*Link, error) {
	if err := validateTypeName(r.Name); err != nil {
		return nil, err
	}
	if err := validateEntityID(oneID); err != nil {
		return nil, err
	}
	return g.linksByValue(ctx, linkValue(r.Name, oneID))
}

// SetManyToMany links a left entity to a right entity, e.g. adds a
// video to a playlist. Setting a link that already exists is a no-op,
// preserving its creation time.
func (g *Graph) SetManyToMany(ctx context.Context, r ManyToManyType, leftID, rightID string) error {
	if err := validateTypeName(r.Name); err != nil {
		return err
	}
	if err := validateEntityID(leftID); err != nil {
		return err
	}
	if err := validateEntityID(rightID); err != nil {
		return err
	}
	key := linkKey(r.Name, leftID, rightID)
	if _, err := g.store.Get(ctx, key); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := g.putLink(ctx, r.Name, leftID, rightID); err != nil {
		return err
	}
	g.log.Debug("many-to-many set", map[string]interface{}{
		"type": r.Name, "left": leftID, "right": rightID,
	})
	return nil
}

// UnsetManyToMany removes one left-right link. Removing an absent link
// is not an error.
func (g *Graph) UnsetManyToMany(ctx context.Context, r ManyToManyType, leftID, rightID string) error {
	if err := validateTypeName(r.Name); err != nil {
		return err
	}
	if err := validateEntityID(leftID); err != nil {
		return err
	}
	if err := validateEntityID(rightID); err != nil {
		return err
	}
	return g.store.Delete(ctx, linkKey(r.Name, leftID, rightID))
}

// FindByLeft returns every link whose left entity is leftID, e.g. all
// videos in a playlist.
func (g *Graph) FindByLeft(ctx context.Context, r ManyToManyType, leftID string) ([]*Link, error) {
	if err := validateTypeName(r.Name); err != nil {
		return nil, err
	}
	if err := validateEntityID(leftID); err != nil {
		return nil, err
	}
	return g.linksByPrefix(ctx, linkPrefix(r.Name, leftID))
}

// FindByRight returns every link whose right entity is rightID, e.g.
// all playlists containing a video, oldest link first.
func (g *Graph) FindByRight(ctx context.Context, r ManyToManyType, rightID string) ([]*Link, error) {
	if err := validateTypeName(r.Name); err != nil {
		return nil, err
	}
	if err := validateEntityID(rightID); err != nil {
		return nil, err
	}
	return g.linksByValue(ctx, linkValue(r.Name, rightID))
}

// ClearByLeft removes every link whose left entity is leftID.
func (g *Graph) ClearByLeft(ctx context.Context, r ManyToManyType, leftID string) error {
	if err := validateTypeName(r.Name); err != nil {
		return err
	}
	if err := validateEntityID(leftID); err != nil {
		return err
	}
	return g.deleteByPrefix(ctx, linkPrefix(r.Name, leftID))
}

// ClearByRight removes every link whose right entity is rightID.
func (g *Graph) ClearByRight(ctx context.Context, r ManyToManyType, rightID string) error {
	if err := validateTypeName(r.Name); err != nil {
		return err
	}
	if err := validateEntityID(rightID); err != nil {
		return err
	}
	links, err := g.linksByValue(ctx, linkValue(r.Name, rightID))
	if err != nil {
		return err
	}
	for _, l := range links {
		if err := g.store.Delete(ctx, linkKey(l.Type, l.From, l.To)); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) putLink(ctx context.Context, typeName, from, to string) error {
	now := g.now()
	return g.store.Put(ctx, &store.Record{
		Key:        linkKey(typeName, from, to),
		Value:      linkValue(typeName, to),
		Lock:       store.NotLocked,
		LockTime:   time.Unix(0, 0).UTC(),
		CreateTime: now,
		UpdateTime: now,
	})
}

// linksByPrefix serves forward lookups off a key scan. Scan order is
// backend-dependent, so keys are sorted here.
func (g *Graph) linksByPrefix(ctx context.Context, prefix string) ([]*Link, error) {
	keys, err := g.store.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	out := make([]*Link, 0, len(keys))
	for _, key := range keys {
		if strings.HasSuffix(key, Separator+rootMarker) {
			// Entity record of a type sharing the relationship's name.
			continue
		}
		rec, err := g.store.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			// Deleted between scan and read.
			continue
		}
		if err != nil {
			return nil, err
		}
		l, err := linkFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// linksByValue serves reverse lookups off the secondary index.
func (g *Graph) linksByValue(ctx context.Context, value string) ([]*Link, error) {
	recs, err := g.store.Query(ctx, value, store.OldestFirst, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*Link, 0, len(recs))
	for _, rec := range recs {
		l, err := linkFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func linkFromRecord(rec *store.Record) (*Link, error) {
	parts := strings.Split(rec.Key, Separator)
	if len(parts) != 4 {
		return nil, fmt.Errorf("malformed link key %q", rec.Key)
	}
	return &Link{
		From:       parts[0],
		To:         parts[2],
		Type:       parts[1],
		CreateTime: rec.CreateTime,
		UpdateTime: rec.UpdateTime,
	}, nil
}

func (g *Graph) deleteByPrefix(ctx context.Context, prefix string) error {
	keys, err := g.store.Scan(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if strings.HasSuffix(key, Separator+rootMarker) {
			continue
		}
		if err := g.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
