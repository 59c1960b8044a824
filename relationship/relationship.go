package relationship

import (
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/trackkit/logging"
	"github.com/vinayprograms/trackkit/store"
)

// Separator joins the segments of a record key. Type names and entity
// IDs must not contain it.
const Separator = "____"

// rootMarker is the sort-side segment of an entity record's key. It
// keeps entity records apart from link records that share the same
// partition-side ID.
const rootMarker = "--root--"

// EntityType declares one kind of entity, e.g. "user" or "video".
type EntityType struct {
	Name string
}

// OneToManyType declares a one-to-many relationship. One entity of the
// One type owns many entities of the Many type; each Many entity links
// to at most one One entity. The Many side is the partition side of
// the link key.
type OneToManyType struct {
	Name string
	One  EntityType
	Many EntityType
}

// ManyToManyType declares a many-to-many relationship. Left and Right
// matter because both sides can be the same entity type, e.g. a user
// subscribing to another user. The Left side is the partition side of
// the link key.
type ManyToManyType struct {
	Name  string
	Left  EntityType
	Right EntityType
}

// Graph executes entity and link operations against one store.
// All methods are safe for concurrent use.
type Graph struct {
	store store.Store
	log   *logging.Logger

	now func() time.Time
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *logging.Logger) Option {
	return func(g *Graph) {
		g.log = log.WithComponent("relationship")
	}
}

// New builds a Graph over the given store.
func New(st store.Store, opts ...Option) (*Graph, error) {
	if st == nil {
		return nil, fmt.Errorf("relationship: nil store")
	}
	g := &Graph{
		store: st,
		log:   logging.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func validateTypeName(name string) error {
	if name == "" || strings.Contains(name, Separator) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func validateEntityID(id string) error {
	if id == "" || strings.Contains(id, Separator) {
		return fmt.Errorf("%w: %q", ErrInvalidEntityID, id)
	}
	return nil
}

// entityKey is "<id>____<type>____--root--".
func entityKey(typeName, id string) string {
	return id + Separator + typeName + Separator + rootMarker
}

// entityValue is the lookup attribute shared by every entity of a
// type, so ListEntities rides the store's secondary index.
func entityValue(typeName string) string {
	return typeName + Separator + rootMarker
}

// linkKey is "<from>____<type>____<to>____<type>". From is the
// partition side: the many entity of a one-to-many, the left entity of
// a many-to-many.
func linkKey(typeName, from, to string) string {
	return from + Separator + typeName + Separator + to + Separator + typeName
}

// linkPrefix matches every link of the type whose partition side is
// from.
func linkPrefix(typeName, from string) string {
	return from + Separator + typeName + Separator
}

// linkValue is the lookup attribute of a link, the sort-side ID.
func linkValue(typeName, to string) string {
	return to + Separator + typeName
}
