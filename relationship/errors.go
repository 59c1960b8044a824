package relationship

import "errors"

// Common errors.
var (
	// ErrInvalidName indicates an empty type name or one containing the
	// key separator.
	ErrInvalidName = errors.New("invalid type name")

	// ErrInvalidEntityID indicates an empty entity ID or one containing
	// the key separator.
	ErrInvalidEntityID = errors.New("invalid entity id")

	// ErrEntityExists indicates NewEntity found an entity with the same
	// ID already present.
	ErrEntityExists = errors.New("entity already exists")

	// ErrEntityNotFound indicates the entity does not exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrLinkNotFound indicates no link exists for the given entity.
	ErrLinkNotFound = errors.New("link not found")
)
