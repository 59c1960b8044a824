// Package relationship maintains typed entities and the one-to-many and
// many-to-many links between them, on top of a store backend.
//
// Everything lives in one record space. An entity record carries the
// entity itself; a link record carries nothing but the pair of entity
// IDs encoded in its key. The record's Value attribute holds the
// sort-side ID, so reverse lookups ("all videos owned by this user")
// are served by the store's secondary index, while forward lookups
// ("who owns this video") are served by a key-prefix scan.
//
// Declare the schema once, then operate through a Graph:
//
//	user := relationship.EntityType{Name: "user"}
//	video := relationship.EntityType{Name: "video"}
//	ownership := relationship.OneToManyType{Name: "video-owner", One: user, Many: video}
//
//	g, _ := relationship.New(st)
//	g.NewEntity(ctx, user, "alice", "Alice")
//	g.NewEntity(ctx, video, "v1", "First upload")
//	g.SetOneToMany(ctx, ownership, "v1", "alice")
//
// In a one-to-many link the "many" entity is the partition side: a
// video has exactly one owner, so setting ownership replaces whatever
// link the video had before. Many-to-many links are independent pairs;
// setting one that already exists is a no-op.
//
// Keep type names unique across entities and relationships. Forward
// lookups scan by key prefix, and a relationship reusing an entity
// type's name would sweep that type's entity records into its scans.
// The scans skip entity records they encounter, but distinct names
// keep the key space unambiguous.
package relationship
