// Package cache provides a TTL key-value cache with in-memory and
// Redis backends.
//
// Values are opaque bytes; expiry is per entry. The memory backend
// enforces TTLs on read and sweeps expired entries in the background,
// the Redis backend delegates expiry to the server.
//
// Backends compose into layers, fastest first:
//
//	local := cache.NewMemoryCache()
//	remote, _ := cache.NewRedisCache(cache.RedisCacheConfig{Client: rdb})
//	c, _ := cache.NewMultiLayer(local, remote)
//
// A Get consults layers in order and returns the first hit; a Set writes
// every layer.
//
// JSONCache adds typed values on top of any backend:
//
//	jc := cache.NewJSONCache[Profile](c)
//	err := jc.Set(ctx, "user:42", profile, 10*time.Minute)
//	profile, err = jc.Get(ctx, "user:42")
package cache
