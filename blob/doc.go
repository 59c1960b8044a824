// Package blob offloads oversized record attributes to content-addressed
// blob storage.
//
// Document databases cap item sizes; attributes that can exceed the cap
// are stored as blobs and the record keeps only the blob key. Blob keys
// hash the content, which buys two properties:
//
//   - Idempotent writes: re-uploading an unchanged value is a no-op
//   - No torn updates: a changed value gets a fresh key, the old blob
//     stays valid until explicitly cleaned up
//
// # Write Ordering
//
// Creates and updates write blobs first, then the record; deletes go
// the other way. A dangling blob is garbage, a dangling record
// reference is corruption, so failures must strand blobs, never
// references:
//
//	res, err := blob.PutLarge(ctx, blobs, "myapp", pk, map[string][]byte{
//	    "html": page, "image": img,
//	})
//	if err != nil { ... }
//
//	rec.Data = encode(res.Attributes())
//	if err := records.Put(ctx, rec); err != nil {
//	    res.CleanupOnCreateFailure(ctx, blobs)
//	    return err
//	}
//
// After a successful update, CleanupOnUpdateSuccess removes the blobs
// the record no longer points at; after a failed one,
// CleanupOnUpdateFailure removes the blobs the record never got to
// point at.
//
// # Codecs
//
// Codec transforms (compression, encryption) wrap any store through
// CodecStore and compose through Chain:
//
//	st := blob.NewCodecStore(inner, blob.SnappyCodec{})
package blob
