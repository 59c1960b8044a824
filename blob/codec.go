package blob

import (
	"context"

	"github.com/golang/snappy"
)

// Codec is a stateless transform applied to blob content on the way in
// and out of a store. Decode must invert Encode.
type Codec interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// SnappyCodec compresses blob content with snappy.
type SnappyCodec struct{}

// Encode compresses data.
func (SnappyCodec) Encode(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

// Decode decompresses data.
func (SnappyCodec) Decode(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

// Chain composes codecs. Encode applies them first to last, Decode last
// to first.
type Chain []Codec

// Encode runs data through every codec in order.
func (c Chain) Encode(data []byte) ([]byte, error) {
	var err error
	for _, codec := range c {
		if data, err = codec.Encode(data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Decode runs data through every codec in reverse order.
func (c Chain) Decode(data []byte) ([]byte, error) {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		if data, err = c[i].Decode(data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// CodecStore wraps a Store so that every blob is transformed by a codec
// on write and inverted on read.
type CodecStore struct {
	inner Store
	codec Codec
}

// NewCodecStore wraps inner with codec.
func NewCodecStore(inner Store, codec Codec) *CodecStore {
	return &CodecStore{inner: inner, codec: codec}
}

// Put encodes data and stores it.
func (s *CodecStore) Put(ctx context.Context, key string, data []byte) error {
	enc, err := s.codec.Encode(data)
	if err != nil {
		return err
	}
	return s.inner.Put(ctx, key, enc)
}

// Get retrieves and decodes the blob at key.
func (s *CodecStore) Get(ctx context.Context, key string) ([]byte, error) {
	enc, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.codec.Decode(enc)
}

// Exists reports whether a blob is stored at key.
func (s *CodecStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.inner.Exists(ctx, key)
}

// Delete removes the blob at key.
func (s *CodecStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
