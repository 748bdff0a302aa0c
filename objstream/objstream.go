// Package objstream stores whole values as streams: the value is encoded
// with a Codec, optionally gzipped, and written through a Writer session.
package objstream

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/unkn0wn-root/chunkstream"
	c "github.com/unkn0wn-root/chunkstream/codec"
)

// Store encodes values of type V over a Streams instance.
type Store[V any] struct {
	streams chunkstream.Streams
	codec   c.Codec[V]
	gzip    bool
}

type Options[V any] struct {
	Codec c.Codec[V] // required
	Gzip  bool       // compress the encoded value as one gzip member
}

func New[V any](s chunkstream.Streams, opts Options[V]) (*Store[V], error) {
	if s == nil {
		return nil, fmt.Errorf("objstream: streams is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("objstream: codec is required")
	}
	return &Store[V]{streams: s, codec: opts.Codec, gzip: opts.Gzip}, nil
}

// Put replaces the stream at key with the encoded value.
func (s *Store[V]) Put(ctx context.Context, key string, v V) (err error) {
	b, err := s.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("objstream: encode %q: %w", key, err)
	}
	w, err := s.streams.OpenWriter(ctx, key, true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()

	if !s.gzip {
		_, err = w.Write(b)
		return err
	}
	zw := gzip.NewWriter(w)
	if _, err = zw.Write(b); err != nil {
		return err
	}
	return zw.Close()
}

// Get loads and decodes the value at key. A missing stream yields
// chunkstream.ErrNotFound. A failure to release the read session is returned
// even when the value decoded.
func (s *Store[V]) Get(ctx context.Context, key string) (v V, err error) {
	r, err := s.streams.OpenReader(ctx, key)
	if err != nil {
		return v, err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			var zero V
			v, err = zero, cerr
		}
	}()

	var src io.Reader = r
	if s.gzip {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return v, fmt.Errorf("objstream: gunzip %q: %w", key, err)
		}
		defer zr.Close()
		src = zr
	}
	var buf bytes.Buffer
	buf.Grow(int(r.Len()))
	if _, err := buf.ReadFrom(src); err != nil {
		return v, err
	}
	v, err = s.codec.Decode(buf.Bytes())
	if err != nil {
		var zero V
		return zero, fmt.Errorf("objstream: decode %q: %w", key, err)
	}
	return v, nil
}

func (s *Store[V]) Delete(ctx context.Context, key string) error {
	return s.streams.Delete(ctx, key)
}
