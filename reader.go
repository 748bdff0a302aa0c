package chunkstream

import (
	"context"
	"errors"
	"io"
)

// Reader is a read session over one stream. It is owned by a single
// goroutine; Open, Read and Close must not be called concurrently.
//
// The chunk boundary is fixed by the record admitted at Open. Under
// WritePriority every fetched chunk is validated against the live record.
type Reader struct {
	s     *streams
	key   string
	owner string

	ctx  context.Context
	open bool
	snap Record

	idx int64  // chunk cursor
	off int    // byte offset within cur
	cur []byte // payload of chunk idx, nil until fetched
}

var _ io.ReadCloser = (*Reader)(nil)

// Open admits the session and resets the cursor. ctx bounds admission and is
// also used by subsequent Read and Close calls.
func (r *Reader) Open(ctx context.Context) error {
	if r.open {
		return ErrAlreadyOpen
	}
	rec, err := r.s.adm.openReader(ctx, r.key, r.owner)
	if err != nil {
		return err
	}
	r.ctx = ctx
	r.snap = rec
	r.open = true
	r.reset()
	r.s.log.Debug("reader opened", Fields{"key": r.key, "chunks": rec.Count(), "mode": r.s.mode.String()})
	return nil
}

// Len returns the stream length admitted at Open.
func (r *Reader) Len() int64 { return r.snap.Len() }

// Read fills p from the stream and returns io.EOF once every admitted chunk
// has been consumed.
func (r *Reader) Read(p []byte) (int, error) {
	if !r.open {
		return 0, ErrNotOpen
	}
	if len(p) == 0 {
		return 0, nil
	}
	n := 0
	for n < len(p) && r.idx < r.snap.Count() {
		if r.cur == nil {
			if err := r.fetch(); err != nil {
				return n, err
			}
		}
		c := copy(p[n:], r.cur[r.off:])
		n += c
		r.off += c
		if r.off >= len(r.cur) {
			r.idx++
			r.off = 0
			r.cur = nil
		}
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (r *Reader) fetch() error {
	p, err := r.s.fetchChunk(r.ctx, r.key, r.snap.Chunks[r.idx])
	if err != nil {
		// a vanished chunk under WritePriority usually means a writer replaced the stream
		var ce *ConsistencyError
		if errors.As(err, &ce) {
			if verr := r.s.adm.checkRead(r.ctx, r.key, r.snap); verr != nil {
				return verr
			}
		}
		return err
	}
	if err := r.s.adm.checkRead(r.ctx, r.key, r.snap); err != nil {
		return err
	}
	r.cur = p
	return nil
}

// Close releases the admission. It is a no-op on a session that is not open
// and does not report earlier Read errors. The release ignores cancellation
// of the ctx given to Open.
func (r *Reader) Close() error {
	if !r.open {
		return nil
	}
	r.open = false
	r.reset()
	return r.s.adm.closeReader(context.WithoutCancel(r.ctx), r.key, r.owner)
}

func (r *Reader) reset() {
	r.idx = 0
	r.off = 0
	r.cur = nil
}
