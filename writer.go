package chunkstream

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Writer is an exclusive write session over one stream. It is owned by a
// single goroutine.
//
// WriteChunk stores one chunk and commits it to the master record. Write
// buffers input and emits ChunkSize chunks; Close flushes the remainder.
type Writer struct {
	s     *streams
	key   string
	owner string

	ctx  context.Context
	open bool
	next int64 // index of the next chunk
	buf  []byte
	err  error // sticky failure of a buffered flush
}

var _ io.WriteCloser = (*Writer)(nil)

// Open admits the writer exclusively. With override the stream is truncated
// to zero chunks and the old chunk entries are removed; otherwise new chunks
// are appended after the existing ones.
func (w *Writer) Open(ctx context.Context, override bool) error {
	if w.open {
		return ErrAlreadyOpen
	}
	rec, err := w.s.adm.openWriter(ctx, w.key, w.owner, override)
	if err != nil {
		return err
	}
	w.ctx = ctx
	w.open = true
	w.next = rec.Count()
	w.buf = w.buf[:0]
	w.err = nil
	w.s.log.Debug("writer opened", Fields{"key": w.key, "override": override, "start": w.next})
	return nil
}

// WriteChunk stores b as the next chunk. Empty input is ignored.
//
// If the chunk is stored but the master record cannot be updated, the chunk
// is removed again. When that removal fails too, a FatalInconsistencyError is
// returned, the session refuses further writes and the stream is left for
// manual cleanup.
func (w *Writer) WriteChunk(b []byte) error {
	if !w.open {
		return ErrNotOpen
	}
	if errors.Is(w.err, ErrFatalInconsistency) {
		return w.err
	}
	if len(b) == 0 {
		return nil
	}
	idx := w.next
	ck := w.s.chunkKey(w.key, idx)
	env, sum := w.s.encodeChunk(b)
	desc := Chunk{Index: idx, Size: int64(len(b)), Checksum: sum}

	if err := w.s.provider.Put(w.ctx, ck, env); err != nil {
		return fmt.Errorf("chunkstream: put %q: %w", ck, err)
	}
	if err := w.s.adm.commitChunk(w.ctx, w.key, w.owner, desc); err != nil {
		if rbErr := w.s.provider.Del(w.ctx, ck); rbErr != nil {
			w.s.hooks.RollbackFailed(ck, err, rbErr)
			w.s.log.Error("chunk rollback failed; stream needs manual cleanup",
				Fields{"key": w.key, "index": idx, "err": err, "rollback_err": rbErr})
			w.err = &FatalInconsistencyError{Key: w.key, Index: idx, WriteErr: err, RollbackErr: rbErr}
			return w.err
		}
		return err
	}
	w.next++
	return nil
}

// Write buffers p and stores every full chunk.
func (w *Writer) Write(p []byte) (int, error) {
	if !w.open {
		return 0, ErrNotOpen
	}
	if w.err != nil {
		return 0, w.err
	}
	size := w.s.chunkSize
	if w.buf == nil {
		w.buf = make([]byte, 0, size)
	}
	n := 0
	for len(p) > 0 {
		take := min(size-len(w.buf), len(p))
		w.buf = append(w.buf, p[:take]...)
		p = p[take:]
		n += take
		if len(w.buf) == size {
			if err := w.Flush(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Flush stores buffered bytes as a chunk, even if shorter than ChunkSize.
func (w *Writer) Flush() error {
	if !w.open {
		return ErrNotOpen
	}
	if w.err != nil {
		return w.err
	}
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.WriteChunk(w.buf); err != nil {
		w.err = err
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

// Close flushes buffered bytes and releases the exclusive admission. It is a
// no-op on a session that is not open. The release ignores cancellation of
// the ctx given to Open.
//
// After a FatalInconsistencyError the admission is kept: the stream stays
// stuck with its writer and Close returns that error.
func (w *Writer) Close() error {
	if !w.open {
		return nil
	}
	var flushErr error
	if w.err == nil {
		flushErr = w.Flush()
	}
	w.open = false
	w.buf = w.buf[:0]
	if errors.Is(w.err, ErrFatalInconsistency) {
		w.s.log.Warn("writer closed after fatal inconsistency; admission kept", Fields{"key": w.key, "owner": w.owner})
		return w.err
	}
	closeErr := w.s.adm.closeWriter(context.WithoutCancel(w.ctx), w.key, w.owner)
	return errors.Join(flushErr, closeErr)
}
