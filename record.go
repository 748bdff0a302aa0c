package chunkstream

import (
	"fmt"
	"time"
)

// Chunk describes one stored chunk of a stream.
type Chunk struct {
	Index    int64  `json:"index" msgpack:"i"`
	Size     int64  `json:"size" msgpack:"s"`
	Checksum uint64 `json:"checksum" msgpack:"h"`
}

// Record is the master record of one stream. It is a value: every mutation
// works on a copy that replaces the stored record as a whole.
//
// Chunk indices are contiguous from 0. Version is incremented by every
// mutation; a stored record always has Version >= 1.
type Record struct {
	Chunks        []Chunk   `json:"chunks" msgpack:"c"`
	Readers       int32     `json:"readers" msgpack:"r"`
	Writers       int32     `json:"writers" msgpack:"w"`
	Version       uint64    `json:"version" msgpack:"v"`
	LastWrittenAt time.Time `json:"last_written_at" msgpack:"lw"`
	LastReadAt    time.Time `json:"last_read_at" msgpack:"lr"`
}

// Count returns the number of chunks.
func (r Record) Count() int64 { return int64(len(r.Chunks)) }

// Len returns the logical stream length in bytes.
func (r Record) Len() int64 {
	var n int64
	for _, c := range r.Chunks {
		n += c.Size
	}
	return n
}

func (r Record) exists() bool { return r.Version > 0 }

func (r Record) Clone() Record {
	out := r
	if r.Chunks != nil {
		out.Chunks = append(make([]Chunk, 0, len(r.Chunks)+1), r.Chunks...)
	}
	return out
}

// Precondition decides whether a mutation may be applied to cur.
// cur is nil when no master record exists.
type Precondition func(cur *Record) bool

func NoWriter(cur *Record) bool { return cur == nil || cur.Writers == 0 }

func NoReaderNoWriter(cur *Record) bool {
	return cur == nil || (cur.Readers == 0 && cur.Writers == 0)
}

func OneWriter(cur *Record) bool { return cur != nil && cur.Writers == 1 }

func Always(*Record) bool { return true }

// Mutation edits a copy of the current record in place. A missing record is
// presented as the zero Record. Returning an error aborts the mutate loop.
type Mutation func(r *Record, now time.Time) error

func IncReaders(r *Record, _ time.Time) error {
	r.Readers++
	return nil
}

func DecReaders(r *Record, _ time.Time) error {
	if r.Readers <= 0 {
		return fmt.Errorf("reader count underflow (%d)", r.Readers)
	}
	r.Readers--
	return nil
}

func IncWriters(r *Record, _ time.Time) error {
	r.Writers++
	return nil
}

func DecWriters(r *Record, _ time.Time) error {
	if r.Writers <= 0 {
		return fmt.Errorf("writer count underflow (%d)", r.Writers)
	}
	r.Writers--
	return nil
}

func StampRead(r *Record, now time.Time) error {
	r.LastReadAt = now
	return nil
}

func StampWritten(r *Record, now time.Time) error {
	r.LastWrittenAt = now
	return nil
}

func ResetChunks(r *Record, _ time.Time) error {
	r.Chunks = nil
	return nil
}

// RequireExisting fails with ErrNotFound on a missing record.
func RequireExisting(r *Record, _ time.Time) error {
	if !r.exists() {
		return ErrNotFound
	}
	return nil
}

// AppendChunk appends c, which must carry the next contiguous index.
func AppendChunk(c Chunk) Mutation {
	return func(r *Record, _ time.Time) error {
		if c.Index != r.Count() {
			return fmt.Errorf("append chunk %d: record holds %d chunks", c.Index, r.Count())
		}
		r.Chunks = append(r.Chunks, c)
		return nil
	}
}

// Combine applies ms in order, stopping at the first error.
func Combine(ms ...Mutation) Mutation {
	return func(r *Record, now time.Time) error {
		for _, m := range ms {
			if m == nil {
				continue
			}
			if err := m(r, now); err != nil {
				return err
			}
		}
		return nil
	}
}
