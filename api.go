package chunkstream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/unkn0wn-root/chunkstream/backoff"
	c "github.com/unkn0wn-root/chunkstream/codec"
	pr "github.com/unkn0wn-root/chunkstream/provider"
)

// Mode selects how sessions are admitted.
type Mode int

const (
	// WritePriority: writers are counted and exclusive; readers do not
	// register and fail with ConcurrentModificationError when the record
	// changes under them.
	WritePriority Mode = iota
	// ReadCommitted: readers and writers are counted in the master record;
	// writers exclude readers and each other.
	ReadCommitted
	// ReadCommittedLocked: admission uses the store's native RW key locks.
	// The Provider must implement provider.Locker.
	ReadCommittedLocked
)

func (m Mode) String() string {
	switch m {
	case WritePriority:
		return "write-priority"
	case ReadCommitted:
		return "read-committed"
	case ReadCommittedLocked:
		return "read-committed-locked"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "write-priority":
		return WritePriority, nil
	case "read-committed":
		return ReadCommitted, nil
	case "read-committed-locked", "locked":
		return ReadCommittedLocked, nil
	}
	return 0, fmt.Errorf("chunkstream: unknown mode %q", s)
}

// Compression applied to chunk payloads.
type Compression int

const (
	CompressNone Compression = iota
	CompressZstd
)

func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressNone, nil
	case "zstd":
		return CompressZstd, nil
	}
	return 0, fmt.Errorf("chunkstream: unknown compression %q", s)
}

// Streams is the entry point for stream sessions over one namespace.
// Safe for concurrent use; the sessions it hands out are not.
type Streams interface {
	// NewReader/NewWriter return closed sessions; call Open before use.
	NewReader(key string) *Reader
	NewWriter(key string) *Writer

	OpenReader(ctx context.Context, key string) (*Reader, error)
	OpenWriter(ctx context.Context, key string, override bool) (*Writer, error)

	// Stat returns the current master record; ok=false if the stream does not exist.
	Stat(ctx context.Context, key string) (rec Record, ok bool, err error)
	// Delete waits for exclusive admission, then removes chunks and master record.
	Delete(ctx context.Context, key string) error

	Close(ctx context.Context) error
}

// Options configure a Streams instance.
// Only Namespace and Provider are required; others have sensible defaults.
type Options struct {
	// Required
	Namespace string // logical namespace to avoid collisions. e.g. "uploads", "reports"
	Provider  pr.Provider

	Mode         Mode             // default WritePriority
	ChunkSize    int              // bytes per chunk for buffered writes; 0 => 256KiB
	Timeout      time.Duration    // admission and master-record mutation budget; 0 => 10s
	Backoff      backoff.Strategy // between failed CAS/admission attempts; nil => backoff.Default()
	ChunkRetries int              // refetches of a missing chunk; 0 => 3, <0 => none
	RetryDelay   time.Duration    // wait between chunk refetches; 0 => 10ms
	RecordCodec  c.Codec[Record]  // master record body; nil => Msgpack
	Compression  Compression      // chunk payload compression
	Logger       Logger           // nil => NopLogger
	Hooks        Hooks            // nil => NopHooks
	Now          func() time.Time // record timestamps; nil => time.Now
}

func New(opts Options) (Streams, error) {
	return newStreams(opts)
}
