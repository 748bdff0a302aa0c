package chunkstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/unkn0wn-root/chunkstream/backoff"
	c "github.com/unkn0wn-root/chunkstream/codec"
	"github.com/unkn0wn-root/chunkstream/internal/util"
	"github.com/unkn0wn-root/chunkstream/internal/wire"
	pr "github.com/unkn0wn-root/chunkstream/provider"
)

type streams struct {
	ns       string
	provider pr.Provider
	codec    c.Codec[Record]
	log      Logger
	hooks    Hooks
	now      func() time.Time

	mode         Mode
	adm          admission
	chunkSize    int
	timeout      time.Duration
	backoff      backoff.Strategy
	chunkRetries int
	retryDelay   time.Duration

	zenc *zstd.Encoder // nil unless CompressZstd
	zdec *zstd.Decoder

	closeOnce sync.Once
}

func newStreams(opts Options) (*streams, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("chunkstream: provider is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("chunkstream: namespace is required")
	}
	if opts.ChunkSize < 0 {
		return nil, fmt.Errorf("chunkstream: negative chunk size %d", opts.ChunkSize)
	}

	s := &streams{
		ns:       opts.Namespace,
		provider: opts.Provider,
		mode:     opts.Mode,
	}

	// defaults
	s.codec = coalesce[c.Codec[Record]](opts.RecordCodec, c.Msgpack[Record]{})
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.backoff = coalesce[backoff.Strategy](opts.Backoff, backoff.Default())
	s.chunkSize = coalesce(opts.ChunkSize, defaultChunkSize)
	s.timeout = coalesce(opts.Timeout, defaultTimeout)
	s.retryDelay = coalesce(opts.RetryDelay, defaultRetryDelay)
	s.chunkRetries = coalesce(opts.ChunkRetries, defaultChunkRetries)
	if s.chunkRetries < 0 {
		s.chunkRetries = 0
	}
	if opts.Now != nil {
		s.now = opts.Now
	} else {
		s.now = time.Now
	}

	switch opts.Mode {
	case WritePriority:
		s.adm = writePriority{casWriters{s}}
	case ReadCommitted:
		s.adm = readCommitted{casWriters{s}}
	case ReadCommittedLocked:
		l, ok := opts.Provider.(pr.Locker)
		if !ok {
			return nil, ErrLockingUnsupported
		}
		s.adm = &lockAdmission{s: s, locker: l}
	default:
		return nil, fmt.Errorf("chunkstream: unknown mode %v", opts.Mode)
	}

	var err error
	// decoder is always present so compressed streams stay readable
	if s.zdec, err = zstd.NewReader(nil); err != nil {
		return nil, fmt.Errorf("chunkstream: zstd decoder: %w", err)
	}
	switch opts.Compression {
	case CompressNone:
	case CompressZstd:
		if s.zenc, err = zstd.NewWriter(nil); err != nil {
			s.zdec.Close()
			return nil, fmt.Errorf("chunkstream: zstd encoder: %w", err)
		}
	default:
		s.zdec.Close()
		return nil, fmt.Errorf("chunkstream: unknown compression %d", opts.Compression)
	}
	return s, nil
}

func (s *streams) NewReader(key string) *Reader {
	return &Reader{s: s, key: key, owner: uuid.NewString()}
}

func (s *streams) NewWriter(key string) *Writer {
	return &Writer{s: s, key: key, owner: uuid.NewString()}
}

func (s *streams) OpenReader(ctx context.Context, key string) (*Reader, error) {
	r := s.NewReader(key)
	if err := r.Open(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *streams) OpenWriter(ctx context.Context, key string, override bool) (*Writer, error) {
	w := s.NewWriter(key)
	if err := w.Open(ctx, override); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *streams) Stat(ctx context.Context, key string) (Record, bool, error) {
	snap, err := s.load(ctx, s.masterKey(key))
	if err != nil || !snap.found {
		return Record{}, false, err
	}
	return snap.rec, true, nil
}

func (s *streams) Delete(ctx context.Context, key string) error {
	return s.adm.remove(ctx, key, uuid.NewString())
}

func (s *streams) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if s.zenc != nil {
			_ = s.zenc.Close()
		}
		s.zdec.Close()
	})
	if s.provider != nil {
		return s.provider.Close(ctx)
	}
	return nil
}

func (s *streams) masterKey(key string) string { return util.MasterKey(s.ns, key) }

func (s *streams) chunkKey(key string, index int64) string { return util.ChunkKey(s.ns, key, index) }

// snapshot is a decoded master record together with the exact bytes it was
// read from; the bytes are the expected value of the next CAS.
type snapshot struct {
	rec   Record
	raw   []byte
	found bool
}

func (s *streams) load(ctx context.Context, mkey string) (snapshot, error) {
	raw, ok, err := s.provider.Get(ctx, mkey)
	if err != nil {
		return snapshot{}, fmt.Errorf("chunkstream: get %q: %w", mkey, err)
	}
	if !ok {
		return snapshot{}, nil
	}
	body, err := wire.DecodeMaster(raw)
	if err != nil {
		return snapshot{}, fmt.Errorf("chunkstream: master %q: %w", mkey, err)
	}
	rec, err := s.codec.Decode(body)
	if err != nil {
		return snapshot{}, fmt.Errorf("chunkstream: master %q: decode: %w", mkey, err)
	}
	if !rec.exists() {
		return snapshot{}, fmt.Errorf("chunkstream: master %q: %w", mkey, wire.ErrCorrupt)
	}
	return snapshot{rec: rec, raw: raw, found: true}, nil
}

func (s *streams) encodeRecord(r Record) ([]byte, error) {
	body, err := s.codec.Encode(r)
	if err != nil {
		return nil, fmt.Errorf("chunkstream: encode record: %w", err)
	}
	return wire.EncodeMaster(body), nil
}

// apply runs mut on a copy of cur and bumps the version.
func (s *streams) apply(key string, cur snapshot, mut Mutation) (Record, error) {
	next := cur.rec.Clone()
	if mut != nil {
		if err := mut(&next, s.now()); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Record{}, err
			}
			return Record{}, &ConcurrentModificationError{Key: key, Reason: err.Error()}
		}
	}
	next.Version = cur.rec.Version + 1
	return next, nil
}

// replace is a plain read-modify-write of the master record. Only valid while
// the caller holds the key's native write lock.
func (s *streams) replace(ctx context.Context, key string, mut Mutation) (prev, next snapshot, err error) {
	mkey := s.masterKey(key)
	prev, err = s.load(ctx, mkey)
	if err != nil {
		return prev, next, err
	}
	rec, err := s.apply(key, prev, mut)
	if err != nil {
		return prev, next, err
	}
	raw, err := s.encodeRecord(rec)
	if err != nil {
		return prev, next, err
	}
	if err := s.provider.Put(ctx, mkey, raw); err != nil {
		return prev, next, fmt.Errorf("chunkstream: put %q: %w", mkey, err)
	}
	return prev, snapshot{rec: rec, raw: raw, found: true}, nil
}

// encodeChunk returns the chunk envelope and the checksum of p.
func (s *streams) encodeChunk(p []byte) ([]byte, uint64) {
	ch := wire.Chunk{Compression: wire.CompressNone, Checksum: wire.Checksum(p), Payload: p}
	if s.zenc != nil {
		ch.Compression = wire.CompressZstd
		ch.Payload = s.zenc.EncodeAll(p, make([]byte, 0, len(p)/2))
	}
	return wire.EncodeChunk(ch), ch.Checksum
}

func (s *streams) decodeChunk(raw []byte, want Chunk) ([]byte, error) {
	ch, err := wire.DecodeChunk(raw)
	if err != nil {
		return nil, err
	}
	payload := ch.Payload
	if ch.Compression == wire.CompressZstd {
		if payload, err = s.zdec.DecodeAll(ch.Payload, make([]byte, 0, want.Size)); err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", wire.ErrCorrupt, err)
		}
	}
	if int64(len(payload)) != want.Size || ch.Checksum != want.Checksum || wire.Checksum(payload) != want.Checksum {
		return nil, wire.ErrChecksum
	}
	return payload, nil
}

// fetchChunk reads the chunk described by desc, refetching a bounded number of
// times when it is missing or does not match its descriptor.
func (s *streams) fetchChunk(ctx context.Context, key string, desc Chunk) ([]byte, error) {
	ck := s.chunkKey(key, desc.Index)
	attempts := 1 + s.chunkRetries
	var last error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			s.hooks.ChunkRefetch(ck, desc.Index, i)
			if err := backoff.Sleep(ctx, s.retryDelay); err != nil {
				return nil, err
			}
		}
		raw, ok, err := s.provider.Get(ctx, ck)
		if err != nil {
			return nil, fmt.Errorf("chunkstream: get %q: %w", ck, err)
		}
		if !ok {
			last = nil
			continue
		}
		p, err := s.decodeChunk(raw, desc)
		if err != nil {
			last = err
			continue
		}
		return p, nil
	}
	s.log.Error("chunk unavailable within declared boundary", Fields{"key": key, "index": desc.Index, "attempts": attempts})
	return nil, &ConsistencyError{Key: key, Index: desc.Index, Attempts: attempts, Err: last}
}

// dropChunks removes chunk entries best-effort; failures are logged and reported.
func (s *streams) dropChunks(ctx context.Context, key string, chunks []Chunk) {
	failed := 0
	for _, ch := range chunks {
		ck := s.chunkKey(key, ch.Index)
		if err := s.provider.Del(ctx, ck); err != nil {
			failed++
			s.hooks.CleanupFailed(ck, err)
			s.log.Warn("stale chunk cleanup failed", Fields{"key": key, "index": ch.Index, "err": err})
		}
	}
	if len(chunks) > 0 {
		s.log.Debug("dropped stale chunks", Fields{"key": key, "count": len(chunks), "failed": failed})
	}
}
