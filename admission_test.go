package chunkstream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/chunkstream/internal/wire"
	"github.com/unkn0wn-root/chunkstream/provider/memory"
)

var errInjected = errors.New("injected failure")

// faultyProvider wraps the memory store with switchable failures.
type faultyProvider struct {
	*memory.Memory
	failCAS atomic.Bool
	failDel atomic.Bool
	loseCAS atomic.Int32 // number of CAS calls to report as lost races
}

func (f *faultyProvider) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	if f.failCAS.Load() {
		return false, errInjected
	}
	if f.loseCAS.Add(-1) >= 0 {
		return false, nil
	}
	return f.Memory.CompareAndSwap(ctx, key, old, next)
}

func (f *faultyProvider) Del(ctx context.Context, key string) error {
	if f.failDel.Load() {
		return errInjected
	}
	return f.Memory.Del(ctx, key)
}

// ctxProvider fails every store call whose ctx is already done, the way a
// network-backed store does.
type ctxProvider struct {
	*memory.Memory
}

func (p ctxProvider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return p.Memory.Get(ctx, key)
}

func (p ctxProvider) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.Memory.CompareAndSwap(ctx, key, old, next)
}

func (p ctxProvider) HoldsReadLock(ctx context.Context, key, owner string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.Memory.HoldsReadLock(ctx, key, owner)
}

func (p ctxProvider) HoldsWriteLock(ctx context.Context, key, owner string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.Memory.HoldsWriteLock(ctx, key, owner)
}

func (p ctxProvider) ReadUnlock(ctx context.Context, key, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Memory.ReadUnlock(ctx, key, owner)
}

func (p ctxProvider) WriteUnlock(ctx context.Context, key, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Memory.WriteUnlock(ctx, key, owner)
}

func newFaultyStreams(t *testing.T, mode Mode, hooks Hooks) (*streams, *faultyProvider) {
	t.Helper()
	fp := &faultyProvider{Memory: memory.New()}
	s, _ := newTestStreams(t, mode, func(o *Options) {
		o.Provider = fp
		o.Hooks = hooks
	})
	return s, fp
}

// ==============================
// Writer exclusion
// ==============================

func TestRacingWritersAreExclusive(t *testing.T) {
	const writers = 8
	for _, mode := range allModes {
		s, _ := newTestStreams(t, mode, func(o *Options) { o.Timeout = 10 * time.Second })

		var active atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ctx := context.Background()
				w, err := s.OpenWriter(ctx, "k", false)
				if err != nil {
					t.Errorf("mode=%v writer %d: open: %v", mode, i, err)
					return
				}
				if n := active.Add(1); n != 1 {
					t.Errorf("mode=%v: %d writers admitted at once", mode, n)
				}
				if mode != ReadCommittedLocked {
					if rec, _, _ := s.Stat(ctx, "k"); rec.Writers != 1 {
						t.Errorf("mode=%v: record writer count %d", mode, rec.Writers)
					}
				}
				time.Sleep(time.Millisecond)
				if err := w.WriteChunk([]byte{byte(i)}); err != nil {
					t.Errorf("mode=%v writer %d: write: %v", mode, i, err)
				}
				active.Add(-1)
				if err := w.Close(); err != nil {
					t.Errorf("mode=%v writer %d: close: %v", mode, i, err)
				}
			}(i)
		}
		wg.Wait()

		rec, ok, err := s.Stat(context.Background(), "k")
		if err != nil || !ok {
			t.Fatalf("mode=%v Stat: ok=%v err=%v", mode, ok, err)
		}
		if rec.Count() != writers || rec.Writers != 0 {
			t.Fatalf("mode=%v: count=%d writers=%d", mode, rec.Count(), rec.Writers)
		}
		for i, c := range rec.Chunks {
			if c.Index != int64(i) {
				t.Fatalf("mode=%v: chunk %d has index %d", mode, i, c.Index)
			}
		}
	}
}

// ==============================
// ReadCommitted
// ==============================

func TestReadCommittedCountsReaders(t *testing.T) {
	const readers = 5
	h := &recordingHooks{}
	s, _ := newTestStreams(t, ReadCommitted, func(o *Options) {
		o.Timeout = 150 * time.Millisecond
		o.Hooks = h
	})
	writeStream(t, s, "k", randomBytes(3000, 9), true)
	ctx := context.Background()

	open := make([]*Reader, readers)
	var wg sync.WaitGroup
	for i := range open {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := s.OpenReader(ctx, "k")
			if err != nil {
				t.Errorf("reader %d: %v", i, err)
				return
			}
			open[i] = r
		}(i)
	}
	wg.Wait()
	if t.Failed() {
		t.FailNow()
	}

	rec, _, _ := s.Stat(ctx, "k")
	if rec.Readers != readers || rec.Writers != 0 {
		t.Fatalf("readers=%d writers=%d, want %d/0", rec.Readers, rec.Writers, readers)
	}

	_, err := s.OpenWriter(ctx, "k", true)
	var te *TimeoutError
	if !errors.As(err, &te) || te.Op != "open_writer" {
		t.Fatalf("writer admitted with readers present: %v", err)
	}

	for _, r := range open {
		if _, err := io.ReadAll(r); err != nil {
			t.Fatalf("read: %v", err)
		}
		_ = r.Close()
	}
	if rec, _, _ = s.Stat(ctx, "k"); rec.Readers != 0 {
		t.Fatalf("readers=%d after close", rec.Readers)
	}

	w, err := s.OpenWriter(ctx, "k", false)
	if err != nil {
		t.Fatalf("writer after readers left: %v", err)
	}
	if _, err := s.OpenReader(ctx, "k"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("reader admitted while writer active: %v", err)
	}
	if rec, _, _ = s.Stat(ctx, "k"); rec.Readers != 0 || rec.Writers != 1 {
		t.Fatalf("readers=%d writers=%d while writer open", rec.Readers, rec.Writers)
	}
	_ = w.Close()

	r, err := s.OpenReader(ctx, "k")
	if err != nil {
		t.Fatalf("reader after writer closed: %v", err)
	}
	_ = r.Close()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.timeouts) != 2 || h.timeouts[0] != "open_writer" || h.timeouts[1] != "open_reader" {
		t.Fatalf("timeout hooks: %v", h.timeouts)
	}
}

// ==============================
// WritePriority
// ==============================

func TestWritePriorityReaderWaitsForWriter(t *testing.T) {
	s, _ := newTestStreams(t, WritePriority, func(o *Options) { o.Timeout = 100 * time.Millisecond })
	writeStream(t, s, "k", []byte("data"), true)
	ctx := context.Background()

	w, err := s.OpenWriter(ctx, "k", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.OpenReader(ctx, "k"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("reader admitted during write: %v", err)
	}
	_ = w.Close()

	r, err := s.OpenReader(ctx, "k")
	if err != nil {
		t.Fatalf("reader after writer closed: %v", err)
	}
	defer r.Close()
	if rec, _, _ := s.Stat(ctx, "k"); rec.Readers != 0 {
		t.Fatalf("write-priority readers must not register, got %d", rec.Readers)
	}
}

func TestWritePriorityDetectsAppend(t *testing.T) {
	s, _ := newTestStreams(t, WritePriority, nil)
	writeStream(t, s, "k", randomBytes(3*1024, 10), true)
	ctx := context.Background()

	r, err := s.OpenReader(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Read(make([]byte, 1024)); err != nil {
		t.Fatalf("first chunk: %v", err)
	}

	// writers are not blocked by unregistered readers
	writeStream(t, s, "k", []byte("more"), false)

	_, err = io.ReadAll(r)
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ConcurrentModificationError, got %v", err)
	}
}

func TestWritePriorityDetectsOverride(t *testing.T) {
	s, _ := newTestStreams(t, WritePriority, func(o *Options) { o.ChunkRetries = 1 })
	writeStream(t, s, "k", randomBytes(3*1024, 11), true)
	ctx := context.Background()

	r, err := s.OpenReader(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Read(make([]byte, 10)); err != nil {
		t.Fatal(err)
	}

	writeStream(t, s, "k", []byte("replacement"), true)

	_, err = io.ReadAll(r)
	var cme *ConcurrentModificationError
	if !errors.As(err, &cme) {
		t.Fatalf("expected ConcurrentModificationError after override, got %v", err)
	}
}

// ==============================
// ReadCommittedLocked
// ==============================

func TestLockedWriterTimesOutBehindReader(t *testing.T) {
	s, _ := newTestStreams(t, ReadCommittedLocked, func(o *Options) { o.Timeout = time.Second })
	writeStream(t, s, "k", []byte("data"), true)
	ctx := context.Background()

	r, err := s.OpenReader(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	// shared lock admits a second reader
	r2, err := s.OpenReader(ctx, "k")
	if err != nil {
		t.Fatalf("second reader: %v", err)
	}
	_ = r2.Close()

	start := time.Now()
	_, err = s.OpenWriter(ctx, "k", false)
	elapsed := time.Since(start)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if elapsed < 900*time.Millisecond || elapsed > 1500*time.Millisecond {
		t.Fatalf("writer gave up after %v, want about 1s", elapsed)
	}

	_ = r.Close()
	w, err := s.OpenWriter(ctx, "k", false)
	if err != nil {
		t.Fatalf("writer after reader released: %v", err)
	}
	_ = w.Close()
}

func TestLockedWriterBlocksReaders(t *testing.T) {
	s, mp := newTestStreams(t, ReadCommittedLocked, func(o *Options) { o.Timeout = 100 * time.Millisecond })
	ctx := context.Background()

	w, err := s.OpenWriter(ctx, "k", true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.OpenReader(ctx, "k"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("reader admitted during write: %v", err)
	}
	if held, _ := mp.HoldsWriteLock(ctx, s.masterKey("k"), w.owner); !held {
		t.Fatalf("writer does not hold the master key lock")
	}
	_ = w.Close()
	if held, _ := mp.HoldsWriteLock(ctx, s.masterKey("k"), w.owner); held {
		t.Fatalf("lock still held after Close")
	}
}

func TestLockedCloseSkipsForeignLock(t *testing.T) {
	h := &recordingHooks{}
	s, mp := newTestStreams(t, ReadCommittedLocked, func(o *Options) { o.Hooks = h })
	writeStream(t, s, "k", []byte("data"), true)
	ctx := context.Background()

	r, err := s.OpenReader(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	// simulate lock expiry in the store
	if err := mp.ReadUnlock(ctx, s.masterKey("k"), r.owner); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.notOwned != 1 {
		t.Fatalf("LockNotOwned fired %d times, want 1", h.notOwned)
	}
}

// ==============================
// Failure handling
// ==============================

func TestCloseReleasesAfterOpenContextCanceled(t *testing.T) {
	for _, mode := range allModes {
		s, _ := newTestStreams(t, mode, func(o *Options) {
			o.Provider = ctxProvider{Memory: memory.New()}
			o.Timeout = 200 * time.Millisecond
		})
		bg := context.Background()
		writeStream(t, s, "k", []byte("data"), true)

		rctx, rcancel := context.WithCancel(bg)
		r, err := s.OpenReader(rctx, "k")
		if err != nil {
			t.Fatalf("mode=%v: open reader: %v", mode, err)
		}
		rcancel()
		if err := r.Close(); err != nil {
			t.Fatalf("mode=%v: reader Close after cancel: %v", mode, err)
		}
		if rec, _, _ := s.Stat(bg, "k"); rec.Readers != 0 {
			t.Fatalf("mode=%v: %d readers left registered", mode, rec.Readers)
		}

		wctx, wcancel := context.WithCancel(bg)
		w, err := s.OpenWriter(wctx, "k", false)
		if err != nil {
			t.Fatalf("mode=%v: writer after reader release: %v", mode, err)
		}
		if err := w.WriteChunk([]byte("more")); err != nil {
			t.Fatal(err)
		}
		wcancel()
		if err := w.Close(); err != nil {
			t.Fatalf("mode=%v: writer Close after cancel: %v", mode, err)
		}

		w2, err := s.OpenWriter(bg, "k", false)
		if err != nil {
			t.Fatalf("mode=%v: writer admission not released: %v", mode, err)
		}
		_ = w2.Close()
		if got := string(readStream(t, s, "k", 64)); got != "datamore" {
			t.Fatalf("mode=%v: stream = %q", mode, got)
		}
	}
}

func TestWriteChunkRollsBackUncommittedChunk(t *testing.T) {
	h := &recordingHooks{}
	s, fp := newFaultyStreams(t, ReadCommitted, h)
	ctx := context.Background()

	w, err := s.OpenWriter(ctx, "k", true)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteChunk([]byte("committed")); err != nil {
		t.Fatal(err)
	}

	fp.failCAS.Store(true)
	err = w.WriteChunk([]byte("lost"))
	if !errors.Is(err, errInjected) || errors.Is(err, ErrFatalInconsistency) {
		t.Fatalf("expected plain commit failure, got %v", err)
	}
	if _, ok, _ := fp.Get(ctx, s.chunkKey("k", 1)); ok {
		t.Fatalf("uncommitted chunk was not rolled back")
	}

	fp.failDel.Store(true)
	err = w.WriteChunk([]byte("dangling"))
	var fe *FatalInconsistencyError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FatalInconsistencyError, got %v", err)
	}
	if fe.Index != 1 || !errors.Is(fe, errInjected) || !errors.Is(err, ErrFatalInconsistency) {
		t.Fatalf("unexpected fatal error: %+v", fe)
	}
	if _, ok, _ := fp.Get(ctx, s.chunkKey("k", 1)); !ok {
		t.Fatalf("dangling chunk should remain after failed rollback")
	}
	h.mu.Lock()
	if h.rollback != 1 {
		t.Fatalf("RollbackFailed fired %d times", h.rollback)
	}
	h.mu.Unlock()

	// the session stays poisoned even once the store recovers
	fp.failCAS.Store(false)
	fp.failDel.Store(false)
	if err := w.WriteChunk([]byte("c")); !errors.Is(err, ErrFatalInconsistency) {
		t.Fatalf("WriteChunk after fatal error: %v", err)
	}
	if _, err := w.Write([]byte("c")); !errors.Is(err, ErrFatalInconsistency) {
		t.Fatalf("Write after fatal error: %v", err)
	}
	if err := w.Flush(); !errors.Is(err, ErrFatalInconsistency) {
		t.Fatalf("Flush after fatal error: %v", err)
	}
	if err := w.Close(); !errors.Is(err, ErrFatalInconsistency) {
		t.Fatalf("Close after fatal error: %v", err)
	}
	rec, _, _ := s.Stat(ctx, "k")
	if rec.Count() != 1 || rec.Writers != 1 {
		t.Fatalf("record after failures: count=%d writers=%d, want 1 and 1", rec.Count(), rec.Writers)
	}
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := s.OpenReader(short, "k"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("reader admitted on a stuck stream: %v", err)
	}
}

func TestLockedCommitRequiresWriteLock(t *testing.T) {
	h := &recordingHooks{}
	s, mp := newTestStreams(t, ReadCommittedLocked, func(o *Options) { o.Hooks = h })
	writeStream(t, s, "k", []byte("data"), true)
	ctx := context.Background()

	w, err := s.OpenWriter(ctx, "k", false)
	if err != nil {
		t.Fatal(err)
	}
	// the lock expires and another writer takes over
	if err := mp.WriteUnlock(ctx, s.masterKey("k"), w.owner); err != nil {
		t.Fatal(err)
	}
	other, err := s.OpenWriter(ctx, "k", false)
	if err != nil {
		t.Fatalf("second writer: %v", err)
	}

	err = w.WriteChunk([]byte("stale"))
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ConcurrentModificationError, got %v", err)
	}
	if _, ok, _ := mp.Get(ctx, s.chunkKey("k", 1)); ok {
		t.Fatalf("chunk of a writer without lock was kept")
	}
	if err := other.WriteChunk([]byte("fresh")); err != nil {
		t.Fatalf("lock holder: %v", err)
	}
	_ = other.Close()
	_ = w.Close()

	if got := string(readStream(t, s, "k", 64)); got != "datafresh" {
		t.Fatalf("stream = %q", got)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.notOwned < 1 {
		t.Fatalf("LockNotOwned did not fire")
	}
}

func TestBufferedWriteErrorIsSticky(t *testing.T) {
	s, fp := newFaultyStreams(t, WritePriority, nil)
	ctx := context.Background()

	w, err := s.OpenWriter(ctx, "k", true)
	if err != nil {
		t.Fatal(err)
	}
	fp.failCAS.Store(true)
	if _, err := w.Write(make([]byte, 2048)); !errors.Is(err, errInjected) {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write([]byte("x")); !errors.Is(err, errInjected) {
		t.Fatalf("second Write should repeat the failure: %v", err)
	}
	fp.failCAS.Store(false)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestMissingChunkIsConsistencyError(t *testing.T) {
	h := &recordingHooks{}
	s, mp := newTestStreams(t, ReadCommitted, func(o *Options) {
		o.ChunkRetries = 2
		o.Hooks = h
	})
	writeStream(t, s, "k", randomBytes(3*1024, 12), true)
	ctx := context.Background()
	if err := mp.Del(ctx, s.chunkKey("k", 1)); err != nil {
		t.Fatal(err)
	}

	r, err := s.OpenReader(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	var ce *ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConsistencyError, got %v", err)
	}
	if ce.Index != 1 || ce.Attempts != 3 || len(got) != 1024 {
		t.Fatalf("index=%d attempts=%d read=%d", ce.Index, ce.Attempts, len(got))
	}
	_ = r.Close()

	h.mu.Lock()
	if h.refetches != 2 {
		t.Fatalf("ChunkRefetch fired %d times, want 2", h.refetches)
	}
	h.mu.Unlock()

	// a counted reader must have been released despite the failure
	if rec, _, _ := s.Stat(ctx, "k"); rec.Readers != 0 {
		t.Fatalf("readers=%d after failed read", rec.Readers)
	}
}

func TestCorruptChunkIsConsistencyError(t *testing.T) {
	s, mp := newTestStreams(t, ReadCommitted, func(o *Options) { o.ChunkRetries = -1 })
	writeStream(t, s, "k", randomBytes(2*1024, 13), true)
	ctx := context.Background()

	_ = mp.Put(ctx, s.chunkKey("k", 0), []byte("garbage"))
	other, _ := s.encodeChunk(randomBytes(1024, 14))
	_ = mp.Put(ctx, s.chunkKey("k", 1), other)

	r, err := s.OpenReader(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	_, err = r.Read(make([]byte, 10))
	if !errors.Is(err, ErrConsistency) || !errors.Is(err, wire.ErrCorrupt) {
		t.Fatalf("chunk 0: %v", err)
	}

	r.idx = 1
	_, err = r.Read(make([]byte, 10))
	if !errors.Is(err, ErrConsistency) || !errors.Is(err, wire.ErrChecksum) {
		t.Fatalf("chunk 1: %v", err)
	}
}

// ==============================
// mutate
// ==============================

func TestMutateRetriesLostRaces(t *testing.T) {
	h := &recordingHooks{}
	s, fp := newFaultyStreams(t, ReadCommitted, h)
	writeStream(t, s, "k", []byte("data"), true)

	fp.loseCAS.Store(3)
	r, err := s.OpenReader(context.Background(), "k")
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	_ = r.Close()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conflicts != 3 {
		t.Fatalf("MutateConflict fired %d times, want 3", h.conflicts)
	}
}

func TestMutateTimesOut(t *testing.T) {
	s, _ := newTestStreams(t, ReadCommitted, func(o *Options) { o.Timeout = 50 * time.Millisecond })
	never := func(*Record) bool { return false }

	start := time.Now()
	_, _, err := s.mutate(context.Background(), "k", "test", never, IncReaders)
	var te *TimeoutError
	if !errors.As(err, &te) || te.Op != "test" {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.Elapsed < 50*time.Millisecond || time.Since(start) > time.Second {
		t.Fatalf("elapsed %v outside budget", te.Elapsed)
	}
}

func TestMutateHonoursContext(t *testing.T) {
	s, _ := newTestStreams(t, ReadCommitted, func(o *Options) { o.Timeout = time.Minute })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := s.mutate(ctx, "k", "test", func(*Record) bool { return false }, nil)
	var te *TimeoutError
	if !errors.As(err, &te) || te.Op != "test" {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout should match ErrTimeout and the ctx deadline: %v", err)
	}

	cctx, ccancel := context.WithCancel(context.Background())
	ccancel()
	_, _, err = s.mutate(cctx, "k", "test", func(*Record) bool { return false }, nil)
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrTimeout) {
		t.Fatalf("cancellation should pass through, got %v", err)
	}
}

func TestAdmissionDeadlineIsTimeout(t *testing.T) {
	for _, mode := range allModes {
		h := &recordingHooks{}
		s, _ := newTestStreams(t, mode, func(o *Options) {
			o.Timeout = time.Minute
			o.Hooks = h
		})
		bg := context.Background()
		w, err := s.OpenWriter(bg, "k", true)
		if err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithTimeout(bg, 20*time.Millisecond)
		_, err = s.OpenWriter(ctx, "k", false)
		cancel()
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("mode=%v: expected ErrTimeout, got %v", mode, err)
		}
		_ = w.Close()

		h.mu.Lock()
		if len(h.timeouts) != 1 {
			t.Fatalf("mode=%v: AdmissionTimeout fired %d times", mode, len(h.timeouts))
		}
		h.mu.Unlock()
	}
}

func TestMutateBumpsVersionAndStamps(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestStreams(t, ReadCommitted, func(o *Options) { o.Now = func() time.Time { return at } })
	ctx := context.Background()

	_, next, err := s.mutate(ctx, "k", "test", Always, StampWritten)
	if err != nil {
		t.Fatal(err)
	}
	if next.rec.Version != 1 || !next.rec.LastWrittenAt.Equal(at) {
		t.Fatalf("first mutation: %+v", next.rec)
	}
	_, next, err = s.mutate(ctx, "k", "test", Always, StampRead)
	if err != nil {
		t.Fatal(err)
	}
	if next.rec.Version != 2 || !next.rec.LastReadAt.Equal(at) {
		t.Fatalf("second mutation: %+v", next.rec)
	}

	_, _, err = s.mutate(ctx, "k", "test", Always, DecWriters)
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("underflow should be a concurrent modification, got %v", err)
	}
	if rec, _, _ := s.Stat(ctx, "k"); rec.Version != 2 {
		t.Fatalf("failed mutation changed the record: %+v", rec)
	}
}
