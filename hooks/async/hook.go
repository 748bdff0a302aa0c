// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    ConflictEvery: 100, // sample logs: ~every 100th lost CAS race
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	streams, _ := chunkstream.New(chunkstream.Options{
//	    Namespace: "uploads",
//	    Provider:  provider,
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/chunkstream"
)

// Hooks forwards events to inner on background workers. Events are dropped
// when the queue is full; Dropped reports how many.
type Hooks struct {
	inner   chunkstream.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ chunkstream.Hooks = (*Hooks)(nil)

func New(inner chunkstream.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) MutateConflict(k string, attempt int) {
	h.try(func() { h.inner.MutateConflict(k, attempt) })
}
func (h *Hooks) AdmissionTimeout(k, op string, elapsed time.Duration) {
	h.try(func() { h.inner.AdmissionTimeout(k, op, elapsed) })
}
func (h *Hooks) ChunkRefetch(k string, idx int64, attempt int) {
	h.try(func() { h.inner.ChunkRefetch(k, idx, attempt) })
}
func (h *Hooks) CleanupFailed(k string, err error) { h.try(func() { h.inner.CleanupFailed(k, err) }) }
func (h *Hooks) RollbackFailed(k string, we, re error) {
	h.try(func() { h.inner.RollbackFailed(k, we, re) })
}
func (h *Hooks) LockNotOwned(k, owner string) { h.try(func() { h.inner.LockNotOwned(k, owner) }) }
