package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/chunkstream"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	ConflictEvery uint64
	RefetchEvery  uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	conflictCtr atomic.Uint64
	refetchCtr  atomic.Uint64
}

var _ chunkstream.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) MutateConflict(storageKey string, attempt int) {
	if h.l == nil || !sample(h.opts.ConflictEvery, &h.conflictCtr) {
		return
	}
	h.l.Debug("chunkstream.mutate_conflict",
		"key", h.redact(storageKey),
		"attempt", attempt)
}

func (h *Hooks) AdmissionTimeout(storageKey, op string, elapsed time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Warn("chunkstream.admission_timeout",
		"key", h.redact(storageKey),
		"op", op,
		"elapsed", elapsed)
}

func (h *Hooks) ChunkRefetch(storageKey string, index int64, attempt int) {
	if h.l == nil || !sample(h.opts.RefetchEvery, &h.refetchCtr) {
		return
	}
	h.l.Info("chunkstream.chunk_refetch",
		"key", h.redact(storageKey),
		"index", index,
		"attempt", attempt)
}

func (h *Hooks) CleanupFailed(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("chunkstream.cleanup_failed",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) RollbackFailed(storageKey string, writeErr, rollbackErr error) {
	if h.l == nil {
		return
	}
	h.l.Error("chunkstream.rollback_failed",
		"key", h.redact(storageKey),
		"write_err", writeErr,
		"rollback_err", rollbackErr)
}

func (h *Hooks) LockNotOwned(storageKey, owner string) {
	if h.l == nil {
		return
	}
	h.l.Warn("chunkstream.lock_not_owned",
		"key", h.redact(storageKey),
		"owner", owner)
}
