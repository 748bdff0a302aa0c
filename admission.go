package chunkstream

import (
	"context"
	"fmt"
	"time"

	pr "github.com/unkn0wn-root/chunkstream/provider"
)

// admission is the per-mode policy behind session open/close. Exactly one
// implementation is chosen in New.
type admission interface {
	openReader(ctx context.Context, key, owner string) (Record, error)
	// checkRead validates a reader's open-time snapshot before its data is handed out.
	checkRead(ctx context.Context, key string, snap Record) error
	closeReader(ctx context.Context, key, owner string) error

	openWriter(ctx context.Context, key, owner string, override bool) (Record, error)
	commitChunk(ctx context.Context, key, owner string, c Chunk) error
	closeWriter(ctx context.Context, key, owner string) error

	remove(ctx context.Context, key, owner string) error
}

// casWriters is the writer side shared by the two CAS modes; every state
// change goes through mutate.
type casWriters struct {
	s *streams
}

func (a casWriters) openWriter(ctx context.Context, key, _ string, override bool) (Record, error) {
	mut := Combine(IncWriters)
	if override {
		mut = Combine(IncWriters, ResetChunks)
	}
	prev, next, err := a.s.mutate(ctx, key, "open_writer", NoReaderNoWriter, mut)
	if err != nil {
		return Record{}, err
	}
	if override && prev.found {
		a.s.dropChunks(ctx, key, prev.rec.Chunks)
	}
	return next.rec, nil
}

func (a casWriters) commitChunk(ctx context.Context, key, _ string, c Chunk) error {
	_, _, err := a.s.mutate(ctx, key, "append", OneWriter, Combine(AppendChunk(c), StampWritten))
	return err
}

func (a casWriters) closeWriter(ctx context.Context, key, _ string) error {
	_, _, err := a.s.mutate(ctx, key, "close_writer", Always, Combine(RequireExisting, DecWriters, StampWritten))
	return err
}

func (a casWriters) remove(ctx context.Context, key, _ string) error {
	prev, next, err := a.s.mutate(ctx, key, "delete", NoReaderNoWriter, Combine(RequireExisting, IncWriters))
	if err != nil {
		return err
	}
	a.s.dropChunks(ctx, key, prev.rec.Chunks)

	mkey := a.s.masterKey(key)
	removed, err := a.s.provider.RemoveIfEqual(ctx, mkey, next.raw)
	if err != nil {
		return fmt.Errorf("chunkstream: delete %q: %w", mkey, err)
	}
	if !removed {
		return &ConcurrentModificationError{Key: key, Reason: "master record replaced during delete"}
	}
	return nil
}

// writePriority readers do not register. Open waits out active writers and
// keeps a snapshot; every fetched chunk is then checked against the live
// record's version.
type writePriority struct {
	casWriters
}

func (a writePriority) openReader(ctx context.Context, key, _ string) (Record, error) {
	cur, _, err := a.s.mutate(ctx, key, "open_reader", NoWriter, nil)
	if err != nil {
		return Record{}, err
	}
	if !cur.found {
		return Record{}, ErrNotFound
	}
	return cur.rec, nil
}

func (a writePriority) checkRead(ctx context.Context, key string, snap Record) error {
	live, err := a.s.load(ctx, a.s.masterKey(key))
	if err != nil {
		return err
	}
	if !live.found {
		return &ConcurrentModificationError{Key: key, Reason: "stream removed while reading"}
	}
	if live.rec.Version != snap.Version {
		return &ConcurrentModificationError{
			Key:    key,
			Reason: fmt.Sprintf("record version %d changed to %d while reading", snap.Version, live.rec.Version),
		}
	}
	return nil
}

func (writePriority) closeReader(context.Context, string, string) error { return nil }

// readCommitted counts readers in the master record; writers wait for zero.
type readCommitted struct {
	casWriters
}

func (a readCommitted) openReader(ctx context.Context, key, _ string) (Record, error) {
	_, next, err := a.s.mutate(ctx, key, "open_reader", NoWriter, Combine(RequireExisting, IncReaders, StampRead))
	if err != nil {
		return Record{}, err
	}
	return next.rec, nil
}

func (readCommitted) checkRead(context.Context, string, Record) error { return nil }

func (a readCommitted) closeReader(ctx context.Context, key, _ string) error {
	_, _, err := a.s.mutate(ctx, key, "close_reader", Always, Combine(RequireExisting, DecReaders, StampRead))
	return err
}

// lockAdmission uses the store's native RW locks keyed by the master key.
// The record still carries chunk descriptors but no counters.
type lockAdmission struct {
	s      *streams
	locker pr.Locker
}

func (a *lockAdmission) lock(ctx context.Context, key, owner, op string, write bool) error {
	mkey := a.s.masterKey(key)
	start := time.Now()
	var ok bool
	var err error
	if write {
		ok, err = a.locker.TryWriteLock(ctx, mkey, owner, a.s.timeout)
	} else {
		ok, err = a.locker.TryReadLock(ctx, mkey, owner, a.s.timeout)
	}
	if err != nil {
		return a.s.deadline(ctx, key, op, start, fmt.Errorf("chunkstream: %s %q: %w", op, key, err))
	}
	if !ok {
		elapsed := time.Since(start)
		a.s.hooks.AdmissionTimeout(mkey, op, elapsed)
		return &TimeoutError{Key: key, Op: op, Elapsed: elapsed}
	}
	return nil
}

// unlock releases only a lock the owner still holds.
func (a *lockAdmission) unlock(ctx context.Context, key, owner string, write bool) error {
	mkey := a.s.masterKey(key)
	var held bool
	var err error
	if write {
		held, err = a.locker.HoldsWriteLock(ctx, mkey, owner)
	} else {
		held, err = a.locker.HoldsReadLock(ctx, mkey, owner)
	}
	if err != nil {
		return fmt.Errorf("chunkstream: lock ownership %q: %w", key, err)
	}
	if !held {
		a.s.hooks.LockNotOwned(mkey, owner)
		a.s.log.Warn("session no longer owns its lock; not releasing", Fields{"key": key, "owner": owner, "write": write})
		return nil
	}
	if write {
		err = a.locker.WriteUnlock(ctx, mkey, owner)
	} else {
		err = a.locker.ReadUnlock(ctx, mkey, owner)
	}
	if err != nil {
		return fmt.Errorf("chunkstream: unlock %q: %w", key, err)
	}
	return nil
}

func (a *lockAdmission) openReader(ctx context.Context, key, owner string) (Record, error) {
	if err := a.lock(ctx, key, owner, "open_reader", false); err != nil {
		return Record{}, err
	}
	snap, err := a.s.load(ctx, a.s.masterKey(key))
	if err == nil && !snap.found {
		err = ErrNotFound
	}
	if err != nil {
		_ = a.unlock(context.WithoutCancel(ctx), key, owner, false)
		return Record{}, err
	}
	return snap.rec, nil
}

func (a *lockAdmission) checkRead(context.Context, string, Record) error { return nil }

func (a *lockAdmission) closeReader(ctx context.Context, key, owner string) error {
	return a.unlock(ctx, key, owner, false)
}

func (a *lockAdmission) openWriter(ctx context.Context, key, owner string, override bool) (Record, error) {
	if err := a.lock(ctx, key, owner, "open_writer", true); err != nil {
		return Record{}, err
	}
	var mut Mutation
	if override {
		mut = ResetChunks
	}
	prev, next, err := a.s.replace(ctx, key, mut)
	if err != nil {
		_ = a.unlock(context.WithoutCancel(ctx), key, owner, true)
		return Record{}, err
	}
	if override && prev.found {
		a.s.dropChunks(ctx, key, prev.rec.Chunks)
	}
	return next.rec, nil
}

// commitChunk rewrites the record only while owner still holds the write
// lock; a lock lost to expiry is a concurrent modification.
func (a *lockAdmission) commitChunk(ctx context.Context, key, owner string, c Chunk) error {
	mkey := a.s.masterKey(key)
	held, err := a.locker.HoldsWriteLock(ctx, mkey, owner)
	if err != nil {
		return fmt.Errorf("chunkstream: lock ownership %q: %w", key, err)
	}
	if !held {
		a.s.hooks.LockNotOwned(mkey, owner)
		return &ConcurrentModificationError{Key: key, Reason: "write lock no longer held"}
	}
	_, _, err = a.s.replace(ctx, key, Combine(RequireExisting, AppendChunk(c), StampWritten))
	return err
}

func (a *lockAdmission) closeWriter(ctx context.Context, key, owner string) error {
	held, err := a.locker.HoldsWriteLock(ctx, a.s.masterKey(key), owner)
	if err != nil {
		return fmt.Errorf("chunkstream: lock ownership %q: %w", key, err)
	}
	var stampErr error
	if held {
		_, _, stampErr = a.s.replace(ctx, key, Combine(RequireExisting, StampWritten))
	}
	unlockErr := a.unlock(ctx, key, owner, true)
	if stampErr != nil {
		return stampErr
	}
	return unlockErr
}

func (a *lockAdmission) remove(ctx context.Context, key, owner string) error {
	if err := a.lock(ctx, key, owner, "delete", true); err != nil {
		return err
	}
	defer func() { _ = a.unlock(context.WithoutCancel(ctx), key, owner, true) }()

	mkey := a.s.masterKey(key)
	snap, err := a.s.load(ctx, mkey)
	if err != nil {
		return err
	}
	if !snap.found {
		return ErrNotFound
	}
	a.s.dropChunks(ctx, key, snap.rec.Chunks)
	if err := a.s.provider.Del(ctx, mkey); err != nil {
		return fmt.Errorf("chunkstream: delete %q: %w", mkey, err)
	}
	return nil
}
