// Package provider defines the storage abstraction used by chunkstream.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously stored for a key (no prepended/appended
// metadata, no re-encoding). Conditional operations compare raw bytes.
//
// Important: the keyspace "stream:<len(ns)>:<ns>:" is owned by chunkstream. External code
// MUST NOT write values under this prefix. Foreign writes are treated as
// corruption by strict wire-format validation.
//
// Entries must not be evicted while a stream references them. Stores that may
// evict (ristretto, bigcache) surface that as consistency errors on read.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrRejected is returned by stores that may refuse a write under pressure.
var ErrRejected = errors.New("provider: write rejected")

// Provider is a byte store with conditional-update primitives.
// Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value unconditionally.
	Put(ctx context.Context, key string, value []byte) error

	// CompareAndSwap replaces the value at key with next iff the current value
	// equals old. A missing key never matches.
	CompareAndSwap(ctx context.Context, key string, old, next []byte) (swapped bool, err error)

	// PutIfAbsent stores value iff key is missing. When the key already exists
	// the current value is returned with loaded=true and nothing is written.
	PutIfAbsent(ctx context.Context, key string, value []byte) (prev []byte, loaded bool, err error)

	// RemoveIfEqual deletes key iff its current value equals expected.
	RemoveIfEqual(ctx context.Context, key string, expected []byte) (removed bool, err error)

	// Del removes a key. Missing keys are not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Locker is implemented by stores with native per-key read/write locks.
//
// Locks are attributed to an owner token and are reentrant per owner: a lock
// taken n times by the same owner must be released n times. A write lock
// excludes all other owners; read locks are shared.
type Locker interface {
	// TryReadLock waits up to timeout for a shared lock on key.
	TryReadLock(ctx context.Context, key, owner string, timeout time.Duration) (bool, error)
	// TryWriteLock waits up to timeout for an exclusive lock on key.
	TryWriteLock(ctx context.Context, key, owner string, timeout time.Duration) (bool, error)

	ReadUnlock(ctx context.Context, key, owner string) error
	WriteUnlock(ctx context.Context, key, owner string) error

	// HoldsReadLock and HoldsWriteLock report whether owner currently holds
	// the lock. Callers check them before releasing.
	HoldsReadLock(ctx context.Context, key, owner string) (bool, error)
	HoldsWriteLock(ctx context.Context, key, owner string) (bool, error)
}
