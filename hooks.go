package chunkstream

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; they run on the
// admission and read paths.
type Hooks interface {
	// A CAS on the master record lost a race and will be retried.
	MutateConflict(storageKey string, attempt int)

	// Admission or a record mutation ran out of its time budget.
	// op ∈ {"open_reader", "open_writer", "append", "close_reader", "close_writer", "delete"}
	AdmissionTimeout(storageKey, op string, elapsed time.Duration)

	// A chunk inside the declared boundary was missing or corrupt and is refetched.
	ChunkRefetch(storageKey string, index int64, attempt int)

	// Best-effort removal of stale chunk entries failed.
	CleanupFailed(storageKey string, err error)

	// A chunk write could not be committed and its rollback failed too.
	// The stream needs manual cleanup.
	RollbackFailed(storageKey string, writeErr, rollbackErr error)

	// A session closed under the locked mode no longer held its lock.
	LockNotOwned(storageKey, owner string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) MutateConflict(string, int)                     {}
func (NopHooks) AdmissionTimeout(string, string, time.Duration) {}
func (NopHooks) ChunkRefetch(string, int64, int)                {}
func (NopHooks) CleanupFailed(string, error)                    {}
func (NopHooks) RollbackFailed(string, error, error)            {}
func (NopHooks) LockNotOwned(string, string)                    {}
