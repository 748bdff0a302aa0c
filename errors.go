package chunkstream

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout                = errors.New("chunkstream: timeout")
	ErrConcurrentModification = errors.New("chunkstream: concurrent modification")
	ErrIllegalState           = errors.New("chunkstream: illegal state")
	ErrConsistency            = errors.New("chunkstream: consistency error")
	ErrFatalInconsistency     = errors.New("chunkstream: fatal inconsistency")
	ErrNotFound               = errors.New("chunkstream: stream not found")
	ErrLockingUnsupported     = errors.New("chunkstream: provider does not implement provider.Locker")

	// ErrNotOpen and ErrAlreadyOpen are both ErrIllegalState.
	ErrNotOpen     = fmt.Errorf("%w: session not open", ErrIllegalState)
	ErrAlreadyOpen = fmt.Errorf("%w: session already open", ErrIllegalState)
)

// TimeoutError reports that admission or a master-record mutation could not
// satisfy its precondition (or lock) within the configured budget, or before
// the caller's context deadline. In the latter case Err is
// context.DeadlineExceeded.
type TimeoutError struct {
	Key     string
	Op      string
	Elapsed time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chunkstream: %s %q timed out after %v: %v", e.Op, e.Key, e.Elapsed, e.Err)
	}
	return fmt.Sprintf("chunkstream: %s %q timed out after %v", e.Op, e.Key, e.Elapsed)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Unwrap() error { return e.Err }

// ConcurrentModificationError reports that the master record changed in a way
// the session did not expect.
type ConcurrentModificationError struct {
	Key    string
	Reason string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("chunkstream: %q modified concurrently: %s", e.Key, e.Reason)
}

func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification
}

// ConsistencyError reports a chunk declared by the master record that stayed
// missing or corrupt after all refetches. Usually eviction or a store that
// does not pin entries.
type ConsistencyError struct {
	Key      string
	Index    int64
	Attempts int
	Err      error // last observed reason, may be nil for a plain miss
}

func (e *ConsistencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chunkstream: %q chunk %d unavailable after %d attempts: %v",
			e.Key, e.Index, e.Attempts, e.Err)
	}
	return fmt.Sprintf("chunkstream: %q chunk %d missing after %d attempts", e.Key, e.Index, e.Attempts)
}

func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }
func (e *ConsistencyError) Unwrap() error        { return e.Err }

// FatalInconsistencyError reports a chunk that was stored but not committed to
// the master record, and whose removal failed as well. The stream keeps its
// writer count and a dangling chunk entry until cleaned up by hand.
type FatalInconsistencyError struct {
	Key         string
	Index       int64
	WriteErr    error
	RollbackErr error
}

func (e *FatalInconsistencyError) Error() string {
	return fmt.Sprintf("chunkstream: %q chunk %d left dangling: commit=%v; rollback=%v",
		e.Key, e.Index, e.WriteErr, e.RollbackErr)
}

func (e *FatalInconsistencyError) Is(target error) bool { return target == ErrFatalInconsistency }

func (e *FatalInconsistencyError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.WriteErr != nil {
		errs = append(errs, e.WriteErr)
	}
	if e.RollbackErr != nil {
		errs = append(errs, e.RollbackErr)
	}
	return errs
}
