package chunkstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/chunkstream/backoff"
)

// mutate is the only CAS path to the master record. It loops until the
// timeout elapses: read the record, check pre, apply mut to a copy, then
// CAS-replace it (or put-if-absent when no record exists). A failed
// precondition or a lost race backs off and retries.
//
// With mut == nil nothing is written: mutate waits for pre to hold and
// returns the observed record as both prev and next.
func (s *streams) mutate(ctx context.Context, key, op string, pre Precondition, mut Mutation) (prev, next snapshot, err error) {
	mkey := s.masterKey(key)
	start := time.Now()

	for attempt := 0; ; attempt++ {
		cur, err := s.load(ctx, mkey)
		if err != nil {
			return cur, next, s.deadline(ctx, key, op, start, err)
		}
		var curp *Record
		if cur.found {
			curp = &cur.rec
		}

		if pre(curp) {
			if mut == nil {
				return cur, cur, nil
			}
			rec, err := s.apply(key, cur, mut)
			if err != nil {
				return cur, next, err
			}
			raw, err := s.encodeRecord(rec)
			if err != nil {
				return cur, next, err
			}

			var swapped bool
			if cur.found {
				swapped, err = s.provider.CompareAndSwap(ctx, mkey, cur.raw, raw)
			} else {
				var loaded bool
				_, loaded, err = s.provider.PutIfAbsent(ctx, mkey, raw)
				swapped = !loaded
			}
			if err != nil {
				return cur, next, s.deadline(ctx, key, op, start, fmt.Errorf("chunkstream: %s %q: %w", op, key, err))
			}
			if swapped {
				return cur, snapshot{rec: rec, raw: raw, found: true}, nil
			}
			s.hooks.MutateConflict(mkey, attempt)
			s.log.Debug("master record CAS lost race", Fields{"key": key, "op": op, "attempt": attempt})
		}

		elapsed := time.Since(start)
		if elapsed >= s.timeout {
			s.hooks.AdmissionTimeout(mkey, op, elapsed)
			return cur, next, &TimeoutError{Key: key, Op: op, Elapsed: elapsed}
		}
		wait := s.backoff.Wait(attempt)
		if rem := s.timeout - elapsed; wait > rem {
			wait = rem
		}
		if err := backoff.Sleep(ctx, wait); err != nil {
			return cur, next, s.deadline(ctx, key, op, start, err)
		}
	}
}

// deadline turns an error caused by the ctx deadline into a TimeoutError so
// callers see one timeout kind whichever budget ran out first. Cancellation
// and provider failures pass through unchanged.
func (s *streams) deadline(ctx context.Context, key, op string, start time.Time, err error) error {
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}
	elapsed := time.Since(start)
	s.hooks.AdmissionTimeout(s.masterKey(key), op, elapsed)
	return &TimeoutError{Key: key, Op: op, Elapsed: elapsed, Err: context.DeadlineExceeded}
}
