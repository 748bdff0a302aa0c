// Package backoff provides the wait policies used between failed attempts of
// the master-record mutate loop and between failed admission attempts.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// Strategy returns how long to wait before attempt n (0-based) is retried.
type Strategy interface {
	Wait(attempt int) time.Duration
}

// Constant waits the same duration regardless of attempt.
type Constant time.Duration

func (c Constant) Wait(int) time.Duration { return time.Duration(c) }

// Exponential waits min(Cap, Base * 2^attempt). With Jitter set the result is
// replaced by a uniform draw in [0, that value).
type Exponential struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter bool
}

var _ Strategy = Exponential{}

func (e Exponential) Wait(attempt int) time.Duration {
	if e.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	d := e.Base
	for i := 0; i < attempt; i++ {
		if e.Cap > 0 && d >= e.Cap {
			break
		}
		if d > time.Duration(1<<62)/2 {
			break // overflow guard when no cap is set
		}
		d *= 2
	}
	if e.Cap > 0 && d > e.Cap {
		d = e.Cap
	}
	if e.Jitter && d > 0 {
		d = time.Duration(rand.Int64N(int64(d)))
	}
	return d
}

// Default is the policy used when none is configured.
func Default() Strategy {
	return Exponential{Base: time.Millisecond, Cap: 200 * time.Millisecond, Jitter: true}
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
