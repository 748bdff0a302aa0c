package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Locks live in one hash per key. Each owner has a reentrancy counter under
// field "r:<owner>" or "w:<owner>".

const (
	readField  = "r:"
	writeField = "w:"
)

func (p *Redis) lockKey(key string) string { return p.lockPrefix + key }

func (p *Redis) TryReadLock(ctx context.Context, key, owner string, timeout time.Duration) (bool, error) {
	return p.acquire(ctx, key, owner, false, timeout)
}

func (p *Redis) TryWriteLock(ctx context.Context, key, owner string, timeout time.Duration) (bool, error) {
	return p.acquire(ctx, key, owner, true, timeout)
}

func (p *Redis) acquire(ctx context.Context, key, owner string, write bool, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := p.tryLock(ctx, p.lockKey(key), owner, write)
		if err != nil || ok {
			return ok, err
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		wait := 10 * time.Millisecond
		if write {
			wait = time.Millisecond
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		}
	}
}

// tryLock makes one attempt. A concurrent change to the hash aborts the
// transaction and counts as busy.
func (p *Redis) tryLock(ctx context.Context, lkey, owner string, write bool) (bool, error) {
	acquired := false
	err := p.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		fields, err := tx.HKeys(ctx, lkey).Result()
		if err != nil {
			return err
		}
		for _, f := range fields {
			if len(f) < 2 || f[2:] == owner {
				continue
			}
			if write || strings.HasPrefix(f, writeField) {
				return nil
			}
		}
		field := readField + owner
		if write {
			field = writeField + owner
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HIncrBy(ctx, lkey, field, 1)
			if p.lockTTL > 0 {
				pipe.PExpire(ctx, lkey, p.lockTTL)
			}
			return nil
		})
		if err == nil {
			acquired = true
		}
		return err
	}, lkey)
	if errors.Is(err, goredis.TxFailedErr) {
		return false, nil
	}
	return acquired, err
}

func (p *Redis) ReadUnlock(ctx context.Context, key, owner string) error {
	return scriptUnlock.Run(ctx, p.rdb, []string{p.lockKey(key)}, readField+owner).Err()
}

func (p *Redis) WriteUnlock(ctx context.Context, key, owner string) error {
	return scriptUnlock.Run(ctx, p.rdb, []string{p.lockKey(key)}, writeField+owner).Err()
}

// HoldsReadLock and HoldsWriteLock renew the lease of a held lock when
// LockTTL is set. Sessions check ownership before every commit, so an active
// writer keeps its lock alive.
func (p *Redis) HoldsReadLock(ctx context.Context, key, owner string) (bool, error) {
	return p.holds(ctx, key, readField+owner)
}

func (p *Redis) HoldsWriteLock(ctx context.Context, key, owner string) (bool, error) {
	return p.holds(ctx, key, writeField+owner)
}

func (p *Redis) holds(ctx context.Context, key, field string) (bool, error) {
	if p.lockTTL <= 0 {
		return p.rdb.HExists(ctx, p.lockKey(key), field).Result()
	}
	n, err := scriptHoldAndRefresh.Run(ctx, p.rdb, []string{p.lockKey(key)}, field, p.lockTTL.Milliseconds()).Int()
	return n == 1, err
}
