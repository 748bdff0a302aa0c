package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/chunkstream/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool

	lockPrefix string
	lockTTL    time.Duration
}

var (
	_ pr.Provider = (*Redis)(nil)
	_ pr.Locker   = (*Redis)(nil)
)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this provider exclusively owns the client

	// LockPrefix is prepended to a key to name its lock hash. Default "lock:".
	LockPrefix string
	// LockTTL expires a lock hash that is not refreshed, releasing the locks of
	// crashed owners. 0 keeps locks until released.
	LockTTL time.Duration
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	prefix := cfg.LockPrefix
	if prefix == "" {
		prefix = "lock:"
	}
	return &Redis{
		rdb:         cfg.Client,
		closeClient: cfg.CloseClient,
		lockPrefix:  prefix,
		lockTTL:     cfg.LockTTL,
	}, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (p *Redis) Put(ctx context.Context, key string, value []byte) error {
	return p.rdb.Set(ctx, key, value, 0).Err()
}

func (p *Redis) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	n, err := scriptCAS.Run(ctx, p.rdb, []string{key}, old, next).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *Redis) PutIfAbsent(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	res, err := scriptPutIfAbsent.Run(ctx, p.rdb, []string{key}, value).Slice()
	if err != nil {
		return nil, false, err
	}
	if len(res) == 0 {
		return nil, false, fmt.Errorf("redis provider: empty reply for %q", key)
	}
	if loaded, _ := res[0].(int64); loaded == 0 {
		return nil, false, nil
	}
	if len(res) < 2 {
		return nil, false, fmt.Errorf("redis provider: malformed reply for %q", key)
	}
	prev, _ := res[1].(string)
	return []byte(prev), true, nil
}

func (p *Redis) RemoveIfEqual(ctx context.Context, key string, expected []byte) (bool, error) {
	n, err := scriptRemoveIfEqual.Run(ctx, p.rdb, []string{key}, expected).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, key).Err()
}

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
