// Package ristretto adapts dgraph-io/ristretto. The admission policy may drop
// writes and evict under MaxCost, so it suits streams that can be rebuilt.
package ristretto

import (
	"bytes"
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/chunkstream/internal/util"
	pr "github.com/unkn0wn-root/chunkstream/provider"
)

type Provider struct {
	c       *rc.Cache
	ttl     time.Duration
	striped util.Striped
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64 // in bytes; each entry costs len(value)
	BufferItems int64
	Metrics     bool
	TTL         time.Duration // 0 = no expiry
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{c: c, ttl: cfg.TTL}, nil
}

func (p *Provider) get(key string) ([]byte, bool) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		return nil, false
	}
	return b, true
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := p.get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

// set stores a private copy and waits until it is visible. A write dropped by
// the admission policy is reported as ErrRejected.
func (p *Provider) set(key string, value []byte) error {
	v := append(make([]byte, 0, len(value)), value...)
	if !p.c.SetWithTTL(key, v, int64(len(v)), p.ttl) {
		return pr.ErrRejected
	}
	p.c.Wait()
	if cur, ok := p.get(key); !ok || !bytes.Equal(cur, v) {
		return pr.ErrRejected
	}
	return nil
}

func (p *Provider) Put(_ context.Context, key string, value []byte) error {
	mu := p.striped.For(key)
	mu.Lock()
	defer mu.Unlock()
	return p.set(key, value)
}

func (p *Provider) CompareAndSwap(_ context.Context, key string, old, next []byte) (bool, error) {
	mu := p.striped.For(key)
	mu.Lock()
	defer mu.Unlock()
	cur, ok := p.get(key)
	if !ok || !bytes.Equal(cur, old) {
		return false, nil
	}
	if err := p.set(key, next); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) PutIfAbsent(_ context.Context, key string, value []byte) ([]byte, bool, error) {
	mu := p.striped.For(key)
	mu.Lock()
	defer mu.Unlock()
	if cur, ok := p.get(key); ok {
		return append([]byte(nil), cur...), true, nil
	}
	return nil, false, p.set(key, value)
}

func (p *Provider) RemoveIfEqual(_ context.Context, key string, expected []byte) (bool, error) {
	mu := p.striped.For(key)
	mu.Lock()
	defer mu.Unlock()
	cur, ok := p.get(key)
	if !ok || !bytes.Equal(cur, expected) {
		return false, nil
	}
	p.c.Del(key)
	p.c.Wait()
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	mu := p.striped.For(key)
	mu.Lock()
	defer mu.Unlock()
	p.c.Del(key)
	p.c.Wait()
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes ristretto counters when Config.Metrics is set.
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
