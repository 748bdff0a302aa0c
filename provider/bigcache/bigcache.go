// Package bigcache adapts allegro/bigcache. Entries expire after LifeWindow
// and may be evicted at HardMaxCacheSizeMB, so streams stored here can fail
// reads with consistency errors. Conditional updates are serialized in process.
package bigcache

import (
	"bytes"
	"context"
	"errors"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/chunkstream/internal/util"
	pr "github.com/unkn0wn-root/chunkstream/provider"
)

type Provider struct {
	c       *bc.BigCache
	striped util.Striped
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Provider, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) get(key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	return b, err == nil, err
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	return p.get(key)
}

func (p *Provider) Put(_ context.Context, key string, value []byte) error {
	// BigCache does not support per-entry TTL; uses global LifeWindow.
	mu := p.striped.For(key)
	mu.Lock()
	defer mu.Unlock()
	return p.c.Set(key, value)
}

func (p *Provider) CompareAndSwap(_ context.Context, key string, old, next []byte) (bool, error) {
	mu := p.striped.For(key)
	mu.Lock()
	defer mu.Unlock()
	cur, ok, err := p.get(key)
	if err != nil || !ok || !bytes.Equal(cur, old) {
		return false, err
	}
	return true, p.c.Set(key, next)
}

func (p *Provider) PutIfAbsent(_ context.Context, key string, value []byte) ([]byte, bool, error) {
	mu := p.striped.For(key)
	mu.Lock()
	defer mu.Unlock()
	cur, ok, err := p.get(key)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return cur, true, nil
	}
	return nil, false, p.c.Set(key, value)
}

func (p *Provider) RemoveIfEqual(_ context.Context, key string, expected []byte) (bool, error) {
	mu := p.striped.For(key)
	mu.Lock()
	defer mu.Unlock()
	cur, ok, err := p.get(key)
	if err != nil || !ok || !bytes.Equal(cur, expected) {
		return false, err
	}
	return true, p.del(key)
}

func (p *Provider) del(key string) error {
	if err := p.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	mu := p.striped.For(key)
	mu.Lock()
	defer mu.Unlock()
	return p.del(key)
}

func (p *Provider) Close(_ context.Context) error {
	return p.c.Close()
}
