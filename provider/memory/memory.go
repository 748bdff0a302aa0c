// Package memory is an in-process provider with native key locks.
// It is the reference store for tests and single-process deployments.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	pr "github.com/unkn0wn-root/chunkstream/provider"
)

type Memory struct {
	mu sync.RWMutex
	m  map[string][]byte

	lmu   sync.Mutex
	locks map[string]*keyLock
}

var (
	_ pr.Provider = (*Memory)(nil)
	_ pr.Locker   = (*Memory)(nil)
)

func New() *Memory {
	return &Memory{
		m:     make(map[string][]byte),
		locks: make(map[string]*keyLock),
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}

func (p *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.RLock()
	v, ok := p.m[key]
	p.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (p *Memory) Put(_ context.Context, key string, value []byte) error {
	p.mu.Lock()
	p.m[key] = clone(value)
	p.mu.Unlock()
	return nil
}

func (p *Memory) CompareAndSwap(_ context.Context, key string, old, next []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.m[key]
	if !ok || !bytes.Equal(cur, old) {
		return false, nil
	}
	p.m[key] = clone(next)
	return true, nil
}

func (p *Memory) PutIfAbsent(_ context.Context, key string, value []byte) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.m[key]; ok {
		return clone(cur), true, nil
	}
	p.m[key] = clone(value)
	return nil, false, nil
}

func (p *Memory) RemoveIfEqual(_ context.Context, key string, expected []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.m[key]
	if !ok || !bytes.Equal(cur, expected) {
		return false, nil
	}
	delete(p.m, key)
	return true, nil
}

func (p *Memory) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *Memory) Close(context.Context) error { return nil }

// Len returns the number of stored entries.
func (p *Memory) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.m)
}

// Keys returns all stored keys in ascending order.
func (p *Memory) Keys() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.m))
	for k := range p.m {
		out = append(out, k)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}
