package memory

import (
	"context"
	"time"
)

// keyLock is a reentrant owner-attributed RW lock. changed is closed and
// replaced on every release so waiters can block without polling.
type keyLock struct {
	writer  string
	wdepth  int
	readers map[string]int
	changed chan struct{}
}

func (l *keyLock) idle() bool { return l.wdepth == 0 && len(l.readers) == 0 }

func (l *keyLock) canRead(owner string) bool {
	return l.wdepth == 0 || l.writer == owner
}

func (l *keyLock) canWrite(owner string) bool {
	if l.wdepth > 0 {
		return l.writer == owner
	}
	for o := range l.readers {
		if o != owner {
			return false
		}
	}
	return true
}

func (l *keyLock) notify() {
	close(l.changed)
	l.changed = make(chan struct{})
}

// lockFor returns the lock state for key; p.lmu must be held.
func (p *Memory) lockFor(key string) *keyLock {
	l, ok := p.locks[key]
	if !ok {
		l = &keyLock{readers: make(map[string]int), changed: make(chan struct{})}
		p.locks[key] = l
	}
	return l
}

func (p *Memory) acquire(ctx context.Context, key string, timeout time.Duration, try func(*keyLock) bool) (bool, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		p.lmu.Lock()
		l := p.lockFor(key)
		if try(l) {
			p.lmu.Unlock()
			return true, nil
		}
		changed := l.changed
		p.lmu.Unlock()

		if timeout <= 0 {
			return false, nil
		}
		select {
		case <-changed:
		case <-deadline:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (p *Memory) TryReadLock(ctx context.Context, key, owner string, timeout time.Duration) (bool, error) {
	return p.acquire(ctx, key, timeout, func(l *keyLock) bool {
		if !l.canRead(owner) {
			return false
		}
		l.readers[owner]++
		return true
	})
}

func (p *Memory) TryWriteLock(ctx context.Context, key, owner string, timeout time.Duration) (bool, error) {
	return p.acquire(ctx, key, timeout, func(l *keyLock) bool {
		if !l.canWrite(owner) {
			return false
		}
		l.writer = owner
		l.wdepth++
		return true
	})
}

func (p *Memory) ReadUnlock(_ context.Context, key, owner string) error {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	l, ok := p.locks[key]
	if !ok || l.readers[owner] == 0 {
		return nil
	}
	if l.readers[owner]--; l.readers[owner] == 0 {
		delete(l.readers, owner)
	}
	p.release(key, l)
	return nil
}

func (p *Memory) WriteUnlock(_ context.Context, key, owner string) error {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	l, ok := p.locks[key]
	if !ok || l.wdepth == 0 || l.writer != owner {
		return nil
	}
	if l.wdepth--; l.wdepth == 0 {
		l.writer = ""
	}
	p.release(key, l)
	return nil
}

func (p *Memory) release(key string, l *keyLock) {
	l.notify()
	if l.idle() {
		delete(p.locks, key)
	}
}

func (p *Memory) HoldsReadLock(_ context.Context, key, owner string) (bool, error) {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	l, ok := p.locks[key]
	return ok && l.readers[owner] > 0, nil
}

func (p *Memory) HoldsWriteLock(_ context.Context, key, owner string) (bool, error) {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	l, ok := p.locks[key]
	return ok && l.wdepth > 0 && l.writer == owner, nil
}
