// Package git provides shared concurrency control for git CLI operations.
package git

import (
	"context"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent git processes with a weighted semaphore and
// serialises mutating operations per working copy.
type Pool struct {
	sem *semaphore.Weighted

	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewPool creates a Pool that allows at most limit concurrent git operations.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{
		sem:   semaphore.NewWeighted(int64(limit)),
		locks: make(map[string]*pathLock),
	}
}

// Run acquires a slot, runs fn, and releases the slot.
// Blocks if all slots are busy. Returns ctx.Err() if the context
// is cancelled while waiting for a slot.
// If the pool is nil, fn is executed directly without concurrency control.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Exclusive runs fn holding the per-path lock for dir plus a pool slot.
// Mutations on the same working copy (checkout, pull, commit, reset) never
// overlap; reads through Run are not blocked by it.
func (p *Pool) Exclusive(ctx context.Context, dir string, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	l := p.acquireLock(filepath.Clean(dir))
	defer p.releaseLock(filepath.Clean(dir), l)

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return p.Run(ctx, fn)
}

func (p *Pool) acquireLock(key string) *pathLock {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[key]
	if !ok {
		l = &pathLock{sem: semaphore.NewWeighted(1)}
		p.locks[key] = l
	}
	l.refs++
	return l
}

func (p *Pool) releaseLock(key string, l *pathLock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(p.locks, key)
	}
}
