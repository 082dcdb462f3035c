// Package inflight guards per-key operations with single-flight semantics and
// generation-based cancellation.
//
// A Manager is bound to one scope (the active repository). Rebind cancels
// every outstanding operation before the new scope becomes visible, so work
// started for the previous scope can never publish into the new one: its
// Token stops being valid and Apply refuses to run the continuation.
package inflight

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned once the manager has been torn down.
var ErrClosed = errors.New("inflight: manager closed")

// Func is an operation run under a key. ctx is cancelled when the operation
// is superseded, cancelled or its scope is replaced.
type Func[S any] func(ctx context.Context, tok Token[S]) error

type entry struct {
	cancel context.CancelFunc
}

// Manager tracks in-flight operations per key for the currently bound scope.
type Manager[S any] struct {
	mu      sync.Mutex
	gen     uint64
	genCtx  context.Context
	cancel  context.CancelFunc
	scope   S
	running map[string]*entry
	closed  bool
}

// New returns a Manager bound to the zero scope.
func New[S any]() *Manager[S] {
	m := &Manager[S]{}
	m.resetLocked()
	return m
}

// resetLocked must be called with m.mu held.
func (m *Manager[S]) resetLocked() {
	if m.cancel != nil {
		m.cancel()
	}
	m.gen++
	m.genCtx, m.cancel = context.WithCancel(context.Background())
	m.running = make(map[string]*entry)
}

// Run executes fn unless an operation for key is already in flight, in which
// case it returns (false, nil) without calling fn. Skipped calls are not queued.
func (m *Manager[S]) Run(ctx context.Context, key string, fn Func[S]) (bool, error) {
	tok, opCtx, done, err := m.begin(ctx, key, false)
	if err != nil {
		return false, err
	}
	if done == nil {
		return false, nil
	}
	defer done()
	return true, fn(opCtx, tok)
}

// RunLatest cancels any in-flight operation for key and runs fn in its place.
// The superseded operation's token becomes invalid, so its result is dropped.
func (m *Manager[S]) RunLatest(ctx context.Context, key string, fn Func[S]) error {
	tok, opCtx, done, err := m.begin(ctx, key, true)
	if err != nil {
		return err
	}
	defer done()
	return fn(opCtx, tok)
}

func (m *Manager[S]) begin(ctx context.Context, key string, supersede bool) (Token[S], context.Context, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Token[S]{}, nil, nil, ErrClosed
	}
	if cur, ok := m.running[key]; ok {
		if !supersede {
			return Token[S]{}, nil, nil, nil
		}
		cur.cancel()
	}

	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.genCtx, cancel)
	e := &entry{cancel: cancel}
	m.running[key] = e

	tok := Token[S]{m: m, gen: m.gen, key: key, entry: e, scope: m.scope}
	done := func() {
		stop()
		cancel()
		m.mu.Lock()
		if m.running[key] == e {
			delete(m.running, key)
		}
		m.mu.Unlock()
	}
	return tok, opCtx, done, nil
}

// CancelAll invalidates every outstanding operation. It returns after the
// cancellation is visible to all tokens; keys are free again immediately.
func (m *Manager[S]) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.resetLocked()
}

// Rebind cancels all outstanding operations and binds scope as the new
// current scope, atomically.
func (m *Manager[S]) Rebind(scope S) {
	m.RebindFunc(scope, nil)
}

// RebindFunc is Rebind with fn run inside the same critical section, after
// the old tokens are invalidated and before the first token for scope can
// be issued or applied. fn must not call back into the Manager.
func (m *Manager[S]) RebindFunc(scope S, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.resetLocked()
	m.scope = scope
	if fn != nil {
		fn()
	}
}

// Close cancels everything and rejects further operations with ErrClosed.
func (m *Manager[S]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.resetLocked()
	m.cancel()
	m.closed = true
}

// Scope returns the currently bound scope.
func (m *Manager[S]) Scope() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scope
}

// Busy reports whether an operation for key is in flight.
func (m *Manager[S]) Busy(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[key]
	return ok
}

// Token identifies one admitted operation.
type Token[S any] struct {
	m     *Manager[S]
	gen   uint64
	key   string
	entry *entry
	scope S
}

// Scope returns the scope the operation was admitted under.
func (t Token[S]) Scope() S { return t.scope }

// Valid reports whether the operation has neither been cancelled nor superseded.
func (t Token[S]) Valid() bool {
	if t.m == nil {
		return false
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.validLocked()
}

// Apply runs fn only if the token is still valid, and reports whether it ran.
// fn runs under the manager lock and must not call back into the Manager.
func (t Token[S]) Apply(fn func()) bool {
	if t.m == nil {
		return false
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if !t.validLocked() {
		return false
	}
	fn()
	return true
}

func (t Token[S]) validLocked() bool {
	return !t.m.closed && t.m.gen == t.gen && t.m.running[t.key] == t.entry
}
