package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rdotel "github.com/Strob0t/repodeck/internal/adapter/otel"
	"github.com/Strob0t/repodeck/internal/adapter/ws"
	"github.com/Strob0t/repodeck/internal/config"
	"github.com/Strob0t/repodeck/internal/domain"
	"github.com/Strob0t/repodeck/internal/domain/workcopy"
	"github.com/Strob0t/repodeck/internal/inflight"
	"github.com/Strob0t/repodeck/internal/logger"
	"github.com/Strob0t/repodeck/internal/port/broadcast"
	"github.com/Strob0t/repodeck/internal/port/cache"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
	"github.com/Strob0t/repodeck/internal/port/journal"
)

// WatcherFactory starts a filesystem watcher on dir that calls nudge whenever
// the working copy changes. Closing the returned value stops it.
type WatcherFactory func(ctx context.Context, dir string, nudge func()) (io.Closer, error)

// Session binds the sync engines to one active repository at a time.
type Session struct {
	id      string
	backend gitbackend.Backend
	hub     broadcast.Broadcaster
	sync    config.Sync

	life     *inflight.Manager[workcopy.Repository]
	outcomes *outcomeRecorder
	diff     *DiffSync
	branches *BranchController
	log      *CommitLog
	actions  *Actions

	watch WatcherFactory

	ctx    context.Context
	cancel context.CancelFunc

	// openMu serialises Open, Detach and Close.
	openMu sync.Mutex

	mu      sync.RWMutex
	pending *workcopy.Repository
	poller  *poller
	watcher io.Closer
	closed  bool
}

// NewSession wires the engines around backend. Nothing is polled until Open.
func NewSession(backend gitbackend.Backend, hub broadcast.Broadcaster, syncCfg config.Sync, actionsCfg config.Actions) *Session {
	if hub == nil {
		hub = broadcast.Nop{}
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(logger.WithSessionID(context.Background(), id))

	life := inflight.New[workcopy.Repository]()
	outcomes := &outcomeRecorder{sessionID: id, hub: hub, now: time.Now}
	diff := newDiffSync(backend, life, hub)
	commitLog := &CommitLog{backend: backend, life: life, hub: hub}

	s := &Session{
		id:       id,
		backend:  backend,
		hub:      hub,
		sync:     syncCfg,
		life:     life,
		outcomes: outcomes,
		diff:     diff,
		log:      commitLog,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.branches = &BranchController{
		backend:     backend,
		life:        life,
		hub:         hub,
		outcomes:    outcomes,
		afterChange: s.afterBranchChange,
	}
	s.actions = &Actions{
		backend:      backend,
		life:         life,
		outcomes:     outcomes,
		diff:         diff,
		log:          commitLog,
		commitPrefix: actionsCfg.CommitPrefix,
		now:          time.Now,
	}
	return s
}

// SetCache enables memoisation of extracted per-file diffs.
func (s *Session) SetCache(c cache.Cache, ttl time.Duration) {
	s.diff.cache = c
	s.diff.cacheTTL = ttl
}

// SetMetrics attaches the OTEL instruments to every engine.
func (s *Session) SetMetrics(m *rdotel.Metrics) {
	s.diff.metrics = m
	s.branches.metrics = m
	s.log.metrics = m
	s.outcomes.metrics = m
}

// SetJournal records every outcome in j.
func (s *Session) SetJournal(j journal.Store) {
	s.outcomes.journal = j
}

// SetWatcher installs the watcher used when sync.watch is enabled.
func (s *Session) SetWatcher(f WatcherFactory) {
	s.watch = f
}

// SetClock overrides the time source of commit messages and outcomes.
func (s *Session) SetClock(now func() time.Time) {
	s.actions.now = now
	s.outcomes.now = now
	s.diff.now = now
}

// Open switches the session to repo. The request stays pending while the
// backend prepares the working copy; if that fails the previous repository
// remains active and untouched. On success all in-flight work of the previous
// repository is cancelled before the first fetch for repo is issued.
func (s *Session) Open(ctx context.Context, repo workcopy.Repository) error {
	repo.Path = strings.TrimSpace(repo.Path)
	if repo.Path == "" {
		return fmt.Errorf("%w: repository path is required", domain.ErrValidation)
	}

	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return inflight.ErrClosed
	}
	s.pending = &repo
	s.mu.Unlock()

	if p, ok := s.backend.(gitbackend.Preparer); ok {
		if err := p.Prepare(ctx, repo); err != nil {
			s.mu.Lock()
			s.pending = nil
			s.mu.Unlock()
			slog.WarnContext(ctx, "repository open rolled back", "repo", repo.Key(), "error", err)
			return fmt.Errorf("open %s: %w", repo.Key(), err)
		}
	}

	s.switchTo(repo)
	slog.InfoContext(s.ctx, "repository opened", "repo", repo.Key())
	return nil
}

// Detach closes the active repository; the session can be opened again.
func (s *Session) Detach() {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed || s.life.Scope().IsZero() {
		return
	}
	s.switchTo(workcopy.Repository{})
	slog.InfoContext(s.ctx, "repository detached")
}

// switchTo must be called with openMu held.
func (s *Session) switchTo(repo workcopy.Repository) {
	s.stopLoops()

	s.life.RebindFunc(repo, func() {
		s.diff.reset()
		s.branches.reset()
		s.log.reset()
		s.outcomes.reset()
	})

	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()

	if !repo.IsZero() {
		s.startLoops(repo)
	}

	var current *workcopy.Repository
	if !repo.IsZero() {
		current = &repo
	}
	s.hub.BroadcastEvent(s.ctx, ws.EventSessionSwitched, ws.SessionSwitchedEvent{
		SessionID:  s.id,
		Repository: current,
	})
}

func (s *Session) startLoops(repo workcopy.Repository) {
	p := startPoller(s.ctx, []pollTarget{
		{name: keyDiff, interval: s.sync.DiffInterval, refresh: s.diff.RefreshDiff},
		{name: keyStatus, interval: s.sync.StatusInterval, refresh: s.diff.RefreshStatus},
		{name: keyBranches, interval: s.sync.BranchesInterval, refresh: s.branches.RefreshBranches},
		{name: keyLog, interval: s.sync.LogInterval, refresh: s.log.RefreshLog},
	})

	var w io.Closer
	if s.sync.Watch && s.watch != nil {
		var err error
		w, err = s.watch(s.ctx, repo.Path, func() {
			if err := s.diff.RefreshDiff(s.ctx); err != nil && !errors.Is(err, inflight.ErrClosed) {
				slog.DebugContext(s.ctx, "watch refresh returned error", "error", err)
			}
		})
		if err != nil {
			slog.WarnContext(s.ctx, "file watcher unavailable, polling only", "repo", repo.Key(), "error", err)
			w = nil
		}
	}

	s.mu.Lock()
	s.poller = p
	s.watcher = w
	s.mu.Unlock()
}

func (s *Session) stopLoops() {
	s.mu.Lock()
	p, w := s.poller, s.watcher
	s.poller, s.watcher = nil, nil
	s.mu.Unlock()

	if w != nil {
		if err := w.Close(); err != nil {
			slog.DebugContext(s.ctx, "closing file watcher", "error", err)
		}
	}
	p.stop()
}

// Close cancels all work, stops every loop and waits for them to exit.
func (s *Session) Close() {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.life.Close()
	s.cancel()
	s.stopLoops()
}

// Refresh forces a refresh of every endpoint of the active repository.
func (s *Session) Refresh(ctx context.Context) error {
	if s.life.Scope().IsZero() {
		return domain.ErrNoRepository
	}
	return errors.Join(
		s.diff.ForceRefreshDiff(ctx),
		s.diff.ForceRefreshStatus(ctx),
		s.branches.ForceRefreshBranches(ctx),
		s.log.ForceRefreshLog(ctx),
	)
}

// afterBranchChange refreshes the views a branch switch invalidates.
func (s *Session) afterBranchChange(ctx context.Context) {
	if err := errors.Join(s.diff.ForceRefreshDiff(ctx), s.log.ForceRefreshLog(ctx)); err != nil {
		slog.DebugContext(ctx, "refresh after branch change", "error", err)
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Repository returns the active repository, or the zero value.
func (s *Session) Repository() workcopy.Repository { return s.life.Scope() }

// Pending returns the repository being opened, or nil.
func (s *Session) Pending() *workcopy.Repository {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return nil
	}
	p := *s.pending
	return &p
}

// Diff, Branches, Log and Actions expose the engines of the session.
func (s *Session) Diff() *DiffSync { return s.diff }
func (s *Session) Branches() *BranchController { return s.branches }
func (s *Session) Log() *CommitLog { return s.log }
func (s *Session) Actions() *Actions { return s.actions }

// LastOutcome returns the most recent outcome for the active repository.
func (s *Session) LastOutcome() *workcopy.Outcome { return s.outcomes.Last() }
