package service

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	rdotel "github.com/Strob0t/repodeck/internal/adapter/otel"
	"github.com/Strob0t/repodeck/internal/adapter/ws"
	"github.com/Strob0t/repodeck/internal/domain"
	"github.com/Strob0t/repodeck/internal/domain/workcopy"
	"github.com/Strob0t/repodeck/internal/inflight"
	"github.com/Strob0t/repodeck/internal/port/broadcast"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
)

// CommitLog holds the newest-first commit history of the current branch.
type CommitLog struct {
	backend gitbackend.Backend
	life    *inflight.Manager[workcopy.Repository]
	hub     broadcast.Broadcaster
	metrics *rdotel.Metrics

	mu      sync.RWMutex
	entries []workcopy.CommitLogEntry
	loaded  bool
}

// RefreshLog fetches the history unless a log fetch is already in flight.
func (l *CommitLog) RefreshLog(ctx context.Context) error {
	ran, err := l.life.Run(ctx, keyLog, l.fetch)
	if !ran && err == nil {
		l.metrics.RecordFetch(ctx, keyLog, rdotel.ResultSkipped)
	}
	return err
}

// ForceRefreshLog supersedes any in-flight log fetch.
func (l *CommitLog) ForceRefreshLog(ctx context.Context) error {
	return l.life.RunLatest(ctx, keyLog, l.fetch)
}

func (l *CommitLog) fetch(ctx context.Context, tok inflight.Token[workcopy.Repository]) error {
	repo := tok.Scope()
	if repo.IsZero() {
		return domain.ErrNoRepository
	}

	ctx, span := rdotel.StartFetchSpan(ctx, keyLog, repo.Key())
	entries, err := l.backend.Log(ctx, repo.Path)
	rdotel.EndSpan(span, err)
	if err != nil {
		if cancelled(ctx, err) {
			return nil
		}
		slog.WarnContext(ctx, "log refresh failed", "repo", repo.Key(), "error", err)
		l.metrics.RecordFetch(ctx, keyLog, rdotel.ResultFailed)
		return nil
	}

	var changed bool
	tok.Apply(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.loaded && slices.Equal(l.entries, entries) {
			return
		}
		l.entries = slices.Clone(entries)
		l.loaded = true
		changed = true
	})

	l.metrics.RecordFetch(ctx, keyLog, rdotel.ResultOK)
	if changed {
		l.hub.BroadcastEvent(ctx, ws.EventLogUpdated, ws.LogUpdatedEvent{
			Repository: repo.Key(),
			Commits:    slices.Clone(entries),
		})
	}
	return nil
}

// Entries returns the commit history, newest first.
func (l *CommitLog) Entries() []workcopy.CommitLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.entries)
}

func (l *CommitLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.loaded = false
}
