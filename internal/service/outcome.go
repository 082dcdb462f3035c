package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	rdotel "github.com/Strob0t/repodeck/internal/adapter/otel"
	"github.com/Strob0t/repodeck/internal/adapter/ws"
	"github.com/Strob0t/repodeck/internal/domain/workcopy"
	"github.com/Strob0t/repodeck/internal/inflight"
	"github.com/Strob0t/repodeck/internal/port/broadcast"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
	"github.com/Strob0t/repodeck/internal/port/journal"
)

// outcomeRecorder publishes exactly one Outcome per finished mutation and
// remembers the latest one for the UI.
type outcomeRecorder struct {
	sessionID string
	hub       broadcast.Broadcaster
	metrics   *rdotel.Metrics
	journal   journal.Store
	now       func() time.Time

	mu   sync.RWMutex
	last *workcopy.Outcome
}

func (r *outcomeRecorder) success(ctx context.Context, tok inflight.Token[workcopy.Repository], action workcopy.Action, started time.Time, msg, hash string) {
	r.publish(ctx, tok, started, workcopy.Outcome{
		Action:     action,
		OK:         true,
		Message:    msg,
		CommitHash: hash,
	})
}

// failure surfaces the backend's message when it has one, else fallback.
func (r *outcomeRecorder) failure(ctx context.Context, tok inflight.Token[workcopy.Repository], action workcopy.Action, started time.Time, fallback string, err error) {
	slog.WarnContext(ctx, "action failed", "action", action, "repo", tok.Scope().Key(), "error", err)
	r.publish(ctx, tok, started, workcopy.Outcome{
		Action:  action,
		OK:      false,
		Message: userMessage(err, fallback),
	})
}

func (r *outcomeRecorder) publish(ctx context.Context, tok inflight.Token[workcopy.Repository], started time.Time, o workcopy.Outcome) {
	o.Repository = tok.Scope().Key()
	o.At = r.now()
	took := o.At.Sub(started)

	result := rdotel.ResultOK
	if !o.OK {
		result = rdotel.ResultFailed
	}
	r.metrics.RecordAction(ctx, string(o.Action), result, took)

	if r.journal != nil {
		entry := &journal.Entry{SessionID: r.sessionID, Outcome: o, Duration: took}
		if err := r.journal.Append(ctx, entry); err != nil {
			slog.WarnContext(ctx, "journal append failed", "action", o.Action, "error", err)
		}
	}

	// A repository switched while the mutation ran keeps the outcome in the
	// journal only.
	applied := tok.Apply(func() {
		r.mu.Lock()
		r.last = &o
		r.mu.Unlock()
	})
	if !applied {
		slog.InfoContext(ctx, "dropping outcome for inactive repository", "action", o.Action, "repo", o.Repository)
		return
	}
	r.hub.BroadcastEvent(ctx, ws.EventActionOutcome, o)
}

// Last returns the most recent outcome, or nil.
func (r *outcomeRecorder) Last() *workcopy.Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil
	}
	o := *r.last
	return &o
}

func (r *outcomeRecorder) reset() {
	r.mu.Lock()
	r.last = nil
	r.mu.Unlock()
}

func userMessage(err error, fallback string) string {
	if msg := gitbackend.MessageOf(err); msg != "" {
		return msg
	}
	return fallback
}
