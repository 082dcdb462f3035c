package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	rdotel "github.com/Strob0t/repodeck/internal/adapter/otel"
	"github.com/Strob0t/repodeck/internal/domain"
	"github.com/Strob0t/repodeck/internal/domain/workcopy"
	"github.com/Strob0t/repodeck/internal/inflight"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
)

// Actions runs the compound mutations pull, commit+push and rollback. Each
// action is single-flight with itself; different actions may overlap.
type Actions struct {
	backend  gitbackend.Backend
	life     *inflight.Manager[workcopy.Repository]
	outcomes *outcomeRecorder
	diff     *DiffSync
	log      *CommitLog

	commitPrefix string
	now          func() time.Time
}

// Busy reports the per-action busy flags.
func (a *Actions) Busy() map[workcopy.Action]bool {
	return map[workcopy.Action]bool{
		workcopy.ActionPull:     a.life.Busy(keyPull),
		workcopy.ActionPush:     a.life.Busy(keyPush),
		workcopy.ActionRollback: a.life.Busy(keyRollback),
	}
}

// Pull merges upstream changes and reports how many commits arrived.
func (a *Actions) Pull(ctx context.Context) (*workcopy.PullResult, error) {
	if a.life.Scope().IsZero() {
		return nil, domain.ErrNoRepository
	}

	var result *workcopy.PullResult
	ran, err := a.life.Run(context.WithoutCancel(ctx), keyPull, func(ctx context.Context, tok inflight.Token[workcopy.Repository]) error {
		repo := tok.Scope()
		started := a.now()
		ctx, span := rdotel.StartActionSpan(ctx, string(workcopy.ActionPull), repo.Key())
		res, err := a.backend.Pull(ctx, repo.Path)
		rdotel.EndSpan(span, err)
		if err != nil {
			if cancelled(ctx, err) {
				return err
			}
			a.outcomes.failure(ctx, tok, workcopy.ActionPull, started, "Pull failed", err)
			return fmt.Errorf("pull: %w", err)
		}

		result = res
		a.outcomes.success(ctx, tok, workcopy.ActionPull, started, pullMessage(res.Pulled()), "")
		a.refreshAfter(ctx, tok, a.log.ForceRefreshLog, a.diff.ForceRefreshDiff, a.diff.ForceRefreshStatus)
		return nil
	})
	if err == nil && !ran {
		return nil, fmt.Errorf("pull: %w", domain.ErrBusy)
	}
	return result, err
}

// CommitAndPush commits every pending change with a timestamped message and
// pushes it. It returns the new commit hash.
func (a *Actions) CommitAndPush(ctx context.Context) (string, error) {
	if a.life.Scope().IsZero() {
		return "", domain.ErrNoRepository
	}
	if !a.diff.HasPendingChanges() {
		return "", fmt.Errorf("push: %w", domain.ErrNoChanges)
	}

	var hash string
	ran, err := a.life.Run(context.WithoutCancel(ctx), keyPush, func(ctx context.Context, tok inflight.Token[workcopy.Repository]) error {
		repo := tok.Scope()
		started := a.now()
		message := a.CommitMessage()

		ctx, span := rdotel.StartActionSpan(ctx, string(workcopy.ActionPush), repo.Key())
		h, err := a.backend.CommitAndPush(ctx, repo.Path, message)
		rdotel.EndSpan(span, err)
		if err != nil {
			if cancelled(ctx, err) {
				return err
			}
			a.outcomes.failure(ctx, tok, workcopy.ActionPush, started, "Push failed", err)
			return fmt.Errorf("push: %w", err)
		}

		hash = h
		a.outcomes.success(ctx, tok, workcopy.ActionPush, started, "Pushed "+shortHash(h), h)
		a.refreshAfter(ctx, tok, a.log.ForceRefreshLog, a.diff.ForceRefreshDiff, a.diff.ForceRefreshStatus)
		return nil
	})
	if err == nil && !ran {
		return "", fmt.Errorf("push: %w", domain.ErrBusy)
	}
	return hash, err
}

// Rollback discards every pending change. It is irreversible and therefore
// requires confirmed to be true.
func (a *Actions) Rollback(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return fmt.Errorf("rollback: %w", domain.ErrNotConfirmed)
	}
	if a.life.Scope().IsZero() {
		return domain.ErrNoRepository
	}
	if !a.diff.HasPendingChanges() {
		return fmt.Errorf("rollback: %w", domain.ErrNoChanges)
	}

	ran, err := a.life.Run(context.WithoutCancel(ctx), keyRollback, func(ctx context.Context, tok inflight.Token[workcopy.Repository]) error {
		repo := tok.Scope()
		started := a.now()
		ctx, span := rdotel.StartActionSpan(ctx, string(workcopy.ActionRollback), repo.Key())
		err := a.backend.Rollback(ctx, repo.Path)
		rdotel.EndSpan(span, err)
		if err != nil {
			if cancelled(ctx, err) {
				return err
			}
			a.outcomes.failure(ctx, tok, workcopy.ActionRollback, started, "Rollback failed", err)
			return fmt.Errorf("rollback: %w", err)
		}

		a.outcomes.success(ctx, tok, workcopy.ActionRollback, started, "Discarded all pending changes", "")
		a.refreshAfter(ctx, tok, a.diff.ForceRefreshDiff)
		return nil
	})
	if err == nil && !ran {
		return fmt.Errorf("rollback: %w", domain.ErrBusy)
	}
	return err
}

// CommitMessage builds the deterministic commit message for the current instant.
func (a *Actions) CommitMessage() string {
	return fmt.Sprintf("%s %s", a.commitPrefix, a.now().UTC().Format(time.RFC3339))
}

// refreshAfter runs the given superseding refreshes concurrently, provided the
// mutation still belongs to the active repository.
func (a *Actions) refreshAfter(ctx context.Context, tok inflight.Token[workcopy.Repository], refreshes ...func(context.Context) error) {
	if !tok.Valid() {
		return
	}
	var g errgroup.Group
	for _, refresh := range refreshes {
		g.Go(func() error { return refresh(ctx) })
	}
	_ = g.Wait()
}

func pullMessage(pulled int) string {
	switch pulled {
	case 0:
		return "Already up to date"
	case 1:
		return "Pulled 1 commit"
	default:
		return fmt.Sprintf("Pulled %d commits", pulled)
	}
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
