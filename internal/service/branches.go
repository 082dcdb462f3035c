package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	rdotel "github.com/Strob0t/repodeck/internal/adapter/otel"
	"github.com/Strob0t/repodeck/internal/adapter/ws"
	"github.com/Strob0t/repodeck/internal/domain"
	"github.com/Strob0t/repodeck/internal/domain/workcopy"
	"github.com/Strob0t/repodeck/internal/inflight"
	"github.com/Strob0t/repodeck/internal/port/broadcast"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
)

// BranchPhase is the observable state of the BranchController.
type BranchPhase string

const (
	BranchIdle        BranchPhase = "idle"
	BranchListing     BranchPhase = "listing"
	BranchCheckingOut BranchPhase = "checking-out"
	BranchCreating    BranchPhase = "creating"
)

var errMalformedBranches = errors.New("backend reported branches without a current branch")

// BranchController owns the branch list of the active repository and
// serialises branch mutations. A background listing never clears the state
// of a running mutation.
type BranchController struct {
	backend  gitbackend.Backend
	life     *inflight.Manager[workcopy.Repository]
	hub      broadcast.Broadcaster
	outcomes *outcomeRecorder
	metrics  *rdotel.Metrics

	// afterChange runs once a mutation succeeded; it refreshes the views a
	// branch switch invalidates (diff, log).
	afterChange func(ctx context.Context)

	mu       sync.RWMutex
	state    workcopy.BranchState
	loaded   bool
	source   string
	listing  int
	mutation *branchMutation
}

type branchMutation struct {
	phase BranchPhase
}

// RefreshBranches fetches the branch list unless a listing is already in flight.
func (b *BranchController) RefreshBranches(ctx context.Context) error {
	ran, err := b.life.Run(ctx, keyBranches, b.fetchBranches)
	if !ran && err == nil {
		b.metrics.RecordFetch(ctx, keyBranches, rdotel.ResultSkipped)
	}
	return err
}

// ForceRefreshBranches supersedes any in-flight listing.
func (b *BranchController) ForceRefreshBranches(ctx context.Context) error {
	return b.life.RunLatest(ctx, keyBranches, b.fetchBranches)
}

func (b *BranchController) fetchBranches(ctx context.Context, tok inflight.Token[workcopy.Repository]) error {
	repo := tok.Scope()
	if repo.IsZero() {
		return domain.ErrNoRepository
	}

	b.mu.Lock()
	b.listing++
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.listing--
		b.mu.Unlock()
	}()

	ctx, span := rdotel.StartFetchSpan(ctx, keyBranches, repo.Key())
	resp, err := b.backend.Branches(ctx, repo.Path)
	var next workcopy.BranchState
	if err == nil {
		next, err = normalizeBranches(resp)
	}
	rdotel.EndSpan(span, err)
	if err != nil {
		if cancelled(ctx, err) {
			return nil
		}
		slog.WarnContext(ctx, "branch refresh failed", "repo", repo.Key(), "error", err)
		b.metrics.RecordFetch(ctx, keyBranches, rdotel.ResultFailed)
		return nil
	}

	var (
		changed bool
		event   ws.BranchesUpdatedEvent
	)
	tok.Apply(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if !b.loaded || b.state.Current != next.Current || !slices.Equal(b.state.All, next.All) {
			b.state = next
			changed = true
		}
		b.loaded = true
		if b.source == "" || !next.Contains(b.source) {
			changed = changed || b.source != next.Current
			b.source = next.Current
		}
		event = ws.BranchesUpdatedEvent{
			Repository: repo.Key(),
			Branches:   cloneBranches(b.state),
			Source:     b.source,
		}
	})

	b.metrics.RecordFetch(ctx, keyBranches, rdotel.ResultOK)
	if changed {
		b.hub.BroadcastEvent(ctx, ws.EventBranchesUpdated, event)
	}
	return nil
}

// validBranch rejects names git would refuse or parse as an option.
func validBranch(name string) error {
	if name == "" {
		return fmt.Errorf("%w: branch name is required", domain.ErrValidation)
	}
	if err := workcopy.ValidateBranchName(name); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return nil
}

// normalizeBranches enforces Current ∈ All. A response naming branches but no
// current branch is rejected as malformed.
func normalizeBranches(resp *workcopy.BranchState) (workcopy.BranchState, error) {
	if resp == nil {
		return workcopy.BranchState{}, errMalformedBranches
	}
	all := make([]string, 0, len(resp.All)+1)
	for _, name := range resp.All {
		if name != "" && !slices.Contains(all, name) {
			all = append(all, name)
		}
	}
	switch {
	case resp.Current == "" && len(all) > 0:
		return workcopy.BranchState{}, errMalformedBranches
	case resp.Current != "" && !slices.Contains(all, resp.Current):
		all = append([]string{resp.Current}, all...)
	}
	return workcopy.BranchState{Current: resp.Current, All: all}, nil
}

// Checkout switches to name. Checking out the current branch succeeds without
// a backend call. A second mutation while one is running fails with ErrBusy.
func (b *BranchController) Checkout(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := validBranch(name); err != nil {
		return err
	}
	if b.life.Scope().IsZero() {
		return domain.ErrNoRepository
	}
	if b.Current() == name {
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	ran, err := b.life.Run(ctx, keyBranchMutation, func(ctx context.Context, tok inflight.Token[workcopy.Repository]) error {
		m := b.beginMutation(BranchCheckingOut)
		defer b.endMutation(m)

		repo := tok.Scope()
		started := b.outcomes.now()
		ctx, span := rdotel.StartActionSpan(ctx, string(workcopy.ActionCheckout), repo.Key())
		err := b.backend.Checkout(ctx, repo.Path, name)
		rdotel.EndSpan(span, err)
		if err != nil {
			if cancelled(ctx, err) {
				return err
			}
			b.outcomes.failure(ctx, tok, workcopy.ActionCheckout, started, "Checkout failed", err)
			return fmt.Errorf("checkout %s: %w", name, err)
		}

		b.outcomes.success(ctx, tok, workcopy.ActionCheckout, started, "Switched to "+name, "")
		if tok.Valid() {
			_ = b.ForceRefreshBranches(ctx)
			if b.afterChange != nil {
				b.afterChange(ctx)
			}
		}
		return nil
	})
	if err == nil && !ran {
		return fmt.Errorf("checkout %s: %w", name, domain.ErrBusy)
	}
	return err
}

// CreateBranch creates name from source (or the remembered source branch when
// empty); the backend checks the new branch out.
func (b *BranchController) CreateBranch(ctx context.Context, name, source string) error {
	name = strings.TrimSpace(name)
	if err := validBranch(name); err != nil {
		return err
	}
	if b.life.Scope().IsZero() {
		return domain.ErrNoRepository
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = b.SourceBranch()
	}
	if source != "" {
		if err := validBranch(source); err != nil {
			return err
		}
	}

	ctx = context.WithoutCancel(ctx)
	ran, err := b.life.Run(ctx, keyBranchMutation, func(ctx context.Context, tok inflight.Token[workcopy.Repository]) error {
		m := b.beginMutation(BranchCreating)
		defer b.endMutation(m)

		repo := tok.Scope()
		started := b.outcomes.now()
		ctx, span := rdotel.StartActionSpan(ctx, string(workcopy.ActionCreateBranch), repo.Key())
		err := b.backend.CreateBranch(ctx, repo.Path, name, source)
		rdotel.EndSpan(span, err)
		if err != nil {
			if cancelled(ctx, err) {
				return err
			}
			b.outcomes.failure(ctx, tok, workcopy.ActionCreateBranch, started, "Branch creation failed", err)
			return fmt.Errorf("create branch %s: %w", name, err)
		}

		msg := "Created branch " + name
		if source != "" {
			msg += " from " + source
		}
		b.outcomes.success(ctx, tok, workcopy.ActionCreateBranch, started, msg, "")
		if tok.Valid() {
			_ = b.ForceRefreshBranches(ctx)
			if b.afterChange != nil {
				b.afterChange(ctx)
			}
		}
		return nil
	})
	if err == nil && !ran {
		return fmt.Errorf("create branch %s: %w", name, domain.ErrBusy)
	}
	return err
}

func (b *BranchController) beginMutation(phase BranchPhase) *branchMutation {
	m := &branchMutation{phase: phase}
	b.mu.Lock()
	b.mutation = m
	b.mu.Unlock()
	return m
}

func (b *BranchController) endMutation(m *branchMutation) {
	b.mu.Lock()
	if b.mutation == m {
		b.mutation = nil
	}
	b.mu.Unlock()
}

// State reports the running mutation, else listing, else idle.
func (b *BranchController) State() BranchPhase {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch {
	case b.mutation != nil:
		return b.mutation.phase
	case b.listing > 0:
		return BranchListing
	default:
		return BranchIdle
	}
}

// Branches returns a copy of the current branch state.
func (b *BranchController) Branches() workcopy.BranchState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneBranches(b.state)
}

// Current returns the checked-out branch name.
func (b *BranchController) Current() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Current
}

// SourceBranch returns the remembered branch new branches are created from.
func (b *BranchController) SourceBranch() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.source
}

// SetSourceBranch remembers name as the default create-from branch.
func (b *BranchController) SetSourceBranch(name string) error {
	name = strings.TrimSpace(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "" || (b.loaded && !b.state.Contains(name)) {
		return fmt.Errorf("%w: unknown source branch %q", domain.ErrValidation, name)
	}
	b.source = name
	return nil
}

func (b *BranchController) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = workcopy.BranchState{}
	b.loaded = false
	b.source = ""
}

func cloneBranches(s workcopy.BranchState) workcopy.BranchState {
	return workcopy.BranchState{Current: s.Current, All: slices.Clone(s.All)}
}
