package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	rdotel "github.com/Strob0t/repodeck/internal/adapter/otel"
	"github.com/Strob0t/repodeck/internal/adapter/ws"
	"github.com/Strob0t/repodeck/internal/domain"
	"github.com/Strob0t/repodeck/internal/domain/diff"
	"github.com/Strob0t/repodeck/internal/domain/workcopy"
	"github.com/Strob0t/repodeck/internal/inflight"
	"github.com/Strob0t/repodeck/internal/port/broadcast"
	"github.com/Strob0t/repodeck/internal/port/cache"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
)

const fileDiffNamespace = "filediff"

// DiffSync keeps the freshest diff snapshot and pull status of the active
// repository. Views derived from the snapshot (file list, per-file diff) are
// recomputed only when the raw diff text actually changes.
type DiffSync struct {
	backend gitbackend.Backend
	life    *inflight.Manager[workcopy.Repository]
	hub     broadcast.Broadcaster
	metrics *rdotel.Metrics

	cache    cache.Cache
	cacheTTL time.Duration
	now      func() time.Time

	mu          sync.RWMutex
	snapshot    *workcopy.DiffSnapshot
	files       []workcopy.FileChange
	fingerprint string
	selected    string
	status      workcopy.PullStatus
	statusSeen  bool
}

func newDiffSync(backend gitbackend.Backend, life *inflight.Manager[workcopy.Repository], hub broadcast.Broadcaster) *DiffSync {
	return &DiffSync{
		backend: backend,
		life:    life,
		hub:     hub,
		now:     time.Now,
		status:  workcopy.UncheckedStatus(),
	}
}

// RefreshDiff fetches the diff unless a diff fetch is already in flight.
// Fetch failures are logged and keep the last snapshot.
func (d *DiffSync) RefreshDiff(ctx context.Context) error {
	ran, err := d.life.Run(ctx, keyDiff, d.fetchDiff)
	if !ran && err == nil {
		d.metrics.RecordFetch(ctx, keyDiff, rdotel.ResultSkipped)
	}
	return err
}

// ForceRefreshDiff supersedes any in-flight diff fetch so the result reflects
// state after a mutation.
func (d *DiffSync) ForceRefreshDiff(ctx context.Context) error {
	return d.life.RunLatest(ctx, keyDiff, d.fetchDiff)
}

// RefreshStatus fetches ahead/behind counters unless already in flight.
func (d *DiffSync) RefreshStatus(ctx context.Context) error {
	ran, err := d.life.Run(ctx, keyStatus, d.fetchStatus)
	if !ran && err == nil {
		d.metrics.RecordFetch(ctx, keyStatus, rdotel.ResultSkipped)
	}
	return err
}

// ForceRefreshStatus supersedes any in-flight status fetch.
func (d *DiffSync) ForceRefreshStatus(ctx context.Context) error {
	return d.life.RunLatest(ctx, keyStatus, d.fetchStatus)
}

func (d *DiffSync) fetchDiff(ctx context.Context, tok inflight.Token[workcopy.Repository]) error {
	repo := tok.Scope()
	if repo.IsZero() {
		return domain.ErrNoRepository
	}

	ctx, span := rdotel.StartFetchSpan(ctx, keyDiff, repo.Key())
	raw, err := d.backend.Diff(ctx, repo.Path)
	rdotel.EndSpan(span, err)
	if err != nil {
		if cancelled(ctx, err) {
			return nil
		}
		slog.WarnContext(ctx, "diff refresh failed", "repo", repo.Key(), "error", err)
		d.metrics.RecordFetch(ctx, keyDiff, rdotel.ResultFailed)
		return nil
	}

	var (
		changed bool
		event   ws.DiffUpdatedEvent
	)
	tok.Apply(func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		if d.snapshot != nil && d.snapshot.Raw == raw {
			return
		}
		d.snapshot = &workcopy.DiffSnapshot{Raw: raw, FetchedAt: d.now()}
		d.files = diff.Parse(raw)
		d.fingerprint = fingerprint(raw)
		if d.selected != "" && !containsFile(d.files, d.selected) {
			d.selected = ""
		}

		changed = true
		event = ws.DiffUpdatedEvent{
			Repository: repo.Key(),
			Files:      slices.Clone(d.files),
			Selected:   d.selected,
		}
	})

	d.metrics.RecordFetch(ctx, keyDiff, rdotel.ResultOK)
	if changed {
		d.metrics.RecordDiffFiles(ctx, len(event.Files))
		d.hub.BroadcastEvent(ctx, ws.EventDiffUpdated, event)
	}
	return nil
}

func (d *DiffSync) fetchStatus(ctx context.Context, tok inflight.Token[workcopy.Repository]) error {
	repo := tok.Scope()
	if repo.IsZero() {
		return domain.ErrNoRepository
	}

	ctx, span := rdotel.StartFetchSpan(ctx, keyStatus, repo.Key())
	st, err := d.backend.Status(ctx, repo.Path)
	rdotel.EndSpan(span, err)
	if err != nil {
		if cancelled(ctx, err) {
			return nil
		}
		slog.WarnContext(ctx, "status refresh failed", "repo", repo.Key(), "error", err)
		d.metrics.RecordFetch(ctx, keyStatus, rdotel.ResultFailed)
		return nil
	}

	behind := max(0, st.Behind)
	checked := d.now()
	next := workcopy.PullStatus{
		UpToDate:      behind == 0,
		Behind:        behind,
		Ahead:         max(0, st.Ahead),
		LastCheckedAt: &checked,
	}

	var changed bool
	tok.Apply(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		changed = !d.statusSeen || d.status.Behind != next.Behind || d.status.Ahead != next.Ahead
		d.status = next
		d.statusSeen = true
	})

	d.metrics.RecordFetch(ctx, keyStatus, rdotel.ResultOK)
	if changed {
		d.hub.BroadcastEvent(ctx, ws.EventStatusUpdated, ws.StatusUpdatedEvent{
			Repository: repo.Key(),
			Status:     next,
		})
	}
	return nil
}

// Snapshot returns the current snapshot, or nil before the first successful fetch.
func (d *DiffSync) Snapshot() *workcopy.DiffSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot
}

// Files returns the file list derived from the current snapshot.
func (d *DiffSync) Files() []workcopy.FileChange {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.files)
}

// Status returns the last known pull status.
func (d *DiffSync) Status() workcopy.PullStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// HasPendingChanges reports whether the current snapshot carries any diff text.
func (d *DiffSync) HasPendingChanges() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot != nil && d.snapshot.Raw != ""
}

// Select narrows the displayed diff to path. An empty path clears the selection.
func (d *DiffSync) Select(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if path != "" && !containsFile(d.files, path) {
		return fmt.Errorf("file %q: %w", path, domain.ErrNotFound)
	}
	d.selected = path
	return nil
}

// Selected returns the selected file path, or "".
func (d *DiffSync) Selected() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selected
}

// DisplayedDiff returns the section of path when path is non-empty, else the
// whole raw diff. Extracted sections are memoised per snapshot.
func (d *DiffSync) DisplayedDiff(ctx context.Context, path string) string {
	d.mu.RLock()
	snap, fp := d.snapshot, d.fingerprint
	d.mu.RUnlock()

	if snap == nil {
		return ""
	}
	if path == "" {
		return snap.Raw
	}

	key := cache.Key(fileDiffNamespace, fp, path)
	if d.cache != nil {
		if v, ok, err := d.cache.Get(ctx, key); err == nil && ok {
			return string(v)
		}
	}
	section := diff.ExtractFileDiff(snap.Raw, path)
	if d.cache != nil {
		if err := d.cache.Set(ctx, key, []byte(section), d.cacheTTL); err != nil {
			slog.DebugContext(ctx, "file diff cache set failed", "error", err)
		}
	}
	return section
}

// reset drops all state of the previous repository.
func (d *DiffSync) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshot = nil
	d.files = nil
	d.fingerprint = ""
	d.selected = ""
	d.status = workcopy.UncheckedStatus()
	d.statusSeen = false
}

func fingerprint(raw string) string {
	return strconv.FormatUint(xxhash.Sum64String(raw), 16)
}

func containsFile(files []workcopy.FileChange, path string) bool {
	return slices.ContainsFunc(files, func(f workcopy.FileChange) bool { return f.Path == path })
}
