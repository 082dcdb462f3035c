package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/repodeck/internal/inflight"
)

// pollTarget is one endpoint refreshed on its own cadence.
type pollTarget struct {
	name     string
	interval time.Duration
	refresh  func(context.Context) error
}

// poller runs one ticker loop per target. Every tick dispatches the refresh in
// its own goroutine, so a slow fetch never delays any timer; overlapping ticks
// are skipped by the single-flight guard inside refresh.
type poller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startPoller(ctx context.Context, targets []pollTarget) *poller {
	ctx, cancel := context.WithCancel(ctx)
	p := &poller{cancel: cancel, done: make(chan struct{})}

	var (
		g     errgroup.Group
		ticks sync.WaitGroup
	)
	for _, t := range targets {
		if t.interval <= 0 {
			continue
		}
		g.Go(func() error {
			p.loop(ctx, t, &ticks)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		ticks.Wait()
		close(p.done)
	}()
	return p
}

func (p *poller) loop(ctx context.Context, t pollTarget, ticks *sync.WaitGroup) {
	dispatch := func() {
		ticks.Add(1)
		go func() {
			defer ticks.Done()
			if err := t.refresh(ctx); err != nil && !errors.Is(err, inflight.ErrClosed) {
				slog.DebugContext(ctx, "poll refresh returned error", "target", t.name, "error", err)
			}
		}()
	}

	dispatch()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dispatch()
		}
	}
}

// stop cancels every loop and waits for dispatched refreshes to return.
func (p *poller) stop() {
	if p == nil {
		return
	}
	p.cancel()
	<-p.done
}
