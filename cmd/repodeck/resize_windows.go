//go:build windows

package main

import (
	"context"
	"time"

	"github.com/Strob0t/repodeck/internal/adapter/terminal"
)

// watchResize polls the window size of fd; Windows has no SIGWINCH.
func watchResize(ctx context.Context, fd int) <-chan terminal.Size {
	out := make(chan terminal.Size, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		last, _ := sizeFor(fd)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s, ok := sizeFor(fd)
				if !ok || s == last {
					continue
				}
				last = s
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
