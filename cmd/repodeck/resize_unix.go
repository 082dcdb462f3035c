//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Strob0t/repodeck/internal/adapter/terminal"
)

// watchResize reports the window size of fd on every SIGWINCH.
func watchResize(ctx context.Context, fd int) <-chan terminal.Size {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGWINCH)

	out := make(chan terminal.Size, 1)
	go func() {
		defer signal.Stop(sig)
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
				if s, ok := sizeFor(fd); ok {
					select {
					case out <- s:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}
