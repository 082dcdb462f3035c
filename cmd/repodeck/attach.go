package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Strob0t/repodeck/internal/adapter/terminal"
	"github.com/Strob0t/repodeck/internal/middleware"
)

func newAttachCommand() *cobra.Command {
	var (
		token     string
		requestID string
	)

	cmd := &cobra.Command{
		Use:     "attach <ws-url>",
		Short:   "Attach this terminal to the assistant's terminal socket",
		Example: "repodeck attach ws://localhost:3000/terminal",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			header := http.Header{}
			if token != "" {
				header.Set("Authorization", "Bearer "+token)
			}
			if requestID != "" {
				header.Set(middleware.HeaderRequestID, requestID)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()
			return runAttach(ctx, args[0], header)
		},
	}
	cmd.Flags().StringVar(&token, "token", os.Getenv("REPODECK_TERMINAL_TOKEN"), "bearer token sent with the handshake")
	cmd.Flags().StringVar(&requestID, "request-id", "", "correlation ID sent with the handshake")
	return cmd
}

func runAttach(ctx context.Context, url string, header http.Header) error {
	bridge, err := terminal.Dial(ctx, url, header)
	if err != nil {
		return err
	}

	inFd := int(os.Stdin.Fd())
	outFd := int(os.Stdout.Fd())

	if term.IsTerminal(inFd) {
		state, err := term.MakeRaw(inFd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer func() { _ = term.Restore(inFd, state) }()
	}

	var resize <-chan terminal.Size
	if term.IsTerminal(outFd) {
		if cols, rows, err := term.GetSize(outFd); err == nil {
			if err := bridge.Resize(ctx, terminal.Size{Cols: cols, Rows: rows}); err != nil {
				return fmt.Errorf("initial resize: %w", err)
			}
		}
		resize = watchResize(ctx, outFd)
	}

	return bridge.Run(ctx, os.Stdin, os.Stdout, resize)
}

// sizeFor reads the current window size of fd.
func sizeFor(fd int) (terminal.Size, bool) {
	cols, rows, err := term.GetSize(fd)
	if err != nil {
		return terminal.Size{}, false
	}
	return terminal.Size{Cols: cols, Rows: rows}, true
}
