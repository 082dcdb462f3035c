package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	rdhttp "github.com/Strob0t/repodeck/internal/adapter/http"
	rdotel "github.com/Strob0t/repodeck/internal/adapter/otel"
	"github.com/Strob0t/repodeck/internal/config"
	"github.com/Strob0t/repodeck/internal/middleware"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
)

func newBackendCommand(root *rootFlags) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Serve the local git CLI over HTTP for a remote companion server",
		Long: "Runs git against working copies on this host and exposes it under /api/git,\n" +
			"the contract `repodeck serve --backend http` talks to.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := loadConfig(cmd, root, config.CLIFlags{})
			if err != nil {
				return err
			}
			defer closer.Close()
			if cmd.Flags().Changed("port") {
				cfg.Backend.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBackend(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "override backend.port")
	return cmd
}

func runBackend(ctx context.Context, cfg *config.Config) error {
	shutdownOTEL, err := rdotel.Setup(ctx, rdotel.Config{
		Enabled:     cfg.OTEL.Enabled,
		Endpoint:    cfg.OTEL.Endpoint,
		Insecure:    cfg.OTEL.Insecure,
		ServiceName: cfg.Logging.Service + "-backend",
		Version:     version,
		SampleRate:  cfg.OTEL.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTEL(flushCtx)
	}()

	backend, err := gitbackend.New("local", localBackendConfig(cfg.Git))
	if err != nil {
		return fmt.Errorf("git backend: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(rdotel.HTTPMiddleware(cfg.Logging.Service + "-backend"))
	r.Use(rdhttp.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	rdhttp.MountBackendRoutes(r, &rdhttp.BackendHandlers{Backend: backend})

	slog.Info("git backend configured", "workspace_root", cfg.Git.WorkspaceRoot, "max_concurrent", cfg.Git.MaxConcurrent)
	srv := &http.Server{
		Addr:              ":" + cfg.Backend.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return serveUntilDone(ctx, srv, cfg.Server.ShutdownTimeout)
}
