package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/Strob0t/repodeck/internal/adapter/fswatch"
	"github.com/Strob0t/repodeck/internal/adapter/gitapi"
	"github.com/Strob0t/repodeck/internal/adapter/gitlocal"
	rdhttp "github.com/Strob0t/repodeck/internal/adapter/http"
	rdmcp "github.com/Strob0t/repodeck/internal/adapter/mcp"
	rdnats "github.com/Strob0t/repodeck/internal/adapter/nats"
	rdotel "github.com/Strob0t/repodeck/internal/adapter/otel"
	"github.com/Strob0t/repodeck/internal/adapter/postgres"
	"github.com/Strob0t/repodeck/internal/adapter/ristretto"
	"github.com/Strob0t/repodeck/internal/adapter/ws"
	"github.com/Strob0t/repodeck/internal/config"
	"github.com/Strob0t/repodeck/internal/middleware"
	"github.com/Strob0t/repodeck/internal/port/broadcast"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
	"github.com/Strob0t/repodeck/internal/port/journal"
	"github.com/Strob0t/repodeck/internal/service"
	"github.com/Strob0t/repodeck/internal/uiprefs"
)

type serveFlags struct {
	port       string
	backend    string
	backendURL string
}

func newServeCommand(root *rootFlags) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the companion server",
		Example: "repodeck serve --backend local",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cli config.CLIFlags
			if cmd.Flags().Changed("port") {
				cli.Port = &flags.port
			}
			if cmd.Flags().Changed("backend") {
				cli.Backend = &flags.backend
			}
			if cmd.Flags().Changed("backend-url") {
				cli.BackendURL = &flags.backendURL
			}
			cfg, closer, err := loadConfig(cmd, root, cli)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&flags.port, "port", "p", "", "override server.port")
	cmd.Flags().StringVar(&flags.backend, "backend", "", "override backend.kind ("+strings.Join(gitbackend.Available(), ", ")+")")
	cmd.Flags().StringVar(&flags.backendURL, "backend-url", "", "override backend.url")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	// --- Observability ---

	shutdownOTEL, err := rdotel.Setup(ctx, rdotel.Config{
		Enabled:     cfg.OTEL.Enabled,
		Endpoint:    cfg.OTEL.Endpoint,
		Insecure:    cfg.OTEL.Insecure,
		ServiceName: cfg.Logging.Service,
		Version:     version,
		SampleRate:  cfg.OTEL.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(flushCtx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()

	metrics, err := rdotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Git backend ---

	backend, err := gitbackend.New(cfg.Backend.Kind, backendConfig(cfg))
	if err != nil {
		return fmt.Errorf("git backend: %w", err)
	}
	slog.Info("git backend ready", "kind", cfg.Backend.Kind, "url", cfg.Backend.URL)

	// --- Event fan-out ---

	hub := ws.NewHub(originHosts(cfg.Server.CORSOrigin))
	defer hub.Close()
	fanout := broadcast.Multi{hub}

	if cfg.NATS.URL != "" {
		pub, err := rdnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = pub.Close() }()
		fanout = append(fanout, pub)
		slog.Info("nats connected", "subject", cfg.NATS.Subject)
	}

	// --- Session ---

	session := service.NewSession(backend, fanout, cfg.Sync, cfg.Actions)
	defer session.Close()
	session.SetMetrics(metrics)

	if cfg.Cache.MaxSizeMB > 0 {
		diffCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
		if err != nil {
			return fmt.Errorf("diff cache: %w", err)
		}
		defer diffCache.Close()
		session.SetCache(diffCache, cfg.Cache.TTL)
	}

	if cfg.Sync.Watch {
		if cfg.Backend.Kind == "local" {
			session.SetWatcher(fswatch.NewFactory(cfg.Sync.WatchDebounce))
		} else {
			slog.Warn("sync.watch ignored: working copies are not on this host", "backend", cfg.Backend.Kind)
		}
	}

	var actionJournal journal.Store
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("action journal enabled")

		store := postgres.NewJournalStore(pool)
		session.SetJournal(store)
		actionJournal = store
		if cfg.Postgres.Retention > 0 {
			go pruneJournal(ctx, store, cfg.Postgres.Retention)
		}
	}

	var prefs *uiprefs.Store
	if cfg.Preferences.Path != "" {
		prefs, err = uiprefs.Load(cfg.Preferences.Path)
		if err != nil {
			return fmt.Errorf("preferences: %w", err)
		}
		defer func() {
			if err := prefs.Close(); err != nil {
				slog.Warn("save preferences failed", "error", err)
			}
		}()
		if last := prefs.Get().LastRepository; last != nil {
			if err := session.Open(ctx, *last); err != nil {
				slog.Warn("reopen last repository failed", "repo", last.Key(), "error", err)
			}
		}
	}

	// --- HTTP ---

	rdhttp.Version = version
	handlers := &rdhttp.Handlers{
		Session:     session,
		Journal:     actionJournal,
		Preferences: prefs,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		go limiter.Sweep(ctx, time.Minute, 10*time.Minute)
		r.Use(limiter.Handler)
	}
	r.Use(rdotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(rdhttp.SecurityHeaders)
	r.Use(rdhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(rdhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	rdhttp.MountRoutes(r, handlers, hub.HandleWS)

	if cfg.MCP.Enabled {
		mcpSrv := rdmcp.NewServer(rdmcp.ServerConfig{
			Name:    cfg.Logging.Service,
			Version: version,
			Path:    cfg.MCP.Path,
			APIKey:  cfg.MCP.APIKey,
		}, rdmcp.ServerDeps{
			Session: rdmcp.FromSession(session),
			Journal: actionJournal,
		})
		r.Handle(cfg.MCP.Path, mcpSrv.Handler())
		slog.Info("mcp server mounted", "path", cfg.MCP.Path, "auth", cfg.MCP.APIKey != "")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return serveUntilDone(ctx, srv, cfg.Server.ShutdownTimeout)
}

// serveUntilDone runs srv until ctx is cancelled, then shuts it down within
// timeout.
func serveUntilDone(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// backendConfig flattens the config for the registered backend factories.
func backendConfig(cfg *config.Config) map[string]string {
	switch cfg.Backend.Kind {
	case "local":
		return localBackendConfig(cfg.Git)
	default:
		return map[string]string{
			gitapi.ConfigURL:                cfg.Backend.URL,
			gitapi.ConfigTimeout:            cfg.Backend.Timeout.String(),
			gitapi.ConfigBreakerMaxFailures: strconv.Itoa(cfg.Breaker.MaxFailures),
			gitapi.ConfigBreakerTimeout:     cfg.Breaker.Timeout.String(),
		}
	}
}

func localBackendConfig(g config.Git) map[string]string {
	return map[string]string{
		gitlocal.ConfigMaxConcurrent:  strconv.Itoa(g.MaxConcurrent),
		gitlocal.ConfigWorkspaceRoot:  g.WorkspaceRoot,
		gitlocal.ConfigCloneBase:      g.CloneBase,
		gitlocal.ConfigCommandTimeout: g.CommandTimeout.String(),
		gitlocal.ConfigLogLimit:       strconv.Itoa(g.LogLimit),
	}
}

// pruneJournal drops journal entries older than retention once at startup and
// then hourly.
func pruneJournal(ctx context.Context, store *postgres.JournalStore, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := store.Prune(ctx, time.Now().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			slog.Warn("journal prune failed", "error", err)
		case n > 0:
			slog.Info("journal pruned", "removed", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// originHosts turns the comma-separated CORS origins into the host patterns
// the WebSocket handshake checks against. "*" allows any origin.
func originHosts(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		o = strings.TrimSpace(o)
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		if o = strings.TrimSuffix(o, "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}
