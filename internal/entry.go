// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/stash/internal/api"
	"github.com/starford/stash/internal/cache"
	"github.com/starford/stash/internal/locator"
	"github.com/starford/stash/internal/mcpserver"
	"github.com/starford/stash/internal/sse"
	"github.com/starford/stash/internal/stashservice"
	"github.com/starford/stash/internal/storage"
	"github.com/starford/stash/internal/watch"
)

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(os.Stdout, cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("backend", cfg.Store.Backend),
		slog.String("cache_path", cfg.Cache.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	backend, watchDir, err := app.openBackend()
	if err != nil {
		return err
	}
	svc := newService(cfg, backend, logger)

	// Response cache.
	var respCache cache.ResponseCache = cache.Nop{}
	if cfg.Cache.Enabled() {
		db, err := cache.Open(cfg.Cache.Path)
		if err != nil {
			return fmt.Errorf("init cache: %w", err)
		}
		// Entries may predate external edits made while the server was down.
		if err := db.InvalidateAll(); err != nil {
			logger.Warn("cache reset failed", slog.String("error", err.Error()))
		}
		respCache = db
	}
	defer respCache.Close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	handler := api.NewHandler(svc, respCache, broker)
	apiRouter := api.NewRouter(handler, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := backend.List(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api/stash", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// External edits are only observable on the filesystem backend.
	if watchDir != "" {
		g.Go(func() error {
			err := watch.Watch(gCtx, watchDir, respCache, watch.DefaultDebounce, logger, func(files []string) {
				for _, f := range files {
					broker.PublishChange(sse.ExternalChange, sse.ChangeData{File: f})
				}
			})
			if err != nil {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the stash tools over stdio. Logs go to stderr so they do not
// interleave with the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := newLogger(os.Stderr, cfg.App.LogLevel)
	slog.SetDefault(logger)

	backend, _, err := app.openBackend()
	if err != nil {
		return err
	}
	srv := mcpserver.New(newService(cfg, backend, logger), app.version)

	logger.Info("MCP server starting", slog.String("backend", cfg.Store.Backend))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeStdio() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// openBackend returns the configured backend and, for the filesystem
// backend, the directory to watch for external edits.
func (a *application) openBackend() (storage.Backend, string, error) {
	if a.backend != nil {
		return a.backend, "", nil
	}
	cfg := a.config.Store

	switch cfg.Backend {
	case BackendFS:
		dir := cfg.FS.Dir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, "", fmt.Errorf("create stash dir: %w", err)
		}
		store, err := storage.NewFS(dir)
		if err != nil {
			return nil, "", fmt.Errorf("init storage: %w", err)
		}
		return store, dir, nil
	case BackendGitHub:
		client, err := storage.NewGitHubClient(cfg.GitHub.Token, cfg.GitHub.BaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("init storage: %w", err)
		}
		blobs := storage.NewGitHubBlobs(client, cfg.GitHub.Owner, cfg.GitHub.Repo, cfg.GitHub.Branch)
		return storage.NewRemote(blobs, cfg.GitHub.Dir), "", nil
	case BackendMemory:
		return storage.NewRemote(storage.NewMemoryBlobs(), storage.DefaultRemoteDir), "", nil
	default:
		return nil, "", fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func newService(cfg *Config, backend storage.Backend, logger *slog.Logger) *stashservice.Service {
	loc := locator.New(
		locator.WithBudget(cfg.Stash.LocatorBudget),
		locator.WithHeaderLimit(cfg.Stash.HeaderLimit),
		locator.WithLogger(logger),
	)
	return stashservice.New(backend,
		stashservice.WithLocator(loc),
		stashservice.WithLogger(logger),
		stashservice.WithMaxNoteBytes(cfg.Stash.MaxNoteBytes),
	)
}
