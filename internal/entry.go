// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/raido/internal/api"
	"github.com/starford/raido/internal/artcache"
	"github.com/starford/raido/internal/itemstore"
	"github.com/starford/raido/internal/library"
	"github.com/starford/raido/internal/mcpserver"
	"github.com/starford/raido/internal/scheduler"
	"github.com/starford/raido/internal/sse"
	"github.com/starford/raido/internal/storage"
	"github.com/starford/raido/internal/tagindex"
)

// snapshotInterval is how often the item store is persisted while the
// application runs; a final save also happens on shutdown.
const snapshotInterval = 5 * time.Minute

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config
	// Validate also resolves derived fields (the convert fill colour),
	// so configs built in code get the same treatment as loaded ones.
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize structured JSON logger. In MCP mode stdout carries
	// the protocol, so logs go to stderr.
	logOut := os.Stdout
	if app.mcpMode {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("library_path", cfg.Library.Path),
		slog.String("cache_path", cfg.Cache.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure library directory exists.
	if err := os.MkdirAll(cfg.Library.Path, 0o755); err != nil {
		return fmt.Errorf("create library dir: %w", err)
	}

	// Initialize storage.
	fs, err := storage.NewFS(cfg.Library.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	// Item store with derived tag index.
	store := itemstore.New()
	index := tagindex.New()
	store.Subscribe(index.Apply)

	// Artifact cache; invalidated when items leave the store.
	cache, err := artcache.Open(cfg.Cache.Path, artcache.Config{
		MaxBytes:     cfg.Cache.MaxBytes,
		MaxItemBytes: cfg.Cache.MaxItemBytes,
	})
	if err != nil {
		return fmt.Errorf("init artifact cache: %w", err)
	}
	defer cache.Close()
	cache.WatchStore(store)

	// Import scheduler.
	sched := scheduler.New(store, cache, scheduler.Config{
		Workers:    cfg.Import.Workers,
		QueueSize:  cfg.Import.QueueSize,
		JobTimeout: cfg.Import.JobTimeout,
		Params:     cfg.Convert.Params,
		Persist:    fs.WriteOriginal,
	})

	svc := library.NewService(store, index, cache, fs, sched, cfg.Convert.Params, logger)

	// Restore previous state before accepting work.
	if err := svc.LoadSnapshot(); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	// SSE broker fed by store events and scheduler updates.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()
	store.Subscribe(broker.PublishItemEvent)
	sched.Notify(broker.PublishJobUpdate)

	// Shutdown on SIGINT/SIGTERM or parent cancellation.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Worker pool.
	g.Go(func() error {
		sched.Run(gCtx)
		return nil
	})

	// Periodic snapshots.
	g.Go(func() error {
		ticker := time.NewTicker(snapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				if err := svc.SaveSnapshot(); err != nil {
					logger.Error("periodic snapshot failed", slog.String("error", err.Error()))
				}
			}
		}
	})

	if app.mcpMode {
		g.Go(func() error {
			// Stdin EOF ends the session; unblock the rest of the group.
			defer cancel()
			logger.Info("Starting MCP stdio server")
			if err := mcpserver.New(svc).Listen(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		})
	} else {
		// File watcher for auto-import.
		if cfg.Library.Watch {
			g.Go(func() error {
				return svc.Watch(gCtx, fs.Root(), logger)
			})
		}

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
		r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})

		// Mount API routes (with SSE endpoint) under /api.
		r.Mount("/api", api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

		httpServer := &http.Server{
			Addr:    cfg.App.HTTP.Address(),
			Handler: r,
		}

		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})

		// Graceful HTTP shutdown once the group context ends.
		g.Go(func() error {
			<-gCtx.Done()
			logger.Info("Shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	runErr := g.Wait()

	// Persist whatever state we reached, even on failure.
	if err := svc.SaveSnapshot(); err != nil {
		logger.Error("final snapshot failed", slog.String("error", err.Error()))
	}

	if runErr != nil {
		logger.Error("Application error", slog.String("error", runErr.Error()))
		return runErr
	}

	logger.Info("Server stopped successfully")
	return nil
}
