package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sophialabs/odatamock/internal/domain/manifest"
	"github.com/sophialabs/odatamock/internal/infrastructure/outbound/filesystem"
	"github.com/sophialabs/odatamock/internal/infrastructure/outbound/logging"
	"github.com/sophialabs/odatamock/internal/infrastructure/wiring"
)

// App is the thin lifecycle manager that delegates dependency construction to wiring.Container.
type App struct {
	cfg        Config
	container  *wiring.Container
	httpServer *http.Server
}

// New constructs the application by creating a logger, wiring infrastructure
// components via the container, and setting up the HTTP server.
func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	ambient, err := cfg.AmbientOptions()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NewText(os.Stdout, cfg.LogLevel)

	container, err := wiring.New(wiring.Params{
		ManifestURL:      cfg.ManifestURL,
		DataSource:       cfg.DataSource,
		MockdataDir:      cfg.MockdataDir,
		GenerateMissing:  cfg.GenerateMissing,
		GeneratedEntries: cfg.GeneratedEntries,
		Ambient:          ambient,
		TraceSize:        cfg.TraceSize,
		RateLimit:        cfg.RateLimit,
		RateBurst:        cfg.RateBurst,
		RateLimiterTTL:   cfg.RateLimiterTTL,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to wire infrastructure: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      container.Server(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		container:  container,
		httpServer: httpServer,
	}, nil
}

// Initialize runs the configurator once with the configured options. A
// failure is logged and shown on the landing page; startup continues so the
// user can see it.
func (a *App) Initialize(ctx context.Context) error {
	return a.container.Server().Initialize(ctx, a.cfg.CallerOptions())
}

// Run executes the full application lifecycle: initialize the mock server,
// start the watcher, serve HTTP, and handle graceful shutdown on
// SIGINT/SIGTERM or context cancellation.
func (a *App) Run(ctx context.Context) error {
	defer a.container.Close()

	logger := a.container.Logger()

	if err := a.Initialize(ctx); err != nil {
		logger.Warn("serving without mock data", "error", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Watch {
		if watcher := a.setupWatcher(); watcher != nil {
			defer watcher.Stop()
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting odatamock server", "addr", a.httpServer.Addr, "manifest", a.cfg.ManifestURL)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// setupWatcher watches the directory of a local manifest. Remote manifests
// are not watched.
func (a *App) setupWatcher() *filesystem.Watcher {
	logger := a.container.Logger()
	server := a.container.Server()

	if manifest.HasScheme(a.cfg.ManifestURL) {
		logger.Info("file watcher disabled for remote manifest", "manifest", a.cfg.ManifestURL)
		return nil
	}
	dir := filepath.Dir(a.cfg.ManifestURL)

	watcher, err := filesystem.NewWatcher(dir, a.cfg.WatcherDebounce, nil, logger, func() {
		if err := server.Reload(context.Background()); err != nil {
			logger.Error("hot reload failed", "error", err)
			return
		}
		logger.Info("hot reload complete")
	})
	if err != nil {
		logger.Warn("file watcher not available", "error", err)
		return nil
	}

	watcher.Start()
	logger.Info("file watcher started", "dir", dir)
	return watcher
}
