// Package app provides the top-level application lifecycle management for
// the streaming gateway. It wires together the bus connection, the Manager
// fan-out state machine, and the HTTP admin/health/streaming surface, then
// runs them under one errgroup until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/busgate/internal/config"
	"github.com/alanyoungcy/busgate/internal/domain"
	"github.com/alanyoungcy/busgate/internal/server"
	"github.com/alanyoungcy/busgate/internal/server/handler"
	"github.com/alanyoungcy/busgate/internal/server/middleware"
)

const (
	shutdownGrace   = 10 * time.Second
	archiveInterval = 5 * time.Minute
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the Manager's fan-out loop, the
// periodic archive loop and (when enabled) the HTTP server under one
// errgroup, and blocks until ctx is cancelled or one of them returns an
// error. The cleanup function returned by Wire is registered on the App and
// runs when Close is called; Run itself does not run it.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("bus_addr", a.cfg.Bus.Addr),
		slog.String("bus_namespace", a.cfg.Bus.Namespace),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	var apiKeyHash string
	if a.cfg.Server.APIKey != "" {
		apiKeyHash, err = middleware.HashAPIKey(a.cfg.Server.APIKey)
		if err != nil {
			return fmt.Errorf("app: hash admin api key: %w", err)
		}
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKeyHash:  apiKeyHash,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(a.logger, deps.HealthCheckers),
			Admin:  handler.NewAdminHandler(deps.Manager, a.logger),
			Stream: handler.NewStreamHandler(deps.Manager, a.logger),
		},
		deps.RateLimiter,
		a.logger,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Manager.Run(gctx)
	})

	g.Go(func() error {
		a.runArchiveLoop(gctx, deps.Archiver)
		return nil
	})

	if a.cfg.Server.Enabled {
		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// runArchiveLoop periodically captures an admin-introspection snapshot to
// cold storage until ctx is cancelled. A failed upload is logged and
// retried on the next tick rather than aborting the loop.
func (a *App) runArchiveLoop(ctx context.Context, archiver domain.Archiver) {
	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			if path, err := archiver.ArchiveSnapshot(ctx, tick); err != nil {
				a.logger.Warn("archive snapshot failed", slog.String("error", err.Error()))
			} else {
				a.logger.Info("archived admin snapshot", slog.String("path", path))
			}
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
