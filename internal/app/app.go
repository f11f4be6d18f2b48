// Package app provides the top-level application lifecycle for the
// settlement engine. It wires together all dependencies (ledger client,
// stores, coordination primitives, services, handlers) and runs the HTTP
// server, WebSocket hub, and background reconciler until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/betchain/settlementd/internal/config"
	"github.com/betchain/settlementd/internal/server"
	"github.com/betchain/settlementd/internal/server/handler"
	"github.com/betchain/settlementd/internal/server/ws"
	"github.com/betchain/settlementd/internal/service"
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

// Run is the main entry point. It wires all dependencies, starts the server
// and background goroutines, and blocks until the context is cancelled or a
// component fails. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	a.logger.InfoContext(ctx, "starting settlement engine",
		slog.Int("port", a.cfg.Server.Port),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	eventSvc := service.NewEventService(deps.EventStore, deps.Ledger, deps.Orchestrator, a.logger)
	betSvc := service.NewBetService(deps.BetStore, deps.EventStore, deps.Ledger, deps.Orchestrator, deps.Calculator, a.logger)

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Events: handler.NewEventHandler(eventSvc, a.logger),
		Bets:   handler.NewBetHandler(betSvc, a.logger),
	}

	hub := ws.NewHub(deps.SignalBus, a.logger)

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminAPIKey: a.cfg.Server.AdminAPIKey,
	}, handlers, hub, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(ctx)
	})

	if deps.Reconciler != nil {
		g.Go(func() error {
			return deps.Reconciler.Run(ctx)
		})
	}

	g.Go(func() error {
		return srv.Start()
	})

	// Shut the HTTP server down when the context ends so Start returns.
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil && ctx.Err() != nil {
		// Cancellation is the normal shutdown path, not a failure.
		a.logger.Info("settlement engine stopped")
		return nil
	}
	return err
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
