// Package server hosts the HTTP and WebSocket API of the settlement engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/betchain/settlementd/internal/server/handler"
	"github.com/betchain/settlementd/internal/server/middleware"
	"github.com/betchain/settlementd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminAPIKey string // if empty, the admin routes are open
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Events *handler.EventHandler
	Bets   *handler.BetHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the logging and CORS
// middleware. The resolve and delete routes additionally require the admin
// API key.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		logger: logger,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      middleware.CORS(cfg.CORSOrigins)(middleware.Logging(logger)(routes(cfg, handlers, wsHub))),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func routes(cfg Config, handlers Handlers, wsHub *ws.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Event endpoints. The category route must be registered alongside the
	// {id} route; Go 1.22 routing picks the more specific pattern.
	mux.HandleFunc("POST /api/events", handlers.Events.CreateEvent)
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	mux.HandleFunc("GET /api/events/category/{category}", handlers.Events.ListEventsByCategory)
	mux.HandleFunc("GET /api/events/{id}", handlers.Events.GetEvent)

	// Administrative event endpoints.
	mux.HandleFunc("POST /api/events/{id}/resolve",
		middleware.RequireKey(cfg.AdminAPIKey, handlers.Events.ResolveEvent))
	mux.HandleFunc("DELETE /api/events/{id}",
		middleware.RequireKey(cfg.AdminAPIKey, handlers.Events.DeleteEvent))

	// Bet endpoints.
	mux.HandleFunc("POST /api/bets", handlers.Bets.PlaceBet)
	mux.HandleFunc("GET /api/bets/user/{userId}", handlers.Bets.ListUserBets)
	mux.HandleFunc("GET /api/bets/{eventId}", handlers.Bets.ListEventBets)
	mux.HandleFunc("POST /api/bets/{betId}/claim", handlers.Bets.ClaimReward)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	return mux
}

// Start blocks serving requests until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
