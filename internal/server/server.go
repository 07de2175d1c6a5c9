// Package server exposes the HTTP API and the client WebSocket endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/livebid/internal/domain"
	"github.com/alanyoungcy/livebid/internal/server/handler"
	"github.com/alanyoungcy/livebid/internal/server/middleware"
	"github.com/alanyoungcy/livebid/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port          int
	CORSOrigins   []string
	APIKey        string // empty disables authentication
	RequestLimit  int    // per client IP per RequestWindow; 0 disables
	RequestWindow time.Duration
}

// Handlers aggregates the API handlers.
type Handlers struct {
	Health    *handler.HealthHandler
	Nodes     *handler.NodeHandler
	Auctions  *handler.AuctionHandler
	Bids      *handler.BidHandler
	Watchers  *handler.WatcherHandler
	Sanctions *handler.SanctionHandler
}

// Server is the HTTP + WebSocket front of one node.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps them in middleware. The API is
// authenticated and rate limited per IP; /api/health stays public and /ws
// applies its own connect limit.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	api.HandleFunc("GET /api/nodes", handlers.Nodes.ListNodes)

	api.HandleFunc("POST /api/auctions", handlers.Auctions.CreateAuction)
	api.HandleFunc("GET /api/auctions/{id}", handlers.Auctions.GetAuction)
	api.HandleFunc("GET /api/auctions/{id}/bids", handlers.Auctions.ListBids)
	api.HandleFunc("POST /api/auctions/{id}/cancel", handlers.Auctions.CancelAuction)
	api.HandleFunc("POST /api/auctions/{id}/bids", handlers.Bids.PlaceBid)
	api.HandleFunc("GET /api/auctions/{id}/watchers", handlers.Watchers.ListWatchers)

	api.HandleFunc("POST /api/sanctions", handlers.Sanctions.PutSanction)
	api.HandleFunc("DELETE /api/sanctions/{bidderId}", handlers.Sanctions.LiftSanction)

	var apiHandler http.Handler = api
	apiHandler = middleware.Auth(cfg.APIKey, "/api/health")(apiHandler)
	apiHandler = middleware.RateLimit(limiter, cfg.RequestLimit, cfg.RequestWindow, logger)(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
