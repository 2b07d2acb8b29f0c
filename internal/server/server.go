// Package server exposes the operator HTTP + WebSocket API: engine status,
// live leaderboards, recorded history, and bid placement.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lujiluz/koilive/internal/domain"
	"github.com/Lujiluz/koilive/internal/server/handler"
	"github.com/Lujiluz/koilive/internal/server/middleware"
	"github.com/Lujiluz/koilive/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// BidRateLimit caps bid placements per client IP per BidRateWindow.
	// Zero disables the limiter.
	BidRateLimit  int
	BidRateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Auctions *handler.AuctionHandler
}

// Server is the operator HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered, wires up middleware
// (logging, CORS, auth, bid rate limiting), and attaches the WebSocket hub.
// The rate limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Engine status.
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Auction endpoints.
	mux.HandleFunc("GET /api/auctions/{id}/leaderboard", handlers.Auctions.GetLeaderboard)
	mux.HandleFunc("GET /api/auctions/{id}/bids", handlers.Auctions.ListBids)
	mux.HandleFunc("GET /api/auctions/{id}/settlement", handlers.Auctions.GetSettlement)
	mux.HandleFunc("GET /api/auctions/{id}/archive", handlers.Auctions.GetArchive)
	mux.HandleFunc("POST /api/auctions/{id}/watch", handlers.Auctions.Watch)
	mux.HandleFunc("DELETE /api/auctions/{id}/watch", handlers.Auctions.Unwatch)

	// Bid placement, rate limited per client IP when a limiter is wired.
	var placeBid http.Handler = http.HandlerFunc(handlers.Auctions.PlaceBid)
	if limiter != nil && cfg.BidRateLimit > 0 {
		window := cfg.BidRateWindow
		if window <= 0 {
			window = time.Second
		}
		placeBid = middleware.RateLimit(limiter, cfg.BidRateLimit, window)(placeBid)
	}
	mux.Handle("POST /api/auctions/{id}/bids", placeBid)

	// Dashboard WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
