package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/busgate/internal/domain"
	"github.com/alanyoungcy/busgate/internal/server/handler"
	"github.com/alanyoungcy/busgate/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port             int
	CORSOrigins      []string
	APIKeyHash       string // bcrypt hash from middleware.HashAPIKey; empty disables auth
	AdminRateLimit   int
	AdminRateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Admin  *handler.AdminHandler
	Stream *handler.StreamHandler
}

// Server is the HTTP surface for the gateway: health and admin
// introspection endpoints plus the WebSocket streaming upgrade.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux,
// wired through the logging/CORS/auth middleware chain. If limiter is
// non-nil, admin routes are additionally throttled per remote address so a
// slow dashboard poller can't starve the Manager lock.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/v1/streaming", handlers.Stream.Stream)

	var admin http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/count":
			handlers.Admin.Count(w, r)
		case "/admin/backpressure":
			handlers.Admin.Backpressure(w, r)
		case "/admin/list":
			handlers.Admin.List(w, r)
		default:
			http.NotFound(w, r)
		}
	})
	if limiter != nil {
		window := cfg.AdminRateWindow
		if window <= 0 {
			window = time.Minute
		}
		limit := cfg.AdminRateLimit
		if limit <= 0 {
			limit = 60
		}
		admin = middleware.RateLimit(limiter, limit, window)(admin)
	}
	mux.Handle("GET /admin/count", admin)
	mux.Handle("GET /admin/backpressure", admin)
	mux.Handle("GET /admin/list", admin)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKeyHash)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins, logger)(h)

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
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
