package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/deedmarket/deedmarketd/internal/domain"
	"github.com/deedmarket/deedmarketd/internal/server/handler"
	"github.com/deedmarket/deedmarketd/internal/server/middleware"
	"github.com/deedmarket/deedmarketd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Rate limiting applies per client IP when a limiter is wired.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health       *handler.HealthHandler
	Marketplace  *handler.MarketplaceHandler
	Properties   *handler.PropertyHandler
	Offers       *handler.OfferHandler
	Transactions *handler.TransactionHandler
}

// Server is the HTTP + WebSocket API front of the marketplace node.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches the
// WebSocket hub. The limiter may be nil, which disables rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Marketplace lifecycle and balances.
	mux.HandleFunc("POST /api/marketplace", handlers.Marketplace.Initialize)
	mux.HandleFunc("POST /api/marketplace/withdraw-fees", handlers.Marketplace.WithdrawFees)
	mux.HandleFunc("GET /api/marketplace", handlers.Marketplace.List)
	mux.HandleFunc("GET /api/marketplace/{address}", handlers.Marketplace.Get)
	mux.HandleFunc("GET /api/marketplace/{address}/vault", handlers.Marketplace.VaultBalance)
	mux.HandleFunc("POST /api/deposit", handlers.Marketplace.Deposit)
	mux.HandleFunc("GET /api/balances/{address}", handlers.Marketplace.SpendableBalance)

	// Property endpoints.
	mux.HandleFunc("POST /api/properties", handlers.Properties.ListProperty)
	mux.HandleFunc("PATCH /api/properties/{address}", handlers.Properties.UpdateProperty)
	mux.HandleFunc("GET /api/properties", handlers.Properties.List)
	mux.HandleFunc("GET /api/properties/{address}", handlers.Properties.Get)

	// Offer endpoints.
	mux.HandleFunc("POST /api/offers", handlers.Offers.MakeOffer)
	mux.HandleFunc("POST /api/offers/{address}/respond", handlers.Offers.Respond)
	mux.HandleFunc("POST /api/offers/{address}/reclaim", handlers.Offers.Reclaim)
	mux.HandleFunc("GET /api/offers", handlers.Offers.List)
	mux.HandleFunc("GET /api/offers/{address}", handlers.Offers.Get)

	// Sale history.
	mux.HandleFunc("GET /api/transactions", handlers.Transactions.List)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-IP rate limiting when a limiter is wired.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = corsMiddleware(cfg.CORSOrigins)(h)

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

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
