package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/graaaaa/vrclog-lifelog/internal/app"
)

// shutdownTimeout bounds how long Serve waits for open requests on shutdown.
const shutdownTimeout = 5 * time.Second

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger

	health  app.HealthUsecase
	history app.HistoryUsecase
	status  app.StatusUsecase
	stats   app.StatsUsecase
	cfg     app.ConfigUsecase
	hub     *Hub
	metrics http.Handler

	authEnabled  bool
	authUsername string
	authPassword string
	authLimiter  *AuthFailureLimiter
	rateLimiter  *RateLimiter
	allowedHosts []string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHistoryUsecase enables the location and presence endpoints.
func WithHistoryUsecase(h app.HistoryUsecase) ServerOption {
	return func(s *Server) { s.history = h }
}

// WithStatusUsecase enables GET /api/v1/status.
func WithStatusUsecase(st app.StatusUsecase) ServerOption {
	return func(s *Server) { s.status = st }
}

// WithStatsUsecase enables GET /api/v1/stats/basic.
func WithStatsUsecase(st app.StatsUsecase) ServerOption {
	return func(s *Server) { s.stats = st }
}

// WithConfigUsecase enables GET and PUT /api/v1/config.
func WithConfigUsecase(c app.ConfigUsecase) ServerOption {
	return func(s *Server) { s.cfg = c }
}

// WithHub enables the live change stream.
func WithHub(hub *Hub) ServerOption {
	return func(s *Server) { s.hub = hub }
}

// WithMetricsHandler replaces the Prometheus handler served at /metrics.
// A nil handler disables the endpoint.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// WithBasicAuth protects every endpoint but health with HTTP Basic Auth.
// Empty credentials leave auth disabled.
func WithBasicAuth(username, password string) ServerOption {
	return func(s *Server) {
		if username != "" && password != "" {
			s.authEnabled = true
			s.authUsername = username
			s.authPassword = password
		}
	}
}

// WithAuthFailureLimiter locks out IPs after repeated Basic Auth failures.
func WithAuthFailureLimiter(afl *AuthFailureLimiter) ServerOption {
	return func(s *Server) { s.authLimiter = afl }
}

// WithRateLimiter applies per-IP rate limiting to every request.
func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) { s.rateLimiter = rl }
}

// WithAllowedHosts adds hosts accepted as Origin for state-changing
// requests, besides loopback.
func WithAllowedHosts(hosts ...string) ServerOption {
	return func(s *Server) { s.allowedHosts = append(s.allowedHosts, hosts...) }
}

// WithServerLogger sets the logger used for access logs.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates an API server listening on addr.
func NewServer(addr string, health app.HealthUsecase, opts ...ServerOption) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		logger:  slog.Default(),
		health:  health,
		metrics: promhttp.Handler(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()

	var h http.Handler = s.mux
	if s.rateLimiter != nil {
		h = s.rateLimiter.Middleware(h)
	}
	h = accessLogMiddleware(s.logger)(h)
	h = securityHeadersMiddleware(h)

	// Request contexts end on Shutdown so open streams do not hold it up.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      0, // the change stream is long-lived
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	s.httpServer.RegisterOnShutdown(cancelBase)
	return s
}

// wrapAuth wraps h with Basic Auth when it is enabled.
func (s *Server) wrapAuth(h http.HandlerFunc) http.Handler {
	if !s.authEnabled {
		return h
	}
	return basicAuthMiddleware(s.authUsername, s.authPassword, s.authLimiter)(h)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	if s.status != nil {
		s.mux.Handle("GET /api/v1/status", s.wrapAuth(s.handleStatus))
	}
	if s.history != nil {
		s.mux.Handle("GET /api/v1/locations", s.wrapAuth(s.handleLocations))
		s.mux.Handle("GET /api/v1/locations/{id}/presences", s.wrapAuth(s.handlePresences))
		s.mux.Handle("GET /api/v1/players", s.wrapAuth(s.handlePlayers))
		s.mux.Handle("GET /api/v1/worlds", s.wrapAuth(s.handleWorlds))
	}
	if s.stats != nil {
		s.mux.Handle("GET /api/v1/stats/basic", s.wrapAuth(s.handleStats))
	}
	if s.cfg != nil {
		s.mux.Handle("GET /api/v1/config", s.wrapAuth(s.handleGetConfig))
		s.mux.Handle("PUT /api/v1/config", csrfMiddleware(s.allowedHosts)(s.wrapAuth(s.handlePutConfig)))
	}
	if s.hub != nil {
		s.mux.Handle("GET /api/v1/stream", s.wrapAuth(s.handleStream))
	}
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.wrapAuth(s.metrics.ServeHTTP))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	result, err := s.health.Handle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Handler returns the server's root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Serve implements suture.Service: it serves until ctx is cancelled and
// then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *Server) String() string {
	return "http-server"
}
