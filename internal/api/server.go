package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ccatobs/pcs/internal/agent"
	"github.com/ccatobs/pcs/internal/audit"
	"github.com/ccatobs/pcs/internal/auth"
)

// Server is the HTTP control API.
type Server struct {
	registry *agent.Registry
	authMW   *auth.Middleware
	audit    *audit.Logger
	gatherer prometheus.Gatherer
	log      zerolog.Logger

	httpServer *http.Server
	startTime  time.Time
}

// NewServer wires the API over the agent registry. gatherer may be nil
// to omit the metrics endpoint; audit may be nil to skip action logging.
func NewServer(registry *agent.Registry, authMW *auth.Middleware, auditLog *audit.Logger, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	return &Server{
		registry:  registry,
		authMW:    authMW,
		audit:     auditLog,
		gatherer:  gatherer,
		log:       log.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/agents", s.authMW.RequireAuth(s.handleAgents))
	mux.HandleFunc("GET /api/v1/agents/{agent}/ops/{op}", s.authMW.RequireAuth(s.handleOpStatus))
	mux.HandleFunc("POST /api/v1/agents/{agent}/ops/{op}/start",
		s.authMW.RequireAuth(s.authMW.RequireController(s.handleOpStart)))
	mux.HandleFunc("POST /api/v1/agents/{agent}/ops/{op}/stop",
		s.authMW.RequireAuth(s.authMW.RequireController(s.handleOpStop)))

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start serves until Stop is called. It blocks.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("control API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control API server: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
