// Package gateway exposes the workflow engine over HTTP: a streaming
// chat endpoint, workflow inspection and cancellation, health, and
// Prometheus metrics.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loamlabs/loam/internal/config"
	"github.com/loamlabs/loam/internal/observability"
	"github.com/loamlabs/loam/internal/workflow"
)

// Server is the loam HTTP gateway.
type Server struct {
	cfg     *config.Config
	manager *workflow.Manager
	logger  *observability.Logger
	metrics *observability.Metrics

	httpServer *http.Server
	listener   net.Listener
}

// ServerDeps carries the gateway's collaborators.
type ServerDeps struct {
	Config  *config.Config
	Manager *workflow.Manager
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewServer builds the gateway. Config and Manager are required.
func NewServer(deps ServerDeps) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("workflow manager is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Server{
		cfg:     deps.Config,
		manager: deps.Manager,
		logger:  logger,
		metrics: deps.Metrics,
	}, nil
}

// Handler returns the gateway's routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/cancel", s.handleCancelWorkflow)

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	return s.withMiddleware(mux)
}

// Start binds the listener and serves until the context is cancelled or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Server.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info(ctx, "starting http server", "addr", addr)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "http server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, useful when port 0 was asked.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Server.Addr()
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil
	s.listener = nil
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
