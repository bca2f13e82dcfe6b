// Package server exposes the question-answering agent over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/perbu/qest/pkg/qest"
)

// Asker answers a question. answer.Agent implements it.
type Asker interface {
	Ask(ctx context.Context, query string) (qest.QueryContext, error)
}

// Server is the HTTP front end for the agent.
type Server struct {
	agent    Asker
	gatherer prometheus.Gatherer
	addr     string
	timeout  time.Duration
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server. gatherer may be nil to disable /metrics.
func NewServer(agent Asker, gatherer prometheus.Gatherer, addr string, timeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s := &Server{
		agent:    agent,
		gatherer: gatherer,
		addr:     addr,
		timeout:  timeout,
		logger:   logger,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/api/qestbot", s.handleAsk)
	r.Post("/api/qestbot", s.handleAsk)
	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
