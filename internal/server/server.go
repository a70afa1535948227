// Package server provides the HTTP API for citeguard.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/stratolab/citeguard/internal/config"
	"github.com/stratolab/citeguard/internal/generate"
	"github.com/stratolab/citeguard/internal/pipeline"
	"github.com/stratolab/citeguard/internal/snapshot"
	"github.com/stratolab/citeguard/internal/store"
	"github.com/stratolab/citeguard/internal/trace"
)

// Server is the HTTP server for the citeguard API.
type Server struct {
	pipeline  *pipeline.Pipeline
	embedder  generate.Embedder
	snapshots *snapshot.Manager
	store     store.Store
	traces    *trace.SQLiteSink
	config    *config.ServerConfig
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies. traces may be nil
// when tracing goes to the log only; the trace endpoint then reports 501.
func NewServer(
	p *pipeline.Pipeline,
	embedder generate.Embedder,
	snapshots *snapshot.Manager,
	st store.Store,
	traces *trace.SQLiteSink,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		pipeline:  p,
		embedder:  embedder,
		snapshots: snapshots,
		store:     st,
		traces:    traces,
		config:    cfg,
		logger:    logger,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/ask", s.handleAsk)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/api/v1/traces/{id}", s.handleGetTrace)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
