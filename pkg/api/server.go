// Package api wires the HTTP surface: routing, handlers and the server
// lifecycle.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/taskscope/taskscope/pkg/auth"
	"github.com/taskscope/taskscope/pkg/config"
	"github.com/taskscope/taskscope/pkg/httputil"
	"github.com/taskscope/taskscope/pkg/middleware"
	"github.com/taskscope/taskscope/pkg/observability"
	"github.com/taskscope/taskscope/pkg/projects"
	"github.com/taskscope/taskscope/pkg/tasks"
	"github.com/taskscope/taskscope/pkg/users"
)

// Server hosts the HTTP API
type Server struct {
	cfg     config.ServerConfig
	logger  *observability.Logger
	metrics *observability.Metrics
	httpSrv *http.Server
}

// Deps collects everything the route table needs
type Deps struct {
	Projects    *projects.Service
	Tasks       *tasks.Service
	Users       *users.Service
	Tokens      *auth.TokenManager
	Revocations *auth.RevocationStore
}

// NewServer builds the router and the underlying http.Server
func NewServer(cfg config.ServerConfig, deps Deps, logger *observability.Logger, metrics *observability.Metrics) *Server {
	r := mux.NewRouter()

	authn := middleware.NewAuthMiddleware(deps.Tokens, logger)

	authHandlers := NewAuthHandlers(deps.Users, deps.Tokens, deps.Revocations, logger)
	authHandlers.RegisterRoutes(r)

	protected := r.PathPrefix("/api/v1").Subrouter()
	protected.Use(authn.Require)

	NewProjectHandlers(deps.Projects, deps.Tasks, logger).RegisterRoutes(protected)
	NewTaskHandlers(deps.Tasks, logger).RegisterRoutes(protected)
	NewUserHandlers(deps.Users, logger).RegisterRoutes(protected)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteSuccess(w, map[string]string{"status": "ok"})
	}).Methods("GET")
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler()).Methods("GET")
	}

	var handler http.Handler = r
	handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
	)(handler)
	if metrics != nil {
		handler = metrics.InstrumentHandler("api", handler)
	}

	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		httpSrv: &http.Server{
			Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Handler exposes the fully wired route table
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving; it blocks until the listener closes
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpSrv.Addr).Info("http server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
