// Package rpcapi implements spec.md §6.1's RPC surface (AuthService,
// AdminService, EngineService) as chi-routed HTTP/JSON endpoints, behind
// the middleware chain described in spec.md §4.7: the teacher's actual
// working transport is HTTP/JSON over chi, not a literal gRPC/HTTP2
// framing, so protolith keeps that shape and carries over the same
// header names and status-code mapping (see DESIGN.md).
package rpcapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/protolith-db/protolith/internal/auth"
	"github.com/protolith-db/protolith/internal/dbengine"
	"github.com/protolith-db/protolith/internal/metrics"
	"github.com/protolith-db/protolith/internal/session"
)

const loginPath = "/auth/login"

// Server is the HTTP server hosting protolith's three RPC services.
type Server struct {
	engine   *dbengine.Engine
	auth     *auth.Service
	sessions *session.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger

	router chi.Router
	server *http.Server
}

// NewServer wires the engine, auth service, and session store into a
// routed HTTP handler (spec.md §4.6 step 9).
func NewServer(engine *dbengine.Engine, authSvc *auth.Service, sessions *session.Store, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		engine:   engine,
		auth:     authSvc,
		sessions: sessions,
		metrics:  m,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.tracingMiddleware)
	r.Use(versionMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.sessionGate(loginPath))

		r.Post(loginPath, s.handleLogin)

		r.Post("/admin/databases", s.handleCreateDatabase)
		r.Post("/admin/databases/replace", s.handleCreateOrReplaceDatabase)
		r.Get("/admin/databases", s.handleListDatabases)
		r.Post("/admin/collections", s.handleCreateCollection)

		r.Post("/engine/insert", s.handleInsert)
		r.Post("/engine/get", s.handleGet)
		r.Post("/engine/list", s.handleList)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ServeHTTP implements http.Handler, letting Server be used directly in
// tests via httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying router, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start binds and serves on addr, blocking until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{Addr: addr, Handler: s.router}
	s.logger.Info("starting server", slog.String("address", addr))
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests (spec.md §5 "graceful
// shutdown").
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
