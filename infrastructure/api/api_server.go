// Package api provides the HTTP document server.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	apimiddleware "github.com/helixml/folio/infrastructure/api/middleware"
	v1 "github.com/helixml/folio/infrastructure/api/v1"
)

// RequestTimeout bounds a single API request.
const RequestTimeout = 60 * time.Second

// APIServer serves a document library over HTTP.
type APIServer struct {
	library        v1.Library
	allowedOrigins []string
	logger         *slog.Logger

	mu     sync.Mutex
	server *Server
}

// NewAPIServer creates a new APIServer for lib. allowedOrigins configures
// CORS; an empty list allows any origin.
func NewAPIServer(lib v1.Library, logger *slog.Logger, allowedOrigins ...string) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIServer{
		library:        lib,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// Handler returns the fully wired router, including middleware.
func (a *APIServer) Handler() http.Handler {
	return a.newServer("").Router()
}

func (a *APIServer) newServer(addr string) *Server {
	server := NewServer(addr, a.logger, a.allowedOrigins...)
	a.mountRoutes(server.Router())
	return server
}

func (a *APIServer) mountRoutes(router chi.Router) {
	documents := v1.NewDocumentsRouter(a.library, a.logger)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		apimiddleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(RequestTimeout))
		r.Mount("/documents", documents.Routes())
	})
}

// ListenAndServe starts the HTTP server on addr and blocks until it stops.
func (a *APIServer) ListenAndServe(addr string) error {
	return a.start(a.newServer(addr)).Start()
}

// Serve serves on l and blocks until the server stops.
func (a *APIServer) Serve(l net.Listener) error {
	return a.start(a.newServer(l.Addr().String())).Serve(l)
}

func (a *APIServer) start(s *Server) *Server {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.server = s
	return s
}

// Shutdown gracefully shuts down the server.
func (a *APIServer) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	server := a.server
	a.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
