// Package handler implements the loader's operational HTTP surface.
// All handlers are methods on Server; Routes mounts them on a chi router.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pkordes/bikeshare-etl/internal/domain"
	"github.com/pkordes/bikeshare-etl/internal/middleware"
)

// Pinger reports whether the warehouse is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunStatus exposes the most recently finished run, if any.
type RunStatus interface {
	LastReport() (domain.RunReport, bool)
}

// Server serves health, status and metrics endpoints.
type Server struct {
	db      Pinger
	runs    RunStatus
	metrics http.Handler
}

// NewServer constructs the Server. metrics may be nil, in which case
// /metrics is not mounted.
func NewServer(db Pinger, runs RunStatus, metrics http.Handler) *Server {
	return &Server{db: db, runs: runs, metrics: metrics}
}

// Routes returns the router with middleware applied in order:
// RequestID → RealIP → SlogLogger → Recoverer → CORS. CORS is only applied
// when corsOrigins is non-empty.
func (s *Server) Routes(log *slog.Logger, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSlogLogger(log))
	r.Use(chimiddleware.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(middleware.NewCORSHandler(corsOrigins))
	}

	r.Get("/healthz", s.GetHealth)
	r.Get("/readyz", s.GetReady)
	r.Get("/status", s.GetStatus)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}
