package core

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"billingsync/internal/config"
)

// Server encapsulates the router and cross-cutting dependencies of the
// billingsync API, allowing injection during testing and distinct
// configuration per environment.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	router *chi.Mux
}

// NewServer initializes the router with the base middleware chain and
// prepares the server for route mounting. The caller mounts routes via
// MountRoutes after construction; this separation lets tests customize route
// registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}

	s.router.Use(s.RequestID)
	s.router.Use(s.RequestLogger)
	s.router.Use(s.Recoverer)

	s.router.Get("/health", s.handleHealth)

	return s, nil
}

// MountRoutes registers the given route registrars under the /v1 prefix and
// public registrars (webhooks) at the root.
func (s *Server) MountRoutes(v1 []func(chi.Router), public []func(chi.Router)) {
	s.router.Route("/v1", func(r chi.Router) {
		for _, register := range v1 {
			register(r)
		}
	})
	for _, register := range public {
		register(s.router)
	}
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{"status": "ok"}})
}
