package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"billingsync/internal/billing"
	"billingsync/internal/core"
)

// PlanHandler exposes the cached plan catalog and the manual sync trigger.
type PlanHandler struct {
	catalog *billing.CatalogSync
	logger  *slog.Logger
}

// NewPlanHandler creates a PlanHandler.
func NewPlanHandler(catalog *billing.CatalogSync, logger *slog.Logger) *PlanHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanHandler{catalog: catalog, logger: logger}
}

// RegisterRoutes mounts the plan endpoints.
func (h *PlanHandler) RegisterRoutes(r chi.Router) {
	r.Get("/plans", h.List)
	r.Get("/plans/{id}", h.Get)
	r.Post("/plans/sync", h.Sync)
}

// List returns the cached plan catalog.
func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	plans, err := h.catalog.List(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: plans})
}

// Get returns the cached plan with the given local id.
func (h *PlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	plan, err := h.catalog.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: plan})
}

// Sync runs one catalog sync pass against the provider and returns the plans
// touched. The same pass runs when the provider delivers product or price
// events; this endpoint exists for manual backfill.
func (h *PlanHandler) Sync(w http.ResponseWriter, r *http.Request) {
	plans, err := h.catalog.Run(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: plans})
}
