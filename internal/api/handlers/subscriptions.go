package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"billingsync/internal/billing"
	"billingsync/internal/core"
	"billingsync/internal/types"
)

// SubscriptionHandler exposes the synchronous subscription API. Webhook
// deliveries for the same records flow through the dispatcher, not through
// this handler.
type SubscriptionHandler struct {
	reconciler *billing.Reconciler
	validator  *core.Validator
	logger     *slog.Logger
}

// NewSubscriptionHandler creates a SubscriptionHandler.
func NewSubscriptionHandler(
	reconciler *billing.Reconciler,
	validator *core.Validator,
	logger *slog.Logger,
) *SubscriptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionHandler{
		reconciler: reconciler,
		validator:  validator,
		logger:     logger,
	}
}

// RegisterRoutes mounts the subscription endpoints.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/subscriptions", h.Create)
	r.Get("/subscriptions/user/{userID}", h.GetByUser)
	r.Patch("/subscriptions/{stripeSubscriptionID}", h.Update)
	r.Patch("/subscriptions/{stripeSubscriptionID}/cancel", h.Cancel)
}

// createSubscriptionRequest is the request body for POST /v1/subscriptions.
type createSubscriptionRequest struct {
	UserID               string     `json:"user_id" validate:"required"`
	StripeCustomerID     string     `json:"stripe_customer_id" validate:"required"`
	StripeSubscriptionID string     `json:"stripe_subscription_id" validate:"required"`
	PriceID              string     `json:"price_id" validate:"required"`
	Status               string     `json:"status" validate:"required"`
	CurrentPeriodStart   *time.Time `json:"current_period_start"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	CancelAt             *time.Time `json:"cancel_at"`
	CanceledAt           *time.Time `json:"canceled_at"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
}

// Create inserts a subscription record directly. Idempotent on the provider
// subscription id: a duplicate create returns the existing record unchanged.
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	sub, err := h.reconciler.Create(r.Context(), types.NewSubscription{
		UserID:               req.UserID,
		StripeCustomerID:     req.StripeCustomerID,
		StripeSubscriptionID: req.StripeSubscriptionID,
		PriceID:              req.PriceID,
		Status:               types.SubscriptionStatus(req.Status),
		CurrentPeriodStart:   req.CurrentPeriodStart,
		CurrentPeriodEnd:     req.CurrentPeriodEnd,
		CancelAt:             req.CancelAt,
		CanceledAt:           req.CanceledAt,
		CancelAtPeriodEnd:    req.CancelAtPeriodEnd,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: sub})
}

// GetByUser returns the most recent subscription owned by the given user.
func (h *SubscriptionHandler) GetByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	sub, err := h.reconciler.GetByUserID(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: sub})
}

// updateSubscriptionRequest is the request body for the partial update
// endpoint. Nil fields leave the stored value untouched.
type updateSubscriptionRequest struct {
	Status             *string    `json:"status"`
	PriceID            *string    `json:"price_id"`
	CurrentPeriodStart *time.Time `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end"`
	CancelAt           *time.Time `json:"cancel_at"`
	CanceledAt         *time.Time `json:"canceled_at"`
	CancelAtPeriodEnd  *bool      `json:"cancel_at_period_end"`
}

// Update applies a partial-field merge to the subscription with the given
// provider subscription id.
func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	stripeSubID := chi.URLParam(r, "stripeSubscriptionID")

	var req updateSubscriptionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	patch := types.SubscriptionPatch{
		PriceID:            req.PriceID,
		CurrentPeriodStart: req.CurrentPeriodStart,
		CurrentPeriodEnd:   req.CurrentPeriodEnd,
		CancelAt:           req.CancelAt,
		CanceledAt:         req.CanceledAt,
		CancelAtPeriodEnd:  req.CancelAtPeriodEnd,
	}
	if req.Status != nil {
		status := types.SubscriptionStatus(*req.Status)
		patch.Status = &status
	}

	sub, err := h.reconciler.UpdateByStripeID(r.Context(), stripeSubID, patch)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: sub})
}

// Cancel cancels the subscription at the provider, then marks the local
// record canceled.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	stripeSubID := chi.URLParam(r, "stripeSubscriptionID")

	sub, err := h.reconciler.CancelAtProvider(r.Context(), stripeSubID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: sub})
}
