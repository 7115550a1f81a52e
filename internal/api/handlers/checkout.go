package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"billingsync/internal/billing"
	"billingsync/internal/core"
)

// CheckoutHandler starts provider-hosted checkout flows.
type CheckoutHandler struct {
	checkout  *billing.CheckoutService
	validator *core.Validator
	logger    *slog.Logger
}

// NewCheckoutHandler creates a CheckoutHandler.
func NewCheckoutHandler(
	checkout *billing.CheckoutService,
	validator *core.Validator,
	logger *slog.Logger,
) *CheckoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutHandler{
		checkout:  checkout,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the checkout endpoint.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/checkout-session", h.Create)
}

// createCheckoutRequest is the request body for POST /v1/checkout-session.
type createCheckoutRequest struct {
	Email      string `json:"email" validate:"required,email"`
	PriceID    string `json:"price_id" validate:"required"`
	SuccessURL string `json:"success_url" validate:"required,url"`
	CancelURL  string `json:"cancel_url" validate:"required,url"`
	UserID     string `json:"user_id" validate:"required"`
}

// Create resolves the provider customer for the email and returns a hosted
// checkout session. The subscription record itself is created when the
// completion webhook arrives.
func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	session, err := h.checkout.Start(r.Context(), billing.CheckoutRequest{
		Email:      req.Email,
		PriceID:    req.PriceID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		UserID:     req.UserID,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: session})
}
