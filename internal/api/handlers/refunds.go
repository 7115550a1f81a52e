package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"billingsync/internal/billing"
	"billingsync/internal/core"
	"billingsync/internal/types"
)

const (
	defaultRefundPageLimit = 20
	maxRefundPageLimit     = 100
)

// RefundHandler exposes the refund API.
type RefundHandler struct {
	refunds   *billing.RefundService
	validator *core.Validator
	logger    *slog.Logger
}

// NewRefundHandler creates a RefundHandler.
func NewRefundHandler(
	refunds *billing.RefundService,
	validator *core.Validator,
	logger *slog.Logger,
) *RefundHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefundHandler{
		refunds:   refunds,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the refund endpoints.
func (h *RefundHandler) RegisterRoutes(r chi.Router) {
	r.Post("/refunds", h.Create)
	r.Get("/refunds", h.List)
	r.Get("/refunds/{id}", h.Get)
	r.Delete("/refunds/{id}", h.Delete)
}

// createRefundRequest is the request body for POST /v1/refunds. Amount is in
// the smallest currency unit; when omitted the provider refunds the full
// charge.
type createRefundRequest struct {
	PaymentIntentID string  `json:"payment_intent_id" validate:"required"`
	UserID          string  `json:"user_id" validate:"required"`
	Reason          *string `json:"reason"`
	Amount          *int64  `json:"amount" validate:"omitempty,gt=0"`
}

// Create issues a refund through the provider. A second refund for the same
// payment intent is rejected with a conflict. Provider outages after
// exhausted retries surface as an opaque internal error; nothing is persisted
// in that case.
func (h *RefundHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRefundRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	refund, err := h.refunds.Create(r.Context(), req.PaymentIntentID, req.Reason, req.Amount, req.UserID)
	if err != nil {
		core.Error(w, r, opaqueUpstream(err))
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: refund})
}

// List returns non-deleted refunds, newest first.
func (h *RefundHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultRefundPageLimit)
	if limit < 1 || limit > maxRefundPageLimit {
		limit = defaultRefundPageLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	refunds, err := h.refunds.List(r.Context(), limit, offset)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: refunds})
}

// Get returns the refund with the given local id.
func (h *RefundHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	refund, err := h.refunds.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: refund})
}

// Delete soft-deletes the refund with the given local id.
func (h *RefundHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.refunds.Delete(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// opaqueUpstream converts exhausted-retry upstream failures into a generic
// internal error so provider details never leak to refund API callers.
// Payment declines keep their specific code.
func opaqueUpstream(err error) error {
	if types.IsCode(err, types.ErrCodeUpstreamUnavailable) ||
		types.IsCode(err, types.ErrCodeUpstreamRateLimited) ||
		types.IsCode(err, types.ErrCodeUpstreamStripe) {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"refund could not be processed",
			err,
		)
	}
	return err
}

// queryInt reads an integer query parameter, falling back to def on absence
// or a parse failure.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
