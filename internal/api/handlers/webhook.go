// Package handlers contains the HTTP handler implementations for the
// billingsync API.
//
// The webhook handler is NOT behind any auth middleware; it is called
// directly by the payment provider. Security is provided by verifying the
// Stripe-Signature header against the signing secret.
package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"billingsync/internal/billing"
	"billingsync/internal/core"
	"billingsync/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a webhook payload (64 KB).
// Provider webhook payloads are small; this limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// WebhookHandler receives asynchronous events from the payment provider and
// forwards the raw bytes to the dispatcher.
type WebhookHandler struct {
	dispatcher *billing.Dispatcher
	logger     *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(dispatcher *billing.Dispatcher, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{dispatcher: dispatcher, logger: logger}
}

// RegisterRoutes mounts the webhook endpoint. This is kept separate from the
// /v1 API routes because webhook routes are public.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes one inbound webhook delivery. The raw body is passed to
// the dispatcher untouched so signature verification sees the exact bytes the
// provider signed. A failed delivery gets a rejecting response, signaling the
// provider that it may redeliver.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidPayload,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")

	if err := h.dispatcher.Dispatch(r.Context(), payload, sigHeader); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]bool{"received": true})
}
