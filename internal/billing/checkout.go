package billing

import (
	"context"
	"log/slog"

	"billingsync/internal/external"
	"billingsync/internal/types"
)

// CheckoutService starts provider-hosted checkout flows. The resulting
// subscription record is created later by the reconciler when the
// checkout-completion event arrives.
type CheckoutService struct {
	gateway external.ProviderGateway
	logger  *slog.Logger
}

// NewCheckoutService creates a CheckoutService with the given gateway.
func NewCheckoutService(gateway external.ProviderGateway, logger *slog.Logger) *CheckoutService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutService{gateway: gateway, logger: logger}
}

// CheckoutRequest carries the inputs for starting a checkout flow.
type CheckoutRequest struct {
	Email      string
	PriceID    string
	SuccessURL string
	CancelURL  string
	UserID     string
}

// Start resolves the provider customer for the given email and creates a
// checkout session in subscription mode. The user id travels with the session
// as client_reference_id so the completion event can be correlated back.
func (s *CheckoutService) Start(ctx context.Context, req CheckoutRequest) (*types.CheckoutSession, error) {
	customerID, err := s.gateway.FindOrCreateCustomer(ctx, req.Email)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, external.CheckoutParams{
		CustomerID: customerID,
		PriceID:    req.PriceID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		UserID:     req.UserID,
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "checkout session created",
		"session_id", session.ID,
		"customer_id", customerID,
		"user_id", req.UserID,
	)
	return session, nil
}
