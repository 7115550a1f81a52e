package external

import (
	"context"

	"billingsync/internal/types"
)

// ProviderGateway abstracts interactions with the payment provider (Stripe).
// It is the only component of the service that performs network I/O against
// the provider; all core logic depends on this interface, enabling
// substitution with a test double.
type ProviderGateway interface {
	// FindOrCreateCustomer returns the provider customer id for the given
	// email, creating the customer when none exists.
	FindOrCreateCustomer(ctx context.Context, email string) (string, error)

	// CreateCheckoutSession generates a provider-hosted checkout page for a
	// subscription purchase. userID is attached as client_reference_id for
	// webhook correlation.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*types.CheckoutSession, error)

	// RetrieveSubscription fetches the authoritative subscription state from
	// the provider.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*types.SubscriptionSnapshot, error)

	// CancelSubscription cancels the subscription at the provider and
	// returns the resulting state.
	CancelSubscription(ctx context.Context, subscriptionID string) (*types.SubscriptionSnapshot, error)

	// ListActiveRecurringPrices fetches one page of the provider's active
	// price catalog with product data expanded. No pagination continuation.
	ListActiveRecurringPrices(ctx context.Context, pageSize int) ([]types.PriceWithProduct, error)

	// CreateRefund performs the mutating refund call. Reason and amount are
	// optional; the returned snapshot carries the provider-confirmed values.
	CreateRefund(ctx context.Context, paymentIntentID string, reason *string, amount *int64) (*types.RefundSnapshot, error)
}

// CheckoutParams carries the inputs for CreateCheckoutSession.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	UserID     string
}

// WebhookVerifier abstracts provider webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature
	// header and signing secret. Returns nil on success, an error on failure.
	Verify(payload []byte, header string, secret string) error
}

// Provider event type constants prevent magic strings in webhook routing.
const (
	EventCheckoutCompleted  = "checkout.session.completed"
	EventSubscriptionUpdate = "customer.subscription.updated"
	EventSubscriptionDelete = "customer.subscription.deleted"
	EventRefundUpdated      = "refund.updated"
	EventProductCreated     = "product.created"
	EventProductUpdated     = "product.updated"
	EventPriceCreated       = "price.created"
	EventPriceUpdated       = "price.updated"
)
