package billing

import (
	"context"

	"billingsync/internal/types"
)

// SubscriptionStore is the persistence surface the reconciler depends on.
// Implemented by db.SubscriptionRepo; narrowed here so tests can substitute
// an in-memory double.
type SubscriptionStore interface {
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*types.Subscription, error)
	GetByUserID(ctx context.Context, userID string) (*types.Subscription, error)
	Insert(ctx context.Context, sub *types.Subscription) error
	Update(ctx context.Context, sub *types.Subscription) error
}

// RefundStore is the persistence surface the refund service depends on.
type RefundStore interface {
	GetActiveByPaymentIntent(ctx context.Context, paymentIntentID string) (*types.Refund, error)
	GetByStripeRefundID(ctx context.Context, stripeRefundID string) (*types.Refund, error)
	GetByID(ctx context.Context, id string) (*types.Refund, error)
	Insert(ctx context.Context, refund *types.Refund) error
	UpdateStatus(ctx context.Context, id string, status string) error
	List(ctx context.Context, limit, offset int) ([]*types.Refund, error)
	SoftDelete(ctx context.Context, id string) error
}

// PlanStore is the persistence surface the catalog sync depends on.
type PlanStore interface {
	Upsert(ctx context.Context, plan *types.Plan) error
	List(ctx context.Context) ([]*types.Plan, error)
	GetByID(ctx context.Context, id string) (*types.Plan, error)
}
