// Package billing contains the synchronization core of the service: the
// subscription reconciler, the refund service, the plan catalog sync, and the
// event dispatcher that routes provider webhook events into them.
package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"billingsync/internal/external"
	"billingsync/internal/types"
)

// Reconciler applies create, update, and cancel semantics to subscription
// records. It owns the Subscription entity; no other component writes
// subscription rows directly.
type Reconciler struct {
	subs    SubscriptionStore
	gateway external.ProviderGateway
	logger  *slog.Logger
	now     func() time.Time
}

// ReconcilerOption is a functional option for configuring a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock overrides the wall clock. Intended for testing.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

// NewReconciler creates a Reconciler with the given store and gateway.
func NewReconciler(
	subs SubscriptionStore,
	gateway external.ProviderGateway,
	logger *slog.Logger,
	opts ...ReconcilerOption,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		subs:    subs,
		gateway: gateway,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create inserts a subscription record, idempotently on the provider
// subscription id. A duplicate create is a no-op returning the existing
// record unchanged.
func (r *Reconciler) Create(ctx context.Context, input types.NewSubscription) (*types.Subscription, error) {
	if !input.Status.Valid() {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidStatus,
			"invalid subscription status: "+string(input.Status),
			nil,
		)
	}

	existing, err := r.subs.GetByStripeID(ctx, input.StripeSubscriptionID)
	if err == nil {
		r.logger.InfoContext(ctx, "subscription already exists, returning existing record",
			"stripe_subscription_id", input.StripeSubscriptionID,
		)
		return existing, nil
	}
	if !types.IsCode(err, types.ErrCodeNotFoundSubscription) {
		return nil, err
	}

	sub := &types.Subscription{
		ID:                   uuid.NewString(),
		UserID:               input.UserID,
		StripeCustomerID:     input.StripeCustomerID,
		StripeSubscriptionID: input.StripeSubscriptionID,
		PriceID:              input.PriceID,
		Status:               input.Status,
		CurrentPeriodStart:   input.CurrentPeriodStart,
		CurrentPeriodEnd:     input.CurrentPeriodEnd,
		CancelAt:             input.CancelAt,
		CanceledAt:           input.CanceledAt,
		CancelAtPeriodEnd:    input.CancelAtPeriodEnd,
	}

	if err := r.subs.Insert(ctx, sub); err != nil {
		// A concurrent create for the same provider id can slip past the
		// existence check; the unique index catches it and the existing
		// record wins.
		if types.IsCode(err, types.ErrCodeConflictSubscriptionExists) {
			return r.subs.GetByStripeID(ctx, input.StripeSubscriptionID)
		}
		return nil, err
	}

	r.logger.InfoContext(ctx, "subscription created",
		"subscription_id", sub.ID,
		"stripe_subscription_id", sub.StripeSubscriptionID,
		"user_id", sub.UserID,
	)
	return sub, nil
}

// SyncFromCheckout confirms a completed checkout by re-fetching the
// authoritative subscription state from the provider and creating the local
// record from that snapshot. Billing fields embedded in the checkout payload
// are never trusted.
func (r *Reconciler) SyncFromCheckout(ctx context.Context, stripeSubscriptionID, userID string) (*types.Subscription, error) {
	snap, err := r.gateway.RetrieveSubscription(ctx, stripeSubscriptionID)
	if err != nil {
		return nil, err
	}

	return r.Create(ctx, types.NewSubscription{
		UserID:               userID,
		StripeCustomerID:     snap.CustomerID,
		StripeSubscriptionID: snap.ID,
		PriceID:              snap.PriceID,
		Status:               snap.Status,
		CurrentPeriodStart:   snap.CurrentPeriodStart,
		CurrentPeriodEnd:     snap.CurrentPeriodEnd,
		CancelAt:             snap.CancelAt,
		CanceledAt:           snap.CanceledAt,
		CancelAtPeriodEnd:    snap.CancelAtPeriodEnd,
	})
}

// UpdateByStripeID applies a partial-field merge to the subscription with the
// given provider id. Nil patch fields leave the stored value untouched;
// non-nil fields overwrite it. A missing record is a not-found error,
// signaling an out-of-order delivery.
func (r *Reconciler) UpdateByStripeID(ctx context.Context, stripeSubscriptionID string, patch types.SubscriptionPatch) (*types.Subscription, error) {
	sub, err := r.subs.GetByStripeID(ctx, stripeSubscriptionID)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, types.NewAppError(
				types.ErrCodeValidationInvalidStatus,
				"invalid subscription status: "+string(*patch.Status),
				nil,
			)
		}
		sub.Status = *patch.Status
	}
	if patch.PriceID != nil {
		sub.PriceID = *patch.PriceID
	}
	if patch.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = patch.CurrentPeriodStart
	}
	if patch.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = patch.CurrentPeriodEnd
	}
	if patch.CancelAt != nil {
		sub.CancelAt = patch.CancelAt
	}
	if patch.CanceledAt != nil {
		sub.CanceledAt = patch.CanceledAt
	}
	if patch.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *patch.CancelAtPeriodEnd
	}

	if err := r.subs.Update(ctx, sub); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "subscription updated",
		"subscription_id", sub.ID,
		"stripe_subscription_id", sub.StripeSubscriptionID,
		"status", sub.Status,
	)
	return sub, nil
}

// Cancel marks the subscription canceled. The cancellation timestamp is the
// processing instant, not a timestamp carried by any triggering event.
func (r *Reconciler) Cancel(ctx context.Context, stripeSubscriptionID string) (*types.Subscription, error) {
	sub, err := r.subs.GetByStripeID(ctx, stripeSubscriptionID)
	if err != nil {
		return nil, err
	}

	canceledAt := r.now().UTC()
	sub.Status = types.SubStatusCanceled
	sub.CanceledAt = &canceledAt

	if err := r.subs.Update(ctx, sub); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "subscription canceled",
		"subscription_id", sub.ID,
		"stripe_subscription_id", sub.StripeSubscriptionID,
	)
	return sub, nil
}

// CancelAtProvider cancels the subscription at the provider first, then marks
// the local record canceled. Used by the synchronous cancel API; webhook
// deliveries for the same cancellation become idempotent no-ops downstream.
func (r *Reconciler) CancelAtProvider(ctx context.Context, stripeSubscriptionID string) (*types.Subscription, error) {
	// Look up first so an unknown id fails before the provider call.
	if _, err := r.subs.GetByStripeID(ctx, stripeSubscriptionID); err != nil {
		return nil, err
	}

	if _, err := r.gateway.CancelSubscription(ctx, stripeSubscriptionID); err != nil {
		return nil, err
	}

	return r.Cancel(ctx, stripeSubscriptionID)
}

// GetByUserID returns the most recent subscription owned by the given user.
func (r *Reconciler) GetByUserID(ctx context.Context, userID string) (*types.Subscription, error) {
	return r.subs.GetByUserID(ctx, userID)
}
