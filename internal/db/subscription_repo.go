package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"billingsync/internal/types"
)

// SubscriptionRepo persists subscription records. Uniqueness of
// stripe_subscription_id is enforced by a unique index; Insert surfaces a
// violation as a conflict AppError so the reconciler can fall back to the
// existing record.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a SubscriptionRepo backed by the given database
// connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

const subscriptionColumns = `id, user_id, stripe_customer_id, stripe_subscription_id, price_id,
	status, current_period_start, current_period_end, cancel_at, canceled_at,
	cancel_at_period_end, created_at, updated_at`

// GetByStripeID returns the subscription with the given provider subscription
// id, or a not_found_subscription AppError.
func (r *SubscriptionRepo) GetByStripeID(ctx context.Context, stripeSubID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE stripe_subscription_id = $1`,
		stripeSubID,
	)
	return scanSubscription(row)
}

// GetByUserID returns the subscription owned by the given user, or a
// not_found_subscription AppError.
func (r *SubscriptionRepo) GetByUserID(ctx context.Context, userID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID,
	)
	return scanSubscription(row)
}

// Insert stores a new subscription record. A concurrent insert with the same
// stripe_subscription_id surfaces as a conflict_subscription_exists AppError.
func (r *SubscriptionRepo) Insert(ctx context.Context, sub *types.Subscription) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions
		   (id, user_id, stripe_customer_id, stripe_subscription_id, price_id,
		    status, current_period_start, current_period_end, cancel_at, canceled_at,
		    cancel_at_period_end, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())`,
		sub.ID, sub.UserID, sub.StripeCustomerID, sub.StripeSubscriptionID, sub.PriceID,
		sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAt, sub.CanceledAt,
		sub.CancelAtPeriodEnd,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(
				types.ErrCodeConflictSubscriptionExists,
				"subscription already exists for this provider id",
				err,
			)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert subscription", err)
	}
	return nil
}

// Update writes the mutable fields of sub back to the store, keyed by the
// local id.
func (r *SubscriptionRepo) Update(ctx context.Context, sub *types.Subscription) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET price_id = $1,
		     status = $2,
		     current_period_start = $3,
		     current_period_end = $4,
		     cancel_at = $5,
		     canceled_at = $6,
		     cancel_at_period_end = $7,
		     updated_at = NOW()
		 WHERE id = $8`,
		sub.PriceID, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAt, sub.CanceledAt, sub.CancelAtPeriodEnd, sub.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
	}
	return nil
}

// scanSubscription reads one subscription row, mapping pgx.ErrNoRows to the
// not-found AppError.
func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var sub types.Subscription
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.StripeCustomerID, &sub.StripeSubscriptionID, &sub.PriceID,
		&sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAt, &sub.CanceledAt,
		&sub.CancelAtPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read subscription", err)
	}
	return &sub, nil
}
