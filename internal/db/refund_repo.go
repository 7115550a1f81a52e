package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"billingsync/internal/types"
)

// RefundRepo persists refund records. Soft-deleted rows (deleted_at set) are
// excluded from all default queries; the one-refund-per-payment invariant is
// checked against non-deleted rows only.
type RefundRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewRefundRepo creates a RefundRepo backed by the given database connection.
func NewRefundRepo(db DBTX, logger *slog.Logger) *RefundRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefundRepo{db: db, logger: logger}
}

const refundColumns = `id, stripe_refund_id, stripe_payment_intent_id, reason, amount,
	status, user_id, created_at, updated_at, deleted_at`

// GetActiveByPaymentIntent returns the non-deleted refund for the given
// payment intent, or a not_found_refund AppError when none exists.
func (r *RefundRepo) GetActiveByPaymentIntent(ctx context.Context, paymentIntentID string) (*types.Refund, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+refundColumns+`
		 FROM refunds
		 WHERE stripe_payment_intent_id = $1 AND deleted_at IS NULL`,
		paymentIntentID,
	)
	return scanRefund(row)
}

// GetByStripeRefundID returns the refund with the given provider refund id,
// or a not_found_refund AppError.
func (r *RefundRepo) GetByStripeRefundID(ctx context.Context, stripeRefundID string) (*types.Refund, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+refundColumns+`
		 FROM refunds
		 WHERE stripe_refund_id = $1 AND deleted_at IS NULL`,
		stripeRefundID,
	)
	return scanRefund(row)
}

// GetByID returns the refund with the given local id, or a not_found_refund
// AppError.
func (r *RefundRepo) GetByID(ctx context.Context, id string) (*types.Refund, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+refundColumns+`
		 FROM refunds
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	return scanRefund(row)
}

// Insert stores a new refund record.
func (r *RefundRepo) Insert(ctx context.Context, refund *types.Refund) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO refunds
		   (id, stripe_refund_id, stripe_payment_intent_id, reason, amount,
		    status, user_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`,
		refund.ID, refund.StripeRefundID, refund.StripePaymentIntentID, refund.Reason,
		refund.Amount, refund.Status, refund.UserID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(
				types.ErrCodeConflictRefundExists,
				"a refund already exists for this payment intent",
				err,
			)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert refund", err)
	}
	return nil
}

// UpdateStatus mutates the status of the refund with the given local id.
func (r *RefundRepo) UpdateStatus(ctx context.Context, id string, status string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE refunds
		 SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND deleted_at IS NULL`,
		status, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update refund status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRefund, "refund not found", nil)
	}
	return nil
}

// List returns non-deleted refunds, newest first.
func (r *RefundRepo) List(ctx context.Context, limit, offset int) ([]*types.Refund, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+refundColumns+`
		 FROM refunds
		 WHERE deleted_at IS NULL
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list refunds", err)
	}
	defer rows.Close()

	var refunds []*types.Refund
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate refunds", err)
	}
	return refunds, nil
}

// SoftDelete marks the refund deleted; the row is retained and excluded from
// default queries.
func (r *RefundRepo) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE refunds
		 SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to soft delete refund", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRefund, "refund not found", nil)
	}
	return nil
}

func scanRefund(row pgx.Row) (*types.Refund, error) {
	var refund types.Refund
	err := row.Scan(
		&refund.ID, &refund.StripeRefundID, &refund.StripePaymentIntentID, &refund.Reason,
		&refund.Amount, &refund.Status, &refund.UserID, &refund.CreatedAt, &refund.UpdatedAt,
		&refund.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundRefund, "refund not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read refund", err)
	}
	return &refund, nil
}
