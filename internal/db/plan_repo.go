package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"billingsync/internal/types"
)

// PlanRepo persists the locally cached provider plan catalog. The
// (stripe_product_id, stripe_price_id) pair carries a unique constraint; the
// identity pair is never altered after insert, only the display fields are
// refreshed by Upsert.
type PlanRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewPlanRepo creates a PlanRepo backed by the given database connection.
func NewPlanRepo(db DBTX, logger *slog.Logger) *PlanRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanRepo{db: db, logger: logger}
}

const planColumns = `id, stripe_product_id, stripe_price_id, name, amount, currency,
	billing_interval, description, created_at, updated_at`

// Upsert inserts the plan or, on conflict with the identity pair, refreshes
// name, amount, currency, interval, and description.
func (r *PlanRepo) Upsert(ctx context.Context, plan *types.Plan) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO plans
		   (id, stripe_product_id, stripe_price_id, name, amount, currency,
		    billing_interval, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		 ON CONFLICT (stripe_product_id, stripe_price_id) DO UPDATE
		 SET name = EXCLUDED.name,
		     amount = EXCLUDED.amount,
		     currency = EXCLUDED.currency,
		     billing_interval = EXCLUDED.billing_interval,
		     description = EXCLUDED.description,
		     updated_at = NOW()`,
		plan.ID, plan.StripeProductID, plan.StripePriceID, plan.Name, plan.Amount,
		plan.Currency, plan.Interval, plan.Description,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert plan", err)
	}
	return nil
}

// List returns all cached plans ordered by name.
func (r *PlanRepo) List(ctx context.Context) ([]*types.Plan, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+planColumns+` FROM plans ORDER BY name`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list plans", err)
	}
	defer rows.Close()

	var plans []*types.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate plans", err)
	}
	return plans, nil
}

// GetByID returns the plan with the given local id, or a not_found_plan
// AppError.
func (r *PlanRepo) GetByID(ctx context.Context, id string) (*types.Plan, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`,
		id,
	)
	return scanPlan(row)
}

func scanPlan(row pgx.Row) (*types.Plan, error) {
	var plan types.Plan
	err := row.Scan(
		&plan.ID, &plan.StripeProductID, &plan.StripePriceID, &plan.Name, &plan.Amount,
		&plan.Currency, &plan.Interval, &plan.Description, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read plan", err)
	}
	return &plan, nil
}
