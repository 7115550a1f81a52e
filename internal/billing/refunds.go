package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"billingsync/internal/external"
	"billingsync/internal/types"
)

const (
	// refundMaxAttempts bounds the provider refund call.
	refundMaxAttempts = 3

	// refundBackoffUnit is the linear backoff unit between failed attempts:
	// attempt 1 waits 1s, attempt 2 waits 2s.
	refundBackoffUnit = time.Second
)

// RefundService enforces the one-refund-per-payment invariant, performs the
// mutating provider call with bounded retry, and persists only
// provider-confirmed results.
type RefundService struct {
	refunds RefundStore
	gateway external.ProviderGateway
	logger  *slog.Logger
	sleepFn func(time.Duration)
}

// RefundServiceOption is a functional option for configuring a RefundService.
type RefundServiceOption func(*RefundService)

// WithRefundSleepFunc overrides the sleep between retry attempts.
// Intended for testing to avoid real delays.
func WithRefundSleepFunc(fn func(time.Duration)) RefundServiceOption {
	return func(s *RefundService) {
		s.sleepFn = fn
	}
}

// NewRefundService creates a RefundService with the given store and gateway.
func NewRefundService(
	refunds RefundStore,
	gateway external.ProviderGateway,
	logger *slog.Logger,
	opts ...RefundServiceOption,
) *RefundService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RefundService{
		refunds: refunds,
		gateway: gateway,
		logger:  logger,
		sleepFn: time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create issues a refund for the given payment intent. At most one non-deleted
// refund may exist per payment intent; a second call conflicts. The provider
// call is retried up to refundMaxAttempts times with linear backoff. The
// persisted amount and status come from the provider response, never from the
// caller, so a caller cannot record a refund amount the provider did not
// actually apply.
func (s *RefundService) Create(ctx context.Context, paymentIntentID string, reason *string, amount *int64, userID string) (*types.Refund, error) {
	if paymentIntentID == "" {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"payment intent id is required",
			nil,
		)
	}
	if amount != nil && *amount <= 0 {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidAmount,
			"refund amount must be positive",
			nil,
		)
	}

	existing, err := s.refunds.GetActiveByPaymentIntent(ctx, paymentIntentID)
	if err == nil {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeConflictRefundExists,
			"a refund already exists for this payment intent",
			nil,
			map[string]any{"refund_id": existing.ID},
		)
	}
	if !types.IsCode(err, types.ErrCodeNotFoundRefund) {
		return nil, err
	}

	snap, err := retryWithBackoff(ctx, refundMaxAttempts, linearBackoff(refundBackoffUnit), s.sleepFn,
		func(ctx context.Context) (*types.RefundSnapshot, error) {
			return s.gateway.CreateRefund(ctx, paymentIntentID, reason, amount)
		},
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "refund creation failed after retries",
			"payment_intent_id", paymentIntentID,
			"error", err,
		)
		// Business-rule rejections from the provider are surfaced as-is;
		// everything else after exhausted retries is a transient upstream
		// failure.
		if types.IsCode(err, types.ErrCodePaymentDeclined) {
			return nil, err
		}
		return nil, types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			"refund could not be created at the provider",
			err,
		)
	}

	refund := &types.Refund{
		ID:                    uuid.NewString(),
		StripeRefundID:        snap.ID,
		StripePaymentIntentID: snap.PaymentIntentID,
		Reason:                reason,
		Amount:                snap.Amount,
		Status:                snap.Status,
		UserID:                userID,
	}

	if err := s.refunds.Insert(ctx, refund); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "refund created",
		"refund_id", refund.ID,
		"stripe_refund_id", refund.StripeRefundID,
		"payment_intent_id", refund.StripePaymentIntentID,
		"amount", refund.Amount,
		"status", refund.Status,
	)
	return refund, nil
}

// UpdateStatus mutates the status of the refund with the given provider
// refund id. A missing record is a tolerable race with the creation path, not
// an error: it is logged and the call returns silently. An empty status is
// skipped the same way.
func (s *RefundService) UpdateStatus(ctx context.Context, stripeRefundID string, status string) error {
	if status == "" {
		s.logger.WarnContext(ctx, "refund status update carried no status, skipping",
			"stripe_refund_id", stripeRefundID,
		)
		return nil
	}

	refund, err := s.refunds.GetByStripeRefundID(ctx, stripeRefundID)
	if err != nil {
		if types.IsCode(err, types.ErrCodeNotFoundRefund) {
			s.logger.WarnContext(ctx, "refund status update for unknown refund, skipping",
				"stripe_refund_id", stripeRefundID,
				"status", status,
			)
			return nil
		}
		return err
	}

	if err := s.refunds.UpdateStatus(ctx, refund.ID, status); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "refund status updated",
		"refund_id", refund.ID,
		"stripe_refund_id", stripeRefundID,
		"status", status,
	)
	return nil
}

// GetByID returns the refund with the given local id.
func (s *RefundService) GetByID(ctx context.Context, id string) (*types.Refund, error) {
	return s.refunds.GetByID(ctx, id)
}

// List returns non-deleted refunds, newest first.
func (s *RefundService) List(ctx context.Context, limit, offset int) ([]*types.Refund, error) {
	return s.refunds.List(ctx, limit, offset)
}

// Delete soft-deletes the refund with the given local id. The record is
// retained and excluded from default queries; a new refund for the same
// payment intent becomes possible afterwards.
func (s *RefundService) Delete(ctx context.Context, id string) error {
	if err := s.refunds.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "refund soft deleted", "refund_id", id)
	return nil
}
