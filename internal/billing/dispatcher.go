package billing

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"billingsync/internal/external"
	"billingsync/internal/types"
)

// Dispatcher is the webhook event state machine: it verifies the raw payload,
// classifies the event by its type tag, and routes it to the owning handler.
// A nil return acknowledges the event; a non-nil return tells the caller to
// reject so the provider may redeliver.
//
// Unrecognized event types are acknowledged as successful no-ops, preventing
// the provider from endlessly redelivering events this service does not
// handle. The dispatcher performs no retries of its own; retry-via-redelivery
// is delegated to the provider.
type Dispatcher struct {
	verifier   external.WebhookVerifier
	secret     string
	reconciler *Reconciler
	refunds    *RefundService
	catalog    *CatalogSync
	logger     *slog.Logger
}

// NewDispatcher creates a Dispatcher wired to the given handlers.
func NewDispatcher(
	verifier external.WebhookVerifier,
	secret string,
	reconciler *Reconciler,
	refunds *RefundService,
	catalog *CatalogSync,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		verifier:   verifier,
		secret:     secret,
		reconciler: reconciler,
		refunds:    refunds,
		catalog:    catalog,
		logger:     logger,
	}
}

// Dispatch verifies and processes one raw webhook delivery. payload must be
// the untouched bytes as received; any re-serialization before verification
// breaks the signature.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte, sigHeader string) error {
	if d.secret == "" {
		return types.NewAppError(
			types.ErrCodeAuthSecretMissing,
			"webhook signing secret is not configured",
			nil,
		)
	}

	if err := d.verifier.Verify(payload, sigHeader, d.secret); err != nil {
		d.logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		return err
	}

	var event providerEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return types.NewAppError(
			types.ErrCodeValidationInvalidPayload,
			"invalid webhook event JSON",
			err,
		)
	}

	d.logger.InfoContext(ctx, "processing webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
		"event_created", event.Created,
	)

	if err := d.route(ctx, &event); err != nil {
		d.logger.ErrorContext(ctx, "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		return err
	}
	return nil
}

// route classifies the event by its type tag. Each payload shape is validated
// per type before any handler runs.
func (d *Dispatcher) route(ctx context.Context, event *providerEvent) error {
	switch event.Type {
	case external.EventCheckoutCompleted:
		return d.handleCheckoutCompleted(ctx, event)

	case external.EventSubscriptionUpdate:
		return d.handleSubscriptionUpdated(ctx, event)

	case external.EventSubscriptionDelete:
		return d.handleSubscriptionDeleted(ctx, event)

	case external.EventRefundUpdated:
		return d.handleRefundUpdated(ctx, event)

	case external.EventProductCreated, external.EventProductUpdated,
		external.EventPriceCreated, external.EventPriceUpdated:
		_, err := d.catalog.Run(ctx)
		return err

	default:
		d.logger.InfoContext(ctx, "acknowledging unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// handleCheckoutCompleted confirms a new subscription after checkout. The
// authoritative subscription state is re-fetched from the provider; billing
// fields embedded in the checkout payload are not trusted.
func (d *Dispatcher) handleCheckoutCompleted(ctx context.Context, event *providerEvent) error {
	var session checkoutSessionPayload
	if err := event.decodeObject(&session); err != nil {
		return err
	}
	if session.Subscription == "" {
		return types.NewAppError(
			types.ErrCodeValidationMissingField,
			"checkout completion event carries no subscription id",
			nil,
		)
	}

	userID := session.ClientReferenceID
	if userID == "" {
		userID = session.Metadata["user_id"]
	}
	if userID == "" {
		return types.NewAppError(
			types.ErrCodeValidationMissingField,
			"checkout completion event carries no user reference",
			nil,
		)
	}

	_, err := d.reconciler.SyncFromCheckout(ctx, session.Subscription, userID)
	return err
}

// handleSubscriptionUpdated applies a partial-field merge. A missing local
// record surfaces as not-found, signaling an out-of-order delivery; the
// rejecting response lets the provider redeliver after the create lands.
func (d *Dispatcher) handleSubscriptionUpdated(ctx context.Context, event *providerEvent) error {
	var sub subscriptionPayload
	if err := event.decodeObject(&sub); err != nil {
		return err
	}
	if sub.ID == "" {
		return types.NewAppError(
			types.ErrCodeValidationMissingField,
			"subscription event carries no subscription id",
			nil,
		)
	}

	_, err := d.reconciler.UpdateByStripeID(ctx, sub.ID, sub.toPatch())
	return err
}

// handleSubscriptionDeleted marks the local record canceled.
func (d *Dispatcher) handleSubscriptionDeleted(ctx context.Context, event *providerEvent) error {
	var sub subscriptionPayload
	if err := event.decodeObject(&sub); err != nil {
		return err
	}
	if sub.ID == "" {
		return types.NewAppError(
			types.ErrCodeValidationMissingField,
			"subscription event carries no subscription id",
			nil,
		)
	}

	_, err := d.reconciler.Cancel(ctx, sub.ID)
	return err
}

// handleRefundUpdated forwards the provider-reported status. The refund
// service swallows unknown refund ids as a tolerable race.
func (d *Dispatcher) handleRefundUpdated(ctx context.Context, event *providerEvent) error {
	var refund refundPayload
	if err := event.decodeObject(&refund); err != nil {
		return err
	}
	if refund.ID == "" {
		return types.NewAppError(
			types.ErrCodeValidationMissingField,
			"refund event carries no refund id",
			nil,
		)
	}

	return d.refunds.UpdateStatus(ctx, refund.ID, refund.Status)
}

// ---------------------------------------------------------------------------
// Event Payload Shapes
// ---------------------------------------------------------------------------

// providerEvent is a minimal representation of a provider webhook event,
// tailored to routing. The full stripe.Event type is deliberately not used so
// the dispatcher stays decoupled from the SDK's object model.
type providerEvent struct {
	ID      string           `json:"id"`
	Type    string           `json:"type"`
	Created int64            `json:"created"`
	Data    providerEventRaw `json:"data"`
}

type providerEventRaw struct {
	Object json.RawMessage `json:"object"`
}

// decodeObject unmarshals the event's data object into the per-type payload
// shape.
func (e *providerEvent) decodeObject(v any) error {
	if err := json.Unmarshal(e.Data.Object, v); err != nil {
		return types.NewAppError(
			types.ErrCodeValidationInvalidPayload,
			"malformed event data object",
			err,
		)
	}
	return nil
}

// checkoutSessionPayload carries the fields read from a
// checkout.session.completed event.
type checkoutSessionPayload struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

// subscriptionPayload carries the fields read from subscription lifecycle
// events. Timestamps are pointers so that absent fields can be told apart
// from present ones when building the partial update.
type subscriptionPayload struct {
	ID                 string                   `json:"id"`
	Status             string                   `json:"status"`
	CancelAtPeriodEnd  *bool                    `json:"cancel_at_period_end"`
	CurrentPeriodStart *int64                   `json:"current_period_start"`
	CurrentPeriodEnd   *int64                   `json:"current_period_end"`
	CancelAt           *int64                   `json:"cancel_at"`
	CanceledAt         *int64                   `json:"canceled_at"`
	Items              subscriptionItemsPayload `json:"items"`
}

type subscriptionItemsPayload struct {
	Data []subscriptionItemPayload `json:"data"`
}

type subscriptionItemPayload struct {
	Price priceRefPayload `json:"price"`
}

type priceRefPayload struct {
	ID string `json:"id"`
}

// toPatch converts the event payload into a partial update. Absent fields,
// and timestamps the provider reports as zero, leave the stored value
// untouched.
func (p *subscriptionPayload) toPatch() types.SubscriptionPatch {
	patch := types.SubscriptionPatch{
		CurrentPeriodStart: optionalUnix(p.CurrentPeriodStart),
		CurrentPeriodEnd:   optionalUnix(p.CurrentPeriodEnd),
		CancelAt:           optionalUnix(p.CancelAt),
		CanceledAt:         optionalUnix(p.CanceledAt),
		CancelAtPeriodEnd:  p.CancelAtPeriodEnd,
	}
	if p.Status != "" {
		status := types.SubscriptionStatus(p.Status)
		patch.Status = &status
	}
	if len(p.Items.Data) > 0 && p.Items.Data[0].Price.ID != "" {
		priceID := p.Items.Data[0].Price.ID
		patch.PriceID = &priceID
	}
	return patch
}

// refundPayload carries the fields read from refund.updated events.
type refundPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// optionalUnix converts a provider unix timestamp to *time.Time; absent or
// zero means unset.
func optionalUnix(ts *int64) *time.Time {
	if ts == nil || *ts == 0 {
		return nil
	}
	t := time.Unix(*ts, 0).UTC()
	return &t
}
