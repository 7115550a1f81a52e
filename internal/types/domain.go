// Package types defines the domain model shared across the billingsync
// service: subscriptions, plans, refunds, the snapshots returned by the
// payment provider gateway, and the error taxonomy.
package types

import "time"

// SubscriptionStatus is the fixed enumeration of subscription lifecycle states
// mirrored from the payment provider.
type SubscriptionStatus string

const (
	SubStatusActive            SubscriptionStatus = "active"
	SubStatusIncomplete        SubscriptionStatus = "incomplete"
	SubStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubStatusTrialing          SubscriptionStatus = "trialing"
	SubStatusPastDue           SubscriptionStatus = "past_due"
	SubStatusUnpaid            SubscriptionStatus = "unpaid"
	SubStatusCanceled          SubscriptionStatus = "canceled"
)

// Valid reports whether s is one of the enumerated subscription statuses.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubStatusActive, SubStatusIncomplete, SubStatusIncompleteExpired,
		SubStatusTrialing, SubStatusPastDue, SubStatusUnpaid, SubStatusCanceled:
		return true
	}
	return false
}

// BillingInterval is the recurring billing cadence of a plan.
type BillingInterval string

const (
	IntervalDay   BillingInterval = "day"
	IntervalWeek  BillingInterval = "week"
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Subscription is the local record of a provider subscription. The record is
// keyed locally by ID and reachable for synchronization only through
// StripeSubscriptionID, which is unique.
type Subscription struct {
	ID                   string             `json:"id"`
	UserID               string             `json:"user_id"`
	StripeCustomerID     string             `json:"stripe_customer_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	PriceID              string             `json:"price_id"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodStart   *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end,omitempty"`
	CancelAt             *time.Time         `json:"cancel_at,omitempty"`
	CanceledAt           *time.Time         `json:"canceled_at,omitempty"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// NewSubscription carries the full field set for creating a subscription
// record, either from a direct API call or from checkout confirmation.
type NewSubscription struct {
	UserID               string
	StripeCustomerID     string
	StripeSubscriptionID string
	PriceID              string
	Status               SubscriptionStatus
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	CancelAt             *time.Time
	CanceledAt           *time.Time
	CancelAtPeriodEnd    bool
}

// SubscriptionPatch is a partial update payload. Nil fields are left
// untouched on the stored record; non-nil fields overwrite it.
type SubscriptionPatch struct {
	Status             *SubscriptionStatus
	PriceID            *string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAt           *time.Time
	CanceledAt         *time.Time
	CancelAtPeriodEnd  *bool
}

// Plan is a locally cached provider price/product pair. The
// (StripeProductID, StripePriceID) pair is unique and immutable once set;
// the remaining fields are refreshed on every catalog sync pass.
type Plan struct {
	ID              string          `json:"id"`
	StripeProductID string          `json:"stripe_product_id"`
	StripePriceID   string          `json:"stripe_price_id"`
	Name            string          `json:"name"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	Interval        BillingInterval `json:"interval"`
	Description     *string         `json:"description,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Refund is the local record of a provider refund. At most one non-deleted
// refund may exist per StripePaymentIntentID. Amount and Status are always
// sourced from the provider response, never from the caller.
type Refund struct {
	ID                    string     `json:"id"`
	StripeRefundID        string     `json:"stripe_refund_id"`
	StripePaymentIntentID string     `json:"stripe_payment_intent_id"`
	Reason                *string    `json:"reason,omitempty"`
	Amount                int64      `json:"amount"`
	Status                string     `json:"status"`
	UserID                string     `json:"user_id"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	DeletedAt             *time.Time `json:"deleted_at,omitempty"`
}

// ---------------------------------------------------------------------------
// Provider Gateway snapshots
// ---------------------------------------------------------------------------

// SubscriptionSnapshot is the authoritative subscription state as reported by
// the provider. Timestamps are nil when the provider reports them as unset.
type SubscriptionSnapshot struct {
	ID                 string
	CustomerID         string
	PriceID            string
	Status             SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAt           *time.Time
	CanceledAt         *time.Time
	CancelAtPeriodEnd  bool
}

// RefundSnapshot is the provider-confirmed result of a refund creation call.
type RefundSnapshot struct {
	ID              string
	PaymentIntentID string
	Amount          int64
	Status          string
}

// CheckoutSession is the provider-hosted payment page reference returned to
// API callers.
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// PriceWithProduct is one item of the provider's price catalog with its
// product expanded. ProductExpanded is false when the provider returned only
// a product id reference; such items never pass the catalog sync predicate.
type PriceWithProduct struct {
	PriceID            string
	Type               string // "recurring" or "one_time"
	UnitAmount         int64
	Currency           string
	Interval           BillingInterval // empty when no recurring metadata
	ProductID          string
	ProductName        string
	ProductDescription string
	ProductDeleted     bool
	ProductExpanded    bool
}
