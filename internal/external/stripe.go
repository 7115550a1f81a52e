package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"billingsync/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements ProviderGateway by making direct HTTP calls to the
// Stripe REST API through BaseClient. This routes all requests through the
// service's resilience infrastructure (circuit breaker, transport retries,
// error mapping) and makes testing with httptest straightforward.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient with a default BaseClient.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		DefaultRetryPolicy(),
		"billingsync/1.0",
	)
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. Useful in tests to control retry and breaker behavior.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// ProviderGateway Implementation
// ---------------------------------------------------------------------------

// FindOrCreateCustomer looks the customer up by email (list-first to prevent
// duplicates) and creates one when no match exists.
func (s *StripeClient) FindOrCreateCustomer(ctx context.Context, email string) (string, error) {
	listParams := url.Values{}
	listParams.Set("email", email)
	listParams.Set("limit", "1")

	listResp, err := s.doGet(ctx, "/v1/customers", listParams)
	if err != nil {
		return "", s.wrapStripeError("FindOrCreateCustomer.list", err)
	}
	defer listResp.Body.Close()

	if listResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(listResp, "FindOrCreateCustomer.list")
	}

	var list stripeCustomerList
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer list response",
			err,
		)
	}

	if len(list.Data) > 0 {
		s.logger.InfoContext(ctx, "existing stripe customer found",
			"customer_id", list.Data[0].ID,
		)
		return list.Data[0].ID, nil
	}

	createParams := url.Values{}
	createParams.Set("email", email)

	createResp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", s.wrapStripeError("FindOrCreateCustomer.create", err)
	}
	defer createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(createResp, "FindOrCreateCustomer.create")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(createResp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer creation response",
			err,
		)
	}

	return customer.ID, nil
}

// CreateCheckoutSession generates a Stripe Checkout Session in subscription
// mode. The user id is set as client_reference_id so checkout completion
// webhooks can be correlated back to the owning user.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*types.CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer", params.CustomerID)
	form.Set("client_reference_id", params.UserID)
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("line_items[0][price]", params.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("subscription_data[metadata][user_id]", params.UserID)

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", form)
	if err != nil {
		return nil, s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return &types.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// RetrieveSubscription fetches the authoritative subscription state.
func (s *StripeClient) RetrieveSubscription(ctx context.Context, subscriptionID string) (*types.SubscriptionSnapshot, error) {
	resp, err := s.doGet(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil)
	if err != nil {
		return nil, s.wrapStripeError("RetrieveSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "RetrieveSubscription")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe subscription response",
			err,
		)
	}

	return mapStripeSubscription(&sub), nil
}

// CancelSubscription cancels the subscription immediately at the provider.
func (s *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) (*types.SubscriptionSnapshot, error) {
	reqURL := s.baseURL + "/v1/subscriptions/" + url.PathEscape(subscriptionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	resp, err := s.base.Do(req)
	if err != nil {
		return nil, s.wrapStripeError("CancelSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CancelSubscription")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe subscription response",
			err,
		)
	}

	return mapStripeSubscription(&sub), nil
}

// ListActiveRecurringPrices fetches one page of active prices with expanded
// product data. Pagination is not continued past the first page.
func (s *StripeClient) ListActiveRecurringPrices(ctx context.Context, pageSize int) ([]types.PriceWithProduct, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("limit", strconv.Itoa(pageSize))
	params.Set("expand[]", "data.product")

	resp, err := s.doGet(ctx, "/v1/prices", params)
	if err != nil {
		return nil, s.wrapStripeError("ListActiveRecurringPrices", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "ListActiveRecurringPrices")
	}

	var list stripePriceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe price list response",
			err,
		)
	}

	prices := make([]types.PriceWithProduct, 0, len(list.Data))
	for i := range list.Data {
		prices = append(prices, mapStripePrice(&list.Data[i]))
	}
	return prices, nil
}

// CreateRefund performs the mutating refund call. The returned snapshot
// carries the provider-confirmed id, amount, and status.
func (s *StripeClient) CreateRefund(ctx context.Context, paymentIntentID string, reason *string, amount *int64) (*types.RefundSnapshot, error) {
	form := url.Values{}
	form.Set("payment_intent", paymentIntentID)
	if reason != nil {
		form.Set("reason", *reason)
	}
	if amount != nil {
		form.Set("amount", strconv.FormatInt(*amount, 10))
	}

	resp, err := s.doPost(ctx, "/v1/refunds", form)
	if err != nil {
		return nil, s.wrapStripeError("CreateRefund", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreateRefund")
	}

	var refund stripeRefund
	if err := json.NewDecoder(resp.Body).Decode(&refund); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe refund response",
			err,
		)
	}

	return &types.RefundSnapshot{
		ID:              refund.ID,
		PaymentIntentID: refund.PaymentIntent,
		Amount:          refund.Amount,
		Status:          refund.Status,
	}, nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// doPost performs an authenticated POST request with a form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// setAuthHeaders sets the Stripe API authentication and version headers.
func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

// handleErrorResponse reads a Stripe error response and maps it to a
// types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return s.mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

// mapStripeError translates a Stripe error into a types.AppError.
func (s *StripeClient) mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	if stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", operation, stripeErr.Message),
			nil,
			map[string]any{
				"decline_code": stripeErr.DeclineCode,
				"stripe_code":  stripeErr.Code,
			},
		)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case statusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
		)
	}
}

// wrapStripeError wraps a BaseClient transport error with operation context.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	// AppErrors from BaseClient (circuit breaker, retries exhausted) already
	// carry the right error code.
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types (for JSON deserialization)
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type stripeCustomerList struct {
	Data []stripeCustomer `json:"data"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeSubscription struct {
	ID                 string                  `json:"id"`
	Customer           string                  `json:"customer"`
	Status             string                  `json:"status"`
	CancelAtPeriodEnd  bool                    `json:"cancel_at_period_end"`
	CurrentPeriodStart int64                   `json:"current_period_start"`
	CurrentPeriodEnd   int64                   `json:"current_period_end"`
	CancelAt           int64                   `json:"cancel_at"`
	CanceledAt         int64                   `json:"canceled_at"`
	Items              stripeSubscriptionItems `json:"items"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeSubscriptionItem struct {
	Price stripePriceRef `json:"price"`
}

type stripePriceRef struct {
	ID string `json:"id"`
}

type stripePrice struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	UnitAmount int64            `json:"unit_amount"`
	Currency   string           `json:"currency"`
	Recurring  *stripeRecurring `json:"recurring"`
	Product    json.RawMessage  `json:"product"`
}

type stripeRecurring struct {
	Interval string `json:"interval"`
}

type stripePriceList struct {
	Data []stripePrice `json:"data"`
}

type stripeProduct struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Deleted     bool   `json:"deleted"`
}

type stripeRefund struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status"`
}

// ---------------------------------------------------------------------------
// Mapping Functions
// ---------------------------------------------------------------------------

// mapStripeSubscription converts a Stripe subscription to a domain snapshot.
func mapStripeSubscription(sub *stripeSubscription) *types.SubscriptionSnapshot {
	snap := &types.SubscriptionSnapshot{
		ID:                 sub.ID,
		CustomerID:         sub.Customer,
		Status:             types.SubscriptionStatus(sub.Status),
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		CancelAt:           unixTime(sub.CancelAt),
		CanceledAt:         unixTime(sub.CanceledAt),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if len(sub.Items.Data) > 0 {
		snap.PriceID = sub.Items.Data[0].Price.ID
	}
	return snap
}

// mapStripePrice converts a Stripe price with its (possibly unexpanded)
// product into the domain catalog item.
func mapStripePrice(price *stripePrice) types.PriceWithProduct {
	item := types.PriceWithProduct{
		PriceID:    price.ID,
		Type:       price.Type,
		UnitAmount: price.UnitAmount,
		Currency:   price.Currency,
	}
	if price.Recurring != nil {
		item.Interval = types.BillingInterval(price.Recurring.Interval)
	}

	if len(price.Product) > 0 {
		// The product field is either an expanded object or a bare id string.
		var product stripeProduct
		if err := json.Unmarshal(price.Product, &product); err == nil {
			item.ProductID = product.ID
			item.ProductName = product.Name
			item.ProductDescription = product.Description
			item.ProductDeleted = product.Deleted
			item.ProductExpanded = true
		} else {
			var productID string
			if err := json.Unmarshal(price.Product, &productID); err == nil {
				item.ProductID = productID
			}
		}
	}

	return item
}

// unixTime converts a Stripe unix timestamp to *time.Time; zero means unset.
func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
