package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"billingsync/internal/types"
)

// newTestStripeClient builds a StripeClient against the given httptest server
// with no transport retries and no real sleeping, so failure tests stay fast
// and deterministic.
func newTestStripeClient(server *httptest.Server) *StripeClient {
	base := NewBaseClient(
		server.Client(),
		"stripe-test",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"billingsync-test",
		WithSleepFunc(func(time.Duration) {}),
	)
	return NewStripeClientWithBase(base, StripeClientConfig{
		SecretKey: "sk_test_123",
		BaseURL:   server.URL,
	})
}

// ---------------------------------------------------------------------------
// FindOrCreateCustomer
// ---------------------------------------------------------------------------

func TestStripeClient_FindOrCreateCustomer_ReturnsExisting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET for customer lookup, got %s", r.Method)
		}
		if got := r.URL.Query().Get("email"); got != "user@example.com" {
			t.Errorf("expected email query param, got %q", got)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk_test_123" {
			t.Errorf("unexpected Authorization header: %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"cus_existing","email":"user@example.com"}]}`))
	}))
	defer server.Close()

	client := newTestStripeClient(server)
	customerID, err := client.FindOrCreateCustomer(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if customerID != "cus_existing" {
		t.Errorf("expected cus_existing, got %q", customerID)
	}
}

func TestStripeClient_FindOrCreateCustomer_CreatesWhenMissing(t *testing.T) {
	var createdEmail string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"data":[]}`))
		case http.MethodPost:
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse form: %v", err)
			}
			createdEmail = r.PostForm.Get("email")
			w.Write([]byte(`{"id":"cus_new","email":"user@example.com"}`))
		}
	}))
	defer server.Close()

	client := newTestStripeClient(server)
	customerID, err := client.FindOrCreateCustomer(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if customerID != "cus_new" {
		t.Errorf("expected cus_new, got %q", customerID)
	}
	if createdEmail != "user@example.com" {
		t.Errorf("expected creation with email, got %q", createdEmail)
	}
}

// ---------------------------------------------------------------------------
// CreateCheckoutSession
// ---------------------------------------------------------------------------

func TestStripeClient_CreateCheckoutSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("mode"); got != "subscription" {
			t.Errorf("expected subscription mode, got %q", got)
		}
		if got := r.PostForm.Get("client_reference_id"); got != "user_42" {
			t.Errorf("expected client_reference_id user_42, got %q", got)
		}
		if got := r.PostForm.Get("line_items[0][price]"); got != "price_123" {
			t.Errorf("expected line item price, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_1","url":"https://checkout.example.com/cs_1"}`))
	}))
	defer server.Close()

	client := newTestStripeClient(server)
	session, err := client.CreateCheckoutSession(context.Background(), CheckoutParams{
		CustomerID: "cus_1",
		PriceID:    "price_123",
		SuccessURL: "https://app.example.com/ok",
		CancelURL:  "https://app.example.com/cancel",
		UserID:     "user_42",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.ID != "cs_1" || session.URL != "https://checkout.example.com/cs_1" {
		t.Errorf("unexpected session: %+v", session)
	}
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

func TestStripeClient_RetrieveSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/subscriptions/sub_1" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "sub_1",
			"customer": "cus_1",
			"status": "active",
			"cancel_at_period_end": true,
			"current_period_start": 1756600000,
			"current_period_end": 1759300000,
			"cancel_at": 0,
			"canceled_at": 0,
			"items": {"data": [{"price": {"id": "price_123"}}]}
		}`))
	}))
	defer server.Close()

	client := newTestStripeClient(server)
	snap, err := client.RetrieveSubscription(context.Background(), "sub_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snap.Status != types.SubStatusActive {
		t.Errorf("expected active status, got %q", snap.Status)
	}
	if snap.PriceID != "price_123" {
		t.Errorf("expected price_123, got %q", snap.PriceID)
	}
	if !snap.CancelAtPeriodEnd {
		t.Error("expected cancel_at_period_end true")
	}
	if snap.CurrentPeriodStart == nil || snap.CurrentPeriodStart.Unix() != 1756600000 {
		t.Errorf("unexpected period start: %v", snap.CurrentPeriodStart)
	}
	if snap.CancelAt != nil {
		t.Error("zero cancel_at must map to nil")
	}
	if snap.CanceledAt != nil {
		t.Error("zero canceled_at must map to nil")
	}
}

func TestStripeClient_CancelSubscription_UsesDelete(t *testing.T) {
	var method string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"sub_1","customer":"cus_1","status":"canceled","canceled_at":1756700000,"items":{"data":[]}}`))
	}))
	defer server.Close()

	client := newTestStripeClient(server)
	snap, err := client.CancelSubscription(context.Background(), "sub_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method != http.MethodDelete {
		t.Errorf("expected DELETE, got %s", method)
	}
	if snap.Status != types.SubStatusCanceled {
		t.Errorf("expected canceled status, got %q", snap.Status)
	}
	if snap.CanceledAt == nil {
		t.Error("expected canceled_at to be set")
	}
}

// ---------------------------------------------------------------------------
// ListActiveRecurringPrices
// ---------------------------------------------------------------------------

func TestStripeClient_ListActiveRecurringPrices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("active") != "true" {
			t.Errorf("expected active=true, got %q", q.Get("active"))
		}
		if q.Get("expand[]") != "data.product" {
			t.Errorf("expected expand[]=data.product, got %q", q.Get("expand[]"))
		}
		if q.Get("limit") != "50" {
			t.Errorf("expected limit=50, got %q", q.Get("limit"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": [
			{
				"id": "price_expanded",
				"type": "recurring",
				"unit_amount": 1500,
				"currency": "usd",
				"recurring": {"interval": "month"},
				"product": {"id": "prod_1", "name": "Pro", "description": "Pro tier", "deleted": false}
			},
			{
				"id": "price_ref_only",
				"type": "recurring",
				"unit_amount": 900,
				"currency": "usd",
				"recurring": {"interval": "year"},
				"product": "prod_2"
			}
		]}`))
	}))
	defer server.Close()

	client := newTestStripeClient(server)
	prices, err := client.ListActiveRecurringPrices(context.Background(), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prices) != 2 {
		t.Fatalf("expected 2 prices, got %d", len(prices))
	}

	expanded := prices[0]
	if !expanded.ProductExpanded {
		t.Error("expected first product to be expanded")
	}
	if expanded.ProductName != "Pro" || expanded.ProductID != "prod_1" {
		t.Errorf("unexpected expanded product: %+v", expanded)
	}
	if expanded.Interval != types.IntervalMonth {
		t.Errorf("expected month interval, got %q", expanded.Interval)
	}

	refOnly := prices[1]
	if refOnly.ProductExpanded {
		t.Error("expected bare product reference to not count as expanded")
	}
	if refOnly.ProductID != "prod_2" {
		t.Errorf("expected product id from string reference, got %q", refOnly.ProductID)
	}
}

// ---------------------------------------------------------------------------
// CreateRefund
// ---------------------------------------------------------------------------

func TestStripeClient_CreateRefund(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("payment_intent"); got != "pi_1" {
			t.Errorf("expected payment_intent pi_1, got %q", got)
		}
		if got := r.PostForm.Get("amount"); got != "2500" {
			t.Errorf("expected amount 2500, got %q", got)
		}
		if got := r.PostForm.Get("reason"); got != "requested_by_customer" {
			t.Errorf("expected reason, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"re_1","payment_intent":"pi_1","amount":2500,"status":"succeeded"}`))
	}))
	defer server.Close()

	client := newTestStripeClient(server)
	reason := "requested_by_customer"
	amount := int64(2500)
	snap, err := client.CreateRefund(context.Background(), "pi_1", &reason, &amount)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.ID != "re_1" || snap.Amount != 2500 || snap.Status != "succeeded" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestStripeClient_CreateRefund_OmitsOptionalFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Has("amount") {
			t.Error("amount must be omitted when nil")
		}
		if r.PostForm.Has("reason") {
			t.Error("reason must be omitted when nil")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"re_1","payment_intent":"pi_1","amount":9900,"status":"pending"}`))
	}))
	defer server.Close()

	client := newTestStripeClient(server)
	snap, err := client.CreateRefund(context.Background(), "pi_1", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Amount != 9900 {
		t.Errorf("expected provider-reported amount 9900, got %d", snap.Amount)
	}
}

// ---------------------------------------------------------------------------
// Error Mapping
// ---------------------------------------------------------------------------

func TestStripeClient_CardDeclinedMapsToPaymentDeclined(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card was declined."}}`))
	}))
	defer server.Close()

	client := newTestStripeClient(server)
	_, err := client.CreateRefund(context.Background(), "pi_1", nil, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !types.IsCode(err, types.ErrCodePaymentDeclined) {
		t.Errorf("expected %s, got %v", types.ErrCodePaymentDeclined, err)
	}
}

func TestStripeClient_ClientErrorMapsToUpstreamStripe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such payment_intent"}}`))
	}))
	defer server.Close()

	client := newTestStripeClient(server)
	_, err := client.CreateRefund(context.Background(), "pi_missing", nil, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !types.IsCode(err, types.ErrCodeUpstreamStripe) {
		t.Errorf("expected %s, got %v", types.ErrCodeUpstreamStripe, err)
	}
}

func TestStripeClient_RateLimitAfterRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"Too many requests"}}`))
	}))
	defer server.Close()

	client := newTestStripeClient(server)
	_, err := client.CreateRefund(context.Background(), "pi_1", nil, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !types.IsCode(err, types.ErrCodeUpstreamRateLimited) {
		t.Errorf("expected %s, got %v", types.ErrCodeUpstreamRateLimited, err)
	}
}

func TestStripeClient_ServerErrorMapsToUpstreamUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestStripeClient(server)
	_, err := client.RetrieveSubscription(context.Background(), "sub_1")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !types.IsCode(err, types.ErrCodeUpstreamUnavailable) {
		t.Errorf("expected %s, got %v", types.ErrCodeUpstreamUnavailable, err)
	}
}

// Compile-time assertion that StripeClient satisfies ProviderGateway.
var _ ProviderGateway = (*StripeClient)(nil)
