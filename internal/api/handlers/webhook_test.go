package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"billingsync/internal/billing"
	"billingsync/internal/external"
	"billingsync/internal/types"
)

// ---------------------------------------------------------------------------
// Mock Implementations
// ---------------------------------------------------------------------------

// mockWebhookVerifier implements external.WebhookVerifier for testing.
type mockWebhookVerifier struct {
	shouldFail bool
}

func (m *mockWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	if m.shouldFail {
		return types.NewAppError(types.ErrCodeAuthSignatureInvalid, "signature verification failed", nil)
	}
	return nil
}

// stubSubStore is an in-memory billing.SubscriptionStore.
type stubSubStore struct {
	byStripeID map[string]*types.Subscription
}

func newStubSubStore() *stubSubStore {
	return &stubSubStore{byStripeID: make(map[string]*types.Subscription)}
}

func (s *stubSubStore) GetByStripeID(_ context.Context, id string) (*types.Subscription, error) {
	if sub, ok := s.byStripeID[id]; ok {
		copied := *sub
		return &copied, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
}

func (s *stubSubStore) GetByUserID(_ context.Context, _ string) (*types.Subscription, error) {
	return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
}

func (s *stubSubStore) Insert(_ context.Context, sub *types.Subscription) error {
	copied := *sub
	s.byStripeID[sub.StripeSubscriptionID] = &copied
	return nil
}

func (s *stubSubStore) Update(_ context.Context, sub *types.Subscription) error {
	for key, stored := range s.byStripeID {
		if stored.ID == sub.ID {
			copied := *sub
			s.byStripeID[key] = &copied
			return nil
		}
	}
	return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
}

// stubRefundStore is an empty billing.RefundStore; every lookup misses.
type stubRefundStore struct{}

func (stubRefundStore) GetActiveByPaymentIntent(_ context.Context, _ string) (*types.Refund, error) {
	return nil, types.NewAppError(types.ErrCodeNotFoundRefund, "refund not found", nil)
}
func (stubRefundStore) GetByStripeRefundID(_ context.Context, _ string) (*types.Refund, error) {
	return nil, types.NewAppError(types.ErrCodeNotFoundRefund, "refund not found", nil)
}
func (stubRefundStore) GetByID(_ context.Context, _ string) (*types.Refund, error) {
	return nil, types.NewAppError(types.ErrCodeNotFoundRefund, "refund not found", nil)
}
func (stubRefundStore) Insert(_ context.Context, _ *types.Refund) error          { return nil }
func (stubRefundStore) UpdateStatus(_ context.Context, _ string, _ string) error { return nil }
func (stubRefundStore) List(_ context.Context, _, _ int) ([]*types.Refund, error) {
	return nil, nil
}
func (stubRefundStore) SoftDelete(_ context.Context, _ string) error { return nil }

// stubPlanStore is a no-op billing.PlanStore.
type stubPlanStore struct {
	upserts int
}

func (s *stubPlanStore) Upsert(_ context.Context, _ *types.Plan) error { s.upserts++; return nil }
func (s *stubPlanStore) List(_ context.Context) ([]*types.Plan, error) { return nil, nil }
func (s *stubPlanStore) GetByID(_ context.Context, _ string) (*types.Plan, error) {
	return nil, types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", nil)
}

// stubProviderGateway implements external.ProviderGateway.
type stubProviderGateway struct {
	snapshot *types.SubscriptionSnapshot
}

func (g *stubProviderGateway) FindOrCreateCustomer(_ context.Context, _ string) (string, error) {
	return "cus_1", nil
}
func (g *stubProviderGateway) CreateCheckoutSession(_ context.Context, _ external.CheckoutParams) (*types.CheckoutSession, error) {
	return &types.CheckoutSession{ID: "cs_1", URL: "https://example.com"}, nil
}
func (g *stubProviderGateway) RetrieveSubscription(_ context.Context, _ string) (*types.SubscriptionSnapshot, error) {
	if g.snapshot == nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "provider down", nil)
	}
	return g.snapshot, nil
}
func (g *stubProviderGateway) CancelSubscription(_ context.Context, _ string) (*types.SubscriptionSnapshot, error) {
	return g.snapshot, nil
}
func (g *stubProviderGateway) ListActiveRecurringPrices(_ context.Context, _ int) ([]types.PriceWithProduct, error) {
	return nil, nil
}
func (g *stubProviderGateway) CreateRefund(_ context.Context, _ string, _ *string, _ *int64) (*types.RefundSnapshot, error) {
	return &types.RefundSnapshot{ID: "re_1"}, nil
}

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

type webhookFixture struct {
	handler  *WebhookHandler
	verifier *mockWebhookVerifier
	subs     *stubSubStore
	plans    *stubPlanStore
}

func newWebhookFixture(gw *stubProviderGateway) *webhookFixture {
	verifier := &mockWebhookVerifier{}
	subs := newStubSubStore()
	plans := &stubPlanStore{}

	reconciler := billing.NewReconciler(subs, gw, nil)
	refunds := billing.NewRefundService(stubRefundStore{}, gw, nil,
		billing.WithRefundSleepFunc(func(time.Duration) {}))
	catalog := billing.NewCatalogSync(plans, gw, nil)
	dispatcher := billing.NewDispatcher(verifier, "whsec_test", reconciler, refunds, catalog, nil)

	return &webhookFixture{
		handler:  NewWebhookHandler(dispatcher, nil),
		verifier: verifier,
		subs:     subs,
		plans:    plans,
	}
}

// buildEvent creates a JSON-encoded provider event for testing.
func buildEvent(eventType, eventID string, dataObject any) []byte {
	objBytes, _ := json.Marshal(dataObject)
	event := map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": json.RawMessage(objBytes),
		},
	}
	b, _ := json.Marshal(event)
	return b
}

// doWebhookRequest performs an HTTP request against the webhook handler.
func doWebhookRequest(handler *WebhookHandler, body []byte, sigHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if sigHeader != "" {
		req.Header.Set("Stripe-Signature", sigHeader)
	}
	rr := httptest.NewRecorder()
	handler.Handle(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	code, _ := resp["error"]["code"].(string)
	return code
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestWebhookHandler_InvalidSignature(t *testing.T) {
	f := newWebhookFixture(&stubProviderGateway{})
	f.verifier.shouldFail = true

	body := buildEvent(external.EventCheckoutCompleted, "evt_1", map[string]any{})
	rr := doWebhookRequest(f.handler, body, "t=1,v1=bad")

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
	if code := errorCode(t, rr); code != string(types.ErrCodeAuthSignatureInvalid) {
		t.Errorf("expected error code %q, got %q", types.ErrCodeAuthSignatureInvalid, code)
	}
}

func TestWebhookHandler_UnknownEventTypeAcknowledged(t *testing.T) {
	f := newWebhookFixture(&stubProviderGateway{})

	body := buildEvent("invoice.finalized", "evt_1", map[string]any{"id": "in_1"})
	rr := doWebhookRequest(f.handler, body, "t=1,v1=sig")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp["received"] {
		t.Error("expected received:true acknowledgment")
	}
}

func TestWebhookHandler_CheckoutCompleted(t *testing.T) {
	gw := &stubProviderGateway{
		snapshot: &types.SubscriptionSnapshot{
			ID:         "sub_1",
			CustomerID: "cus_1",
			PriceID:    "price_123",
			Status:     types.SubStatusActive,
		},
	}
	f := newWebhookFixture(gw)

	body := buildEvent(external.EventCheckoutCompleted, "evt_1", map[string]any{
		"id":                  "cs_1",
		"client_reference_id": "user_42",
		"subscription":        "sub_1",
	})
	rr := doWebhookRequest(f.handler, body, "t=1,v1=sig")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if f.subs.byStripeID["sub_1"] == nil {
		t.Fatal("expected subscription record to be created")
	}
	if got := f.subs.byStripeID["sub_1"].UserID; got != "user_42" {
		t.Errorf("expected user_42, got %q", got)
	}
}

func TestWebhookHandler_HandlerFailureReturnsRejectingResponse(t *testing.T) {
	f := newWebhookFixture(&stubProviderGateway{})

	// An update with no prior create must surface not-found so the provider
	// redelivers after the create lands.
	body := buildEvent(external.EventSubscriptionUpdate, "evt_1", map[string]any{
		"id":     "sub_unknown",
		"status": "past_due",
	})
	rr := doWebhookRequest(f.handler, body, "t=1,v1=sig")

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
	if code := errorCode(t, rr); code != string(types.ErrCodeNotFoundSubscription) {
		t.Errorf("expected error code %q, got %q", types.ErrCodeNotFoundSubscription, code)
	}
}

func TestWebhookHandler_MalformedJSON(t *testing.T) {
	f := newWebhookFixture(&stubProviderGateway{})

	rr := doWebhookRequest(f.handler, []byte(`{not json`), "t=1,v1=sig")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != string(types.ErrCodeValidationInvalidPayload) {
		t.Errorf("expected error code %q, got %q", types.ErrCodeValidationInvalidPayload, code)
	}
}

func TestWebhookHandler_OversizedPayloadRejected(t *testing.T) {
	f := newWebhookFixture(&stubProviderGateway{})

	big := bytes.Repeat([]byte("a"), maxWebhookBodySize+1)
	rr := doWebhookRequest(f.handler, big, "t=1,v1=sig")

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != string(types.ErrCodeValidationInvalidPayload) {
		t.Errorf("expected error code %q, got %q", types.ErrCodeValidationInvalidPayload, code)
	}
}

func TestWebhookHandler_ProductEventRunsCatalogSync(t *testing.T) {
	f := newWebhookFixture(&stubProviderGateway{})

	body := buildEvent(external.EventProductUpdated, "evt_1", map[string]any{"id": "prod_1"})
	rr := doWebhookRequest(f.handler, body, "t=1,v1=sig")

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}
