package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"billingsync/internal/types"
)

// signPayload computes a Stripe-format signature header for the given payload
// and secret: "t=<unix>,v1=<hex hmac-sha256 of '<unix>.<payload>'>".
func signPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeVerifier_ValidSignature(t *testing.T) {
	verifier := &StripeVerifier{}
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_test","type":"checkout.session.completed"}`)

	header := signPayload(payload, secret, time.Now())
	if err := verifier.Verify(payload, header, secret); err != nil {
		t.Errorf("expected valid signature, got error: %v", err)
	}
}

func TestStripeVerifier_TamperedPayload(t *testing.T) {
	verifier := &StripeVerifier{}
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_test","type":"checkout.session.completed"}`)

	header := signPayload(payload, secret, time.Now())

	// Flip one byte after signing.
	tampered := append([]byte(nil), payload...)
	tampered[10] ^= 0x01

	err := verifier.Verify(tampered, header, secret)
	if err == nil {
		t.Fatal("expected error for tampered payload, got nil")
	}
	if !types.IsCode(err, types.ErrCodeAuthSignatureInvalid) {
		t.Errorf("expected error code %s, got %v", types.ErrCodeAuthSignatureInvalid, err)
	}
}

func TestStripeVerifier_WrongSecret(t *testing.T) {
	verifier := &StripeVerifier{}
	payload := []byte(`{"id":"evt_test"}`)

	header := signPayload(payload, "whsec_other_secret", time.Now())
	if err := verifier.Verify(payload, header, "whsec_test_secret"); err == nil {
		t.Error("expected error for signature from a different secret, got nil")
	}
}

func TestStripeVerifier_MissingHeader(t *testing.T) {
	verifier := &StripeVerifier{}
	payload := []byte(`{"id":"evt_test"}`)

	err := verifier.Verify(payload, "", "whsec_test_secret")
	if err == nil {
		t.Fatal("expected error for missing signature header, got nil")
	}
	if !types.IsCode(err, types.ErrCodeAuthSignatureMissing) {
		t.Errorf("expected error code %s, got %v", types.ErrCodeAuthSignatureMissing, err)
	}
}

func TestStripeVerifier_ExpiredTimestamp(t *testing.T) {
	verifier := &StripeVerifier{}
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_test"}`)

	// A signature from well outside the tolerance window must be rejected.
	header := signPayload(payload, secret, time.Now().Add(-10*time.Minute))
	if err := verifier.Verify(payload, header, secret); err == nil {
		t.Error("expected error for expired timestamp, got nil")
	}
}

// Compile-time assertion that StripeVerifier satisfies WebhookVerifier.
var _ WebhookVerifier = (*StripeVerifier)(nil)
