package external

import (
	"github.com/stripe/stripe-go/v82/webhook"

	"billingsync/internal/types"
)

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature verification. This provides HMAC-SHA256 signature checking with
// timestamp tolerance (default 5 minutes), constant-time comparison included.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header and
// signing secret. The raw, unmodified request body must be passed; any
// re-serialization breaks the signature.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	if header == "" {
		return types.NewAppError(
			types.ErrCodeAuthSignatureMissing,
			"missing webhook signature header",
			nil,
		)
	}
	if err := webhook.ValidatePayload(payload, header, secret); err != nil {
		return types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"webhook signature verification failed",
			err,
		)
	}
	return nil
}
