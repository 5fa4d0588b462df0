package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// Webhook event types the pipeline acts on. Anything else is acknowledged
// without side effects.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// ErrInvalidSignature is returned when the webhook payload fails signature
// verification. Handlers must reject these before touching any state.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// WebhookEvent is the verified, decoded gateway notification.
type WebhookEvent struct {
	ID       string
	Type     string
	IntentID string
	Amount   int64
	Currency string
}

// WebhookVerifier authenticates and decodes gateway webhook payloads.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier constructs a verifier for the given signing secret.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("payments: webhook signing secret is required")
	}
	return &WebhookVerifier{secret: trimmed}, nil
}

// Verify checks the Stripe-Signature header against the payload and decodes
// the event. Payment intent fields are populated for payment_intent.* events.
func (v *WebhookVerifier) Verify(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if v == nil {
		return WebhookEvent{}, errors.New("payments: webhook verifier is nil")
	}

	event, err := webhook.ConstructEvent(payload, signatureHeader, v.secret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	decoded := WebhookEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}

	if strings.HasPrefix(decoded.Type, "payment_intent.") {
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("payments: decode webhook intent: %w", err)
		}
		decoded.IntentID = intent.ID
		decoded.Amount = intent.Amount
		decoded.Currency = strings.ToLower(string(intent.Currency))
	}

	return decoded, nil
}
