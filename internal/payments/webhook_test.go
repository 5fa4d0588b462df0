package payments

import (
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78/webhook"
)

const testSigningSecret = "whsec_test_secret"

func signedHeader(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	now := time.Now()
	signature := webhook.ComputeSignature(now, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(signature))
}

func TestNewWebhookVerifierRequiresSecret(t *testing.T) {
	if _, err := NewWebhookVerifier("  "); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestVerifyDecodesPaymentIntentEvent(t *testing.T) {
	verifier, err := NewWebhookVerifier(testSigningSecret)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	payload := []byte(`{
		"id": "evt_1",
		"api_version": "2024-04-10",
		"type": "payment_intent.succeeded",
		"data": {
			"object": {
				"id": "pi_123",
				"amount": 28078,
				"currency": "usd"
			}
		}
	}`)

	event, err := verifier.Verify(payload, signedHeader(t, payload, testSigningSecret))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.Type != EventPaymentSucceeded {
		t.Fatalf("unexpected type %q", event.Type)
	}
	if event.IntentID != "pi_123" {
		t.Fatalf("unexpected intent id %q", event.IntentID)
	}
	if event.Amount != 28078 || event.Currency != "usd" {
		t.Fatalf("unexpected amount/currency: %d %s", event.Amount, event.Currency)
	}
}

func TestVerifyIgnoresIntentFieldsForOtherEvents(t *testing.T) {
	verifier, err := NewWebhookVerifier(testSigningSecret)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	payload := []byte(`{
		"id": "evt_2",
		"api_version": "2024-04-10",
		"type": "charge.updated",
		"data": {"object": {"id": "ch_1"}}
	}`)

	event, err := verifier.Verify(payload, signedHeader(t, payload, testSigningSecret))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.Type != "charge.updated" {
		t.Fatalf("unexpected type %q", event.Type)
	}
	if event.IntentID != "" {
		t.Fatalf("expected empty intent id, got %q", event.IntentID)
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	verifier, err := NewWebhookVerifier(testSigningSecret)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	payload := []byte(`{"id": "evt_3", "type": "payment_intent.succeeded", "data": {"object": {}}}`)

	_, err = verifier.Verify(payload, signedHeader(t, payload, "whsec_other"))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	_, err = verifier.Verify(payload, "t=0,v1=deadbeef")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for stale header, got %v", err)
	}
}
