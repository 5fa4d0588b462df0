package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/verdantfield/api/internal/payments"
	"github.com/verdantfield/api/internal/platform/httpx"
	"github.com/verdantfield/api/internal/services"
)

const maxWebhookPayload = 64 * 1024

// webhookVerifier authenticates raw webhook payloads against their signature
// header before any event is acted on.
type webhookVerifier interface {
	Verify(payload []byte, signatureHeader string) (payments.WebhookEvent, error)
}

// WebhookHandlers receives payment gateway notifications. Signature
// verification happens before the pending-order ledger is touched; duplicate
// deliveries are resolved by the order service and acknowledged with the
// existing order.
type WebhookHandlers struct {
	verifier webhookVerifier
	orders   services.OrderService
}

// NewWebhookHandlers constructs the gateway webhook handlers.
func NewWebhookHandlers(verifier webhookVerifier, orders services.OrderService) *WebhookHandlers {
	return &WebhookHandlers{
		verifier: verifier,
		orders:   orders,
	}
}

// Routes wires the webhook endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookPayload+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body could not be read", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookPayload {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload exceeds the allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload could not be decoded", http.StatusBadRequest))
		return
	}

	switch event.Type {
	case payments.EventPaymentSucceeded:
		outcome, err := h.orders.HandlePaymentSucceeded(ctx, event.IntentID)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("webhook_processing_failed", "payment confirmation could not be processed", http.StatusInternalServerError))
			return
		}
		writeJSONResponse(w, http.StatusOK, stripeWebhookResponse{
			Received: true,
			OrderID:  outcome.Order.ID,
			Created:  outcome.Created,
		})
	case payments.EventPaymentFailed:
		if err := h.orders.HandlePaymentFailed(ctx, event.IntentID); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("webhook_processing_failed", "payment failure could not be processed", http.StatusInternalServerError))
			return
		}
		writeJSONResponse(w, http.StatusOK, stripeWebhookResponse{Received: true})
	default:
		// Events outside the pipeline's interest are acknowledged so the
		// gateway stops redelivering them.
		writeJSONResponse(w, http.StatusOK, stripeWebhookResponse{Received: true})
	}
}

type stripeWebhookResponse struct {
	Received bool   `json:"received"`
	OrderID  string `json:"orderId,omitempty"`
	Created  bool   `json:"created,omitempty"`
}
