package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verdantfield/api/internal/services"
)

type stubCheckoutService struct {
	createFunc func(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error)
}

func (s *stubCheckoutService) CreatePaymentIntent(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error) {
	if s.createFunc == nil {
		return services.PaymentIntentResult{}, nil
	}
	return s.createFunc(ctx, cmd)
}

func newCheckoutTestRouter(service services.CheckoutService, opts ...CheckoutHandlerOption) chi.Router {
	handler := NewCheckoutHandlers(nil, service, opts...)
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)
	return router
}

const checkoutRequestBody = `{
	"lines": [
		{"productId": "plant_monstera", "sizeId": "size_m", "quantity": 3},
		{"productId": "plant_fiddle", "sizeId": "size_s", "quantity": 2}
	],
	"shippingAddress": {
		"recipient": "Fern Whitaker",
		"line1": "88 Orchard St",
		"city": "New York",
		"state": "NY",
		"postalCode": "10002"
	}
}`

func TestCheckoutHandlersCreatePaymentIntent(t *testing.T) {
	var captured services.CreatePaymentIntentCommand
	service := &stubCheckoutService{
		createFunc: func(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error) {
			captured = cmd
			return services.PaymentIntentResult{
				IntentID:     "pi_123",
				PaymentToken: "pi_123_secret",
				Subtotal:     25998,
				Tax:          2080,
				DeliveryFee:  0,
				Total:        28078,
			}, nil
		},
	}

	router := newCheckoutTestRouter(service)
	req := authenticatedRequest(http.MethodPost, "/checkout/payment-intent", checkoutRequestBody, "user_1")
	req.Header.Set("Idempotency-Key", "req_abc123")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	if captured.UserID != "user_1" {
		t.Fatalf("unexpected user id %q", captured.UserID)
	}
	if len(captured.Lines) != 2 || captured.Lines[0].Quantity != 3 {
		t.Fatalf("unexpected lines %+v", captured.Lines)
	}
	if captured.ShippingAddress.State != "NY" || captured.ShippingAddress.Recipient != "Fern Whitaker" {
		t.Fatalf("unexpected address %+v", captured.ShippingAddress)
	}
	if captured.IdempotencyKey != "req_abc123" {
		t.Fatalf("unexpected idempotency key %q", captured.IdempotencyKey)
	}

	var resp paymentIntentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PaymentIntentID != "pi_123" || resp.PaymentToken != "pi_123_secret" {
		t.Fatalf("unexpected intent fields %+v", resp)
	}
	if resp.Amount != 28078 || resp.Subtotal != 25998 || resp.Tax != 2080 {
		t.Fatalf("unexpected amounts %+v", resp)
	}
}

func TestCheckoutHandlersRequiresAuth(t *testing.T) {
	router := newCheckoutTestRouter(&stubCheckoutService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/checkout/payment-intent", checkoutRequestBody, ""))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCheckoutHandlersRejectsEmptyLines(t *testing.T) {
	router := newCheckoutTestRouter(&stubCheckoutService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/checkout/payment-intent", `{"lines":[],"shippingAddress":{}}`, "user_1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckoutHandlersInsufficientStockDetails(t *testing.T) {
	service := &stubCheckoutService{
		createFunc: func(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error) {
			return services.PaymentIntentResult{}, &services.PricingError{
				Code:        services.PricingErrorInsufficientStock,
				ProductID:   "palm-1",
				SizeID:      "md",
				ProductName: "Areca Palm",
				SizeLabel:   "Medium",
				Available:   1,
			}
		},
	}

	router := newCheckoutTestRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/checkout/payment-intent", checkoutRequestBody, "user_1"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["error"] != "insufficient_stock" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
	if body["productName"] != "Areca Palm" || body["available"] != float64(1) {
		t.Fatalf("unexpected details %v", body)
	}
}

func TestCheckoutHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "unknown user", err: services.ErrCheckoutUserNotFound, status: http.StatusNotFound, code: "user_not_found"},
		{name: "gateway failure", err: services.ErrCheckoutPaymentFailed, status: http.StatusBadGateway, code: "payment_failed"},
		{name: "invalid input", err: services.ErrCheckoutInvalidInput, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "storage down", err: services.ErrCheckoutUnavailable, status: http.StatusServiceUnavailable, code: "checkout_unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubCheckoutService{
				createFunc: func(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error) {
					return services.PaymentIntentResult{}, tc.err
				},
			}

			router := newCheckoutTestRouter(service)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/checkout/payment-intent", checkoutRequestBody, "user_1"))

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}

			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected error code %q, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestCheckoutHandlersRateLimit(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	service := &stubCheckoutService{
		createFunc: func(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error) {
			return services.PaymentIntentResult{IntentID: "pi_1"}, nil
		},
	}

	handler := NewCheckoutHandlers(nil, service)
	handler.limiter = newSimpleRateLimiter(2, time.Minute, func() time.Time { return now })
	router := chi.NewRouter()
	router.Route("/checkout", handler.Routes)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/checkout/payment-intent", checkoutRequestBody, "user_1"))
		if rr.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/checkout/payment-intent", checkoutRequestBody, "user_1"))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, authenticatedRequest(http.MethodPost, "/checkout/payment-intent", checkoutRequestBody, "user_2"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected other users to be unaffected, got %d", rr.Code)
	}
}
