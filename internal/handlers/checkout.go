package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verdantfield/api/internal/platform/auth"
	"github.com/verdantfield/api/internal/platform/httpx"
	"github.com/verdantfield/api/internal/services"
)

const maxCheckoutRequestBody = 32 * 1024

// CheckoutHandlers exposes the payment-intent endpoint for authenticated users.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	limiter  rateLimiter
}

// CheckoutHandlerOption customises checkout handler construction.
type CheckoutHandlerOption func(*CheckoutHandlers)

// WithCheckoutRateLimit bounds how often a single user can open payment
// intents.
func WithCheckoutRateLimit(limit int, window time.Duration) CheckoutHandlerOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutHandlerOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/payment-intent", h.createPaymentIntent)
}

type checkoutAddressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	PostalCode string  `json:"postalCode"`
	Country    string  `json:"country,omitempty"`
}

type paymentIntentRequest struct {
	Lines           []cartLinePayload      `json:"lines"`
	ShippingAddress checkoutAddressPayload `json:"shippingAddress"`
	DeliveryDate    *time.Time             `json:"deliveryDate,omitempty"`
}

type paymentIntentResponse struct {
	PaymentIntentID string `json:"paymentIntentId"`
	PaymentToken    string `json:"paymentToken"`
	Amount          int64  `json:"amount"`
	Subtotal        int64  `json:"subtotal"`
	Tax             int64  `json:"tax"`
	DeliveryFee     int64  `json:"deliveryFee"`
}

func (h *CheckoutHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req paymentIntentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if len(req.Lines) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one line is required", http.StatusBadRequest))
		return
	}

	lines := make([]services.CartLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.CartLine{
			ProductID: line.ProductID,
			SizeID:    line.SizeID,
			Quantity:  line.Quantity,
		})
	}

	cmd := services.CreatePaymentIntentCommand{
		UserID: identity.UID,
		Lines:  lines,
		ShippingAddress: services.Address{
			Recipient:  req.ShippingAddress.Recipient,
			Line1:      req.ShippingAddress.Line1,
			Line2:      req.ShippingAddress.Line2,
			City:       req.ShippingAddress.City,
			State:      req.ShippingAddress.State,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
		},
		DeliveryDate:   req.DeliveryDate,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}

	result, err := h.checkout.CreatePaymentIntent(ctx, cmd)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, paymentIntentResponse{
		PaymentIntentID: result.IntentID,
		PaymentToken:    result.PaymentToken,
		Amount:          result.Total,
		Subtotal:        result.Subtotal,
		Tax:             result.Tax,
		DeliveryFee:     result.DeliveryFee,
	})
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var pricingErr *services.PricingError
	if errors.As(err, &pricingErr) {
		httpx.WriteError(ctx, w, pricingErrorToHTTP(pricingErr))
		return
	}

	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput), errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "no profile exists for this account", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment intent could not be created", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is temporarily unavailable", http.StatusServiceUnavailable))
	}
}

// pricingErrorToHTTP maps per-line validation failures onto the checkout
// error contract: a stable code plus enough detail for the client to point
// at the offending line.
func pricingErrorToHTTP(err *services.PricingError) httpx.Error {
	details := map[string]any{
		"productId": err.ProductID,
	}
	if err.SizeID != "" {
		details["sizeId"] = err.SizeID
	}
	if err.ProductName != "" {
		details["productName"] = err.ProductName
	}

	switch err.Code {
	case services.PricingErrorProductNotFound:
		return httpx.NewError("product_not_found", "product does not exist", http.StatusNotFound).WithDetails(details)
	case services.PricingErrorProductInactive:
		return httpx.NewError("product_inactive", "product is not available for purchase", http.StatusConflict).WithDetails(details)
	case services.PricingErrorSizeNotFound:
		return httpx.NewError("size_not_found", "size does not exist for this product", http.StatusNotFound).WithDetails(details)
	case services.PricingErrorInsufficientStock:
		details["sizeLabel"] = err.SizeLabel
		details["available"] = err.Available
		return httpx.NewError("insufficient_stock", "not enough stock for the requested quantity", http.StatusConflict).WithDetails(details)
	default:
		return httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest).WithDetails(details)
	}
}
