package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/verdantfield/api/internal/domain"
	"github.com/verdantfield/api/internal/platform/auth"
	"github.com/verdantfield/api/internal/platform/httpx"
	"github.com/verdantfield/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes order reads scoped to the authenticated customer.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs customer-facing order read handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	filter, httpErr := parseOrderListQuery(r)
	if httpErr != nil {
		httpx.WriteError(ctx, w, *httpErr)
		return
	}
	filter.UserID = strings.TrimSpace(identity.UID)

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID: orderID,
		UserID:  identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

// parseOrderListQuery extracts the shared list parameters used by both the
// customer and admin list endpoints. The caller decides the UserID scope.
func parseOrderListQuery(r *http.Request) (services.OrderListFilter, *httpx.Error) {
	query := r.URL.Query()

	var statuses []domain.OrderStatus
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			value := domain.OrderStatus(strings.ToLower(strings.TrimSpace(part)))
			if value == "" {
				continue
			}
			if !domain.IsKnownOrderStatus(value) {
				err := httpx.NewError("invalid_request", "unknown status filter "+string(value), http.StatusBadRequest)
				return services.OrderListFilter{}, &err
			}
			statuses = append(statuses, value)
		}
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpErr := httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest)
			return services.OrderListFilter{}, &httpErr
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpErr := httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest)
			return services.OrderListFilter{}, &httpErr
		}
		dateRange.To = &ts
	}

	pageSize := defaultOrderPageSize
	if sizeRaw := strings.TrimSpace(query.Get("page_size")); sizeRaw != "" {
		size, err := strconv.Atoi(sizeRaw)
		if err != nil {
			httpErr := httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest)
			return services.OrderListFilter{}, &httpErr
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	return services.OrderListFilter{
		Status:    statuses,
		DateRange: dateRange,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}, nil
}

type orderLineItemPayload struct {
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName"`
	ProductImage string `json:"productImage,omitempty"`
	SizeID       string `json:"sizeId"`
	SizeLabel    string `json:"sizeLabel"`
	UnitPrice    int64  `json:"unitPrice"`
	Quantity     int    `json:"quantity"`
}

type orderAddressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	PostalCode string  `json:"postalCode"`
	Country    string  `json:"country"`
}

type orderStatusEntryPayload struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Note      string `json:"note,omitempty"`
}

type orderOversoldPayload struct {
	ProductID string `json:"productId"`
	SizeID    string `json:"sizeId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type orderPayload struct {
	ID              string                    `json:"id"`
	OrderNumber     string                    `json:"orderNumber"`
	UserID          string                    `json:"userId"`
	Items           []orderLineItemPayload    `json:"items"`
	Subtotal        int64                     `json:"subtotal"`
	Tax             int64                     `json:"tax"`
	DeliveryFee     int64                     `json:"deliveryFee"`
	Total           int64                     `json:"total"`
	ShippingAddress orderAddressPayload       `json:"shippingAddress"`
	DeliveryDate    string                    `json:"deliveryDate,omitempty"`
	Status          string                    `json:"status"`
	StatusHistory   []orderStatusEntryPayload `json:"statusHistory"`
	PaymentIntentID string                    `json:"paymentIntentId"`
	RefundID        *string                   `json:"refundId,omitempty"`
	RefundAmount    *int64                    `json:"refundAmount,omitempty"`
	Oversold        []orderOversoldPayload    `json:"oversold,omitempty"`
	CreatedAt       string                    `json:"createdAt"`
	UpdatedAt       string                    `json:"updatedAt"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
	Total       int64  `json:"total"`
	ItemCount   int    `json:"itemCount"`
	CreatedAt   string `json:"createdAt"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

func buildOrderListResponse(page domain.CursorPage[services.Order]) orderListResponse {
	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	return orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	count := 0
	for _, item := range order.Items {
		count += item.Quantity
	}
	return orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Total:       order.Total,
		ItemCount:   count,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderLineItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderLineItemPayload{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductImage: item.ProductImage,
			SizeID:       item.SizeID,
			SizeLabel:    item.SizeLabel,
			UnitPrice:    item.UnitPrice,
			Quantity:     item.Quantity,
		})
	}

	history := make([]orderStatusEntryPayload, 0, len(order.StatusHistory))
	for _, entry := range order.StatusHistory {
		history = append(history, orderStatusEntryPayload{
			Status:    string(entry.Status),
			Timestamp: formatTime(entry.Timestamp),
			Note:      entry.Note,
		})
	}

	var oversold []orderOversoldPayload
	for _, line := range order.Oversold {
		oversold = append(oversold, orderOversoldPayload{
			ProductID: line.ProductID,
			SizeID:    line.SizeID,
			Requested: line.Requested,
			Available: line.Available,
		})
	}

	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Items:       items,
		Subtotal:    order.Subtotal,
		Tax:         order.Tax,
		DeliveryFee: order.DeliveryFee,
		Total:       order.Total,
		ShippingAddress: orderAddressPayload{
			Recipient:  order.ShippingAddress.Recipient,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		Status:          string(order.Status),
		StatusHistory:   history,
		PaymentIntentID: order.PaymentIntentID,
		RefundID:        order.RefundID,
		RefundAmount:    order.RefundAmount,
		Oversold:        oversold,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	if order.DeliveryDate != nil {
		payload.DeliveryDate = formatTime(*order.DeliveryDate)
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrOrderUnknownStatus):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidRefundAmount):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_refund_amount", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order storage is unavailable", http.StatusServiceUnavailable))
	}
}
