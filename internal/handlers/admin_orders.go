package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/verdantfield/api/internal/domain"
	"github.com/verdantfield/api/internal/platform/auth"
	"github.com/verdantfield/api/internal/platform/httpx"
	"github.com/verdantfield/api/internal/services"
)

const maxAdminOrderRequestBody = 32 * 1024

// AdminOrderHandlers exposes the operator surface for the order ledger:
// cross-user listing, status transitions, and refund recording.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs the admin order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes wires the /admin/orders endpoints onto the provided router.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth("admin"))
	}
	r.Get("/", h.listOrders)
	r.Post("/status", h.bulkSetStatus)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/status", h.setStatus)
	r.Post("/{orderID}/refund", h.refund)
}

func (h *AdminOrderHandlers) requireService(w http.ResponseWriter, r *http.Request) bool {
	if h.orders == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireService(w, r) {
		return
	}

	filter, httpErr := parseOrderListQuery(r)
	if httpErr != nil {
		httpx.WriteError(ctx, w, *httpErr)
		return
	}
	filter.UserID = strings.TrimSpace(r.URL.Query().Get("user_id"))

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireService(w, r) {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type setStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *AdminOrderHandlers) setStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireService(w, r) {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminOrderRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req setStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.SetStatus(ctx, services.SetStatusCommand{
		OrderID: orderID,
		Status:  domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Note:    req.Note,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type bulkSetStatusRequest struct {
	OrderIDs []string `json:"orderIds"`
	Status   string   `json:"status"`
	Note     string   `json:"note"`
}

type bulkSetStatusResponse struct {
	UpdatedCount int      `json:"updatedCount"`
	FailedIDs    []string `json:"failedIds,omitempty"`
}

func (h *AdminOrderHandlers) bulkSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireService(w, r) {
		return
	}

	body, err := readLimitedBody(r, maxAdminOrderRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req bulkSetStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	result, err := h.orders.BulkSetStatus(ctx, services.BulkSetStatusCommand{
		OrderIDs: req.OrderIDs,
		Status:   domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Note:     req.Note,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bulkSetStatusResponse{
		UpdatedCount: result.UpdatedCount,
		FailedIDs:    result.FailedIDs,
	})
}

type refundRequest struct {
	Amount   int64  `json:"amount"`
	RefundID string `json:"refundId"`
	Note     string `json:"note"`
}

func (h *AdminOrderHandlers) refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireService(w, r) {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminOrderRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req refundRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Refund(ctx, services.RefundCommand{
		OrderID:  orderID,
		Amount:   req.Amount,
		RefundID: req.RefundID,
		Note:     req.Note,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}
