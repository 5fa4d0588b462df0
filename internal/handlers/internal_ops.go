package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verdantfield/api/internal/platform/httpx"
	"github.com/verdantfield/api/internal/services"
)

const maxInternalRequestBody = 8 * 1024

// InternalOpsHandlers exposes operational endpoints for scheduled jobs. The
// router applies the OIDC middleware for this group, so handlers here assume
// an already authenticated scheduler caller.
type InternalOpsHandlers struct {
	orders services.OrderService
}

// NewInternalOpsHandlers constructs the internal operations handlers.
func NewInternalOpsHandlers(orders services.OrderService) *InternalOpsHandlers {
	return &InternalOpsHandlers{orders: orders}
}

// Routes wires the internal endpoints onto the provided router.
func (h *InternalOpsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/pending-orders:sweep", h.sweepPendingOrders)
}

type sweepRequest struct {
	OlderThanHours int `json:"olderThanHours"`
	Limit          int `json:"limit"`
}

type sweepResponse struct {
	Scanned      int `json:"scanned"`
	Materialized int `json:"materialized"`
	Deleted      int `json:"deleted"`
	Skipped      int `json:"skipped"`
}

func (h *InternalOpsHandlers) sweepPendingOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req sweepRequest
	body, err := readLimitedBody(r, maxInternalRequestBody)
	switch err {
	case nil:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	case errEmptyBody:
		// An empty body runs the sweep with service defaults.
	default:
		writeBodyError(ctx, w, err)
		return
	}

	if req.OlderThanHours < 0 || req.Limit < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "olderThanHours and limit must not be negative", http.StatusBadRequest))
		return
	}

	result, err := h.orders.SweepPendingOrders(ctx, services.SweepCommand{
		OlderThan: time.Duration(req.OlderThanHours) * time.Hour,
		Limit:     req.Limit,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, sweepResponse{
		Scanned:      result.Scanned,
		Materialized: result.Materialized,
		Deleted:      result.Deleted,
		Skipped:      result.Skipped,
	})
}
