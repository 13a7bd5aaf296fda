package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/peakhost/api/internal/platform/httpx"
	"github.com/peakhost/api/internal/services"
)

const maxInternalBodySize = 8 * 1024

type fulfillOrderRequest struct {
	GatewayRef string `json:"gateway_ref,omitempty"`
}

type servicePayload struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	ItemRef    string `json:"item_ref"`
	ProductRef string `json:"product_ref"`
	Status     string `json:"status"`
	NextDueAt  string `json:"next_due_at,omitempty"`
}

type fulfillOrderResponse struct {
	Order       orderPayload     `json:"order"`
	Services    []servicePayload `json:"services"`
	Provisioned int              `json:"provisioned"`
}

// InternalOrderHandlers exposes the fulfillment retry hook for task queues.
// OIDC verification happens in the internal group middleware.
type InternalOrderHandlers struct {
	fulfillment services.FulfillmentService
}

// NewInternalOrderHandlers constructs a new InternalOrderHandlers instance.
func NewInternalOrderHandlers(fulfillment services.FulfillmentService) *InternalOrderHandlers {
	return &InternalOrderHandlers{fulfillment: fulfillment}
}

// Routes registers the /internal endpoints.
func (h *InternalOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}/fulfill", h.fulfillOrder)
}

func (h *InternalOrderHandlers) fulfillOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxInternalBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", status))
		return
	}

	var req fulfillOrderRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	result, err := h.fulfillment.Fulfill(ctx, services.FulfillCommand{
		OrderID:    orderID,
		GatewayRef: strings.TrimSpace(req.GatewayRef),
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}

	response := fulfillOrderResponse{
		Order:       buildOrderPayload(result.Order),
		Services:    make([]servicePayload, 0, len(result.Services)),
		Provisioned: result.Provisioned,
	}
	for _, svc := range result.Services {
		payload := servicePayload{
			ID:         svc.ID,
			OrderID:    svc.OrderID,
			ItemRef:    svc.ItemRef,
			ProductRef: svc.ProductRef,
			Status:     string(svc.Status),
		}
		if svc.NextDueAt != nil {
			payload.NextDueAt = formatTime(*svc.NextDueAt)
		}
		response.Services = append(response.Services, payload)
	}

	writeJSONResponse(w, http.StatusOK, response)
}

func writeFulfillmentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrFulfillmentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "fulfillment request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrFulfillmentNotSettled):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_settled", "order has not settled", http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrFulfillmentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
