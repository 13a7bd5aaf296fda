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

const maxWebhookBodySize = 64 * 1024

// Gateway event types the webhook acts on. Everything else is acknowledged
// and dropped so the gateway stops redelivering.
const (
	webhookEventPaymentSucceeded = "payment_intent.succeeded"
	webhookEventChargeSucceeded  = "charge.succeeded"
)

type paymentWebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		OrderID  string `json:"order_id"`
		IntentID string `json:"intent_id"`
	} `json:"data"`
}

type webhookAck struct {
	Status string `json:"status"`
}

// WebhookHandlers receives gateway callbacks. Signature verification happens
// in the webhook group middleware before these handlers run.
type WebhookHandlers struct {
	payments services.PaymentService
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(payments services.PaymentService, logger func(ctx context.Context, event string, fields map[string]any)) *WebhookHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &WebhookHandlers{
		payments: payments,
		logger:   logger,
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.handlePaymentEvent)
}

func (h *WebhookHandlers) handlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read webhook body", status))
		return
	}

	var event paymentWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook body must be valid JSON", http.StatusBadRequest))
		return
	}

	eventType := strings.TrimSpace(event.Type)
	if eventType != webhookEventPaymentSucceeded && eventType != webhookEventChargeSucceeded {
		h.logger(ctx, "webhooks.payments.ignored", map[string]any{"type": eventType})
		writeJSONResponse(w, http.StatusOK, webhookAck{Status: "ignored"})
		return
	}

	orderID := strings.TrimSpace(event.Data.OrderID)
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "event is missing order_id", http.StatusBadRequest))
		return
	}

	_, err = h.payments.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderID:  orderID,
		IntentID: strings.TrimSpace(event.Data.IntentID),
	})
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, webhookAck{Status: "processed"})
	case errors.Is(err, services.ErrPaymentNotSettled),
		errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrPaymentMethodMismatch),
		errors.Is(err, services.ErrPaymentMismatch):
		// Permanent conditions: acknowledge so the gateway stops retrying, and
		// leave the order for manual follow-up.
		h.logger(ctx, "webhooks.payments.dropped", map[string]any{
			"orderId": orderID,
			"reason":  err.Error(),
		})
		writeJSONResponse(w, http.StatusOK, webhookAck{Status: "dropped"})
	default:
		// Transient failure: a non-2xx response makes the gateway redeliver.
		h.logger(ctx, "webhooks.payments.retry", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
		httpx.WriteError(ctx, w, httpx.NewError("webhook_retry", "event could not be processed", http.StatusServiceUnavailable))
	}
}
