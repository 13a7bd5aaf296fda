package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/peakhost/api/internal/platform/auth"
	"github.com/peakhost/api/internal/platform/httpx"
	"github.com/peakhost/api/internal/services"
)

const maxPaymentRequestBody = 4 * 1024

type createIntentRequest struct {
	OrderID string `json:"order_id"`
}

type createIntentResponse struct {
	OrderID      string `json:"order_id"`
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type confirmPaymentRequest struct {
	OrderID  string `json:"order_id"`
	IntentID string `json:"intent_id"`
}

// PaymentHandlers exposes the gateway payment path. Guests hold no bearer
// token, so the endpoints run under optional auth; when an identity is
// present the payment service enforces order ownership against it.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{
		authn:    authn,
		payments: payments,
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Post("/intent", h.createIntent)
	r.Post("/confirm", h.confirmPayment)
}

func (h *PaymentHandlers) createIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createIntentRequest
	if !decodePaymentBody(ctx, w, r, &req) {
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}

	intent, err := h.payments.CreateIntent(ctx, services.CreateIntentCommand{
		OrderID: strings.TrimSpace(req.OrderID),
		ActorID: actorFromContext(ctx),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, createIntentResponse{
		OrderID:      intent.OrderID,
		IntentID:     intent.IntentID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
	})
}

func (h *PaymentHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req confirmPaymentRequest
	if !decodePaymentBody(ctx, w, r, &req) {
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id is required", http.StatusBadRequest))
		return
	}

	order, err := h.payments.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderID:  strings.TrimSpace(req.OrderID),
		IntentID: strings.TrimSpace(req.IntentID),
		ActorID:  actorFromContext(ctx),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func decodePaymentBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxPaymentRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", status))
		return false
	}
	if len(body) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func actorFromContext(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		return strings.TrimSpace(identity.UID)
	}
	return ""
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentMethodMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_mismatch", "order does not settle through a payment gateway", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentNotSettled):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_settled", "payment has not been captured by the gateway", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("payment_amount_mismatch", "captured amount does not match the order", http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrStaleOrderState):
		httpx.WriteError(ctx, w, httpx.NewError("order_state_changed", "order changed since it was read", http.StatusConflict))
	case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrOrderTerminal):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", "order cannot move to the requested state", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentUnavailable), errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
