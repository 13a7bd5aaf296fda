package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/peakhost/api/internal/domain"
	"github.com/peakhost/api/internal/platform/auth"
	"github.com/peakhost/api/internal/services"
)

func newPaymentRouter(h *PaymentHandlers) chi.Router {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func TestCreateIntentReturnsClientSecret(t *testing.T) {
	var capturedCmd services.CreateIntentCommand
	paymentService := &stubPaymentService{
		intentFn: func(_ context.Context, cmd services.CreateIntentCommand) (services.PaymentIntentResult, error) {
			capturedCmd = cmd
			return services.PaymentIntentResult{
				OrderID:      "ord_1",
				IntentID:     "pi_123",
				ClientSecret: "pi_123_secret",
				Amount:       10000,
				Currency:     "USD",
			}, nil
		},
	}
	router := newPaymentRouter(NewPaymentHandlers(nil, paymentService))

	req := httptest.NewRequest(http.MethodPost, "/intent", strings.NewReader(`{"order_id": "ord_1"}`))
	req = withTestIdentity(req, &auth.Identity{UID: "usr_1", Roles: []string{auth.RoleCustomer}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if capturedCmd.OrderID != "ord_1" || capturedCmd.ActorID != "usr_1" {
		t.Fatalf("intent command not built: %+v", capturedCmd)
	}

	var resp createIntentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ClientSecret != "pi_123_secret" || resp.Amount != 10000 {
		t.Fatalf("unexpected intent response: %+v", resp)
	}
}

func TestCreateIntentGuestHasNoActor(t *testing.T) {
	var capturedCmd services.CreateIntentCommand
	paymentService := &stubPaymentService{
		intentFn: func(_ context.Context, cmd services.CreateIntentCommand) (services.PaymentIntentResult, error) {
			capturedCmd = cmd
			return services.PaymentIntentResult{OrderID: "ord_1", IntentID: "pi_123"}, nil
		},
	}
	router := newPaymentRouter(NewPaymentHandlers(nil, paymentService))

	req := httptest.NewRequest(http.MethodPost, "/intent", strings.NewReader(`{"order_id": "ord_1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if capturedCmd.ActorID != "" {
		t.Fatalf("guest intents must not carry an actor, got %q", capturedCmd.ActorID)
	}
}

func TestCreateIntentRequiresOrderID(t *testing.T) {
	router := newPaymentRouter(NewPaymentHandlers(nil, &stubPaymentService{}))

	req := httptest.NewRequest(http.MethodPost, "/intent", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestConfirmPaymentReturnsSettledOrder(t *testing.T) {
	var capturedCmd services.ConfirmPaymentCommand
	paymentService := &stubPaymentService{
		confirmFn: func(_ context.Context, cmd services.ConfirmPaymentCommand) (services.Order, error) {
			capturedCmd = cmd
			settled := sampleOrder()
			settled.Status = domain.OrderStatusActive
			settled.PaymentStatus = domain.PaymentStatusPaid
			return settled, nil
		},
	}
	router := newPaymentRouter(NewPaymentHandlers(nil, paymentService))

	req := httptest.NewRequest(http.MethodPost, "/confirm", strings.NewReader(`{"order_id": "ord_1", "intent_id": "pi_123"}`))
	req = withTestIdentity(req, &auth.Identity{UID: "usr_1", Roles: []string{auth.RoleCustomer}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if capturedCmd.OrderID != "ord_1" || capturedCmd.IntentID != "pi_123" || capturedCmd.ActorID != "usr_1" {
		t.Fatalf("confirm command not built: %+v", capturedCmd)
	}

	var resp orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusActive) || resp.Order.PaymentStatus != string(domain.PaymentStatusPaid) {
		t.Fatalf("unexpected order state: %+v", resp.Order)
	}
}

func TestConfirmPaymentMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "not settled", err: services.ErrPaymentNotSettled, wantStatus: http.StatusConflict, wantCode: "payment_not_settled"},
		{name: "amount mismatch", err: services.ErrPaymentMismatch, wantStatus: http.StatusConflict, wantCode: "payment_amount_mismatch"},
		{name: "method mismatch", err: services.ErrPaymentMethodMismatch, wantStatus: http.StatusConflict, wantCode: "payment_method_mismatch"},
		{name: "not found", err: services.ErrOrderNotFound, wantStatus: http.StatusNotFound, wantCode: "order_not_found"},
		{name: "foreign order", err: services.ErrOrderForbidden, wantStatus: http.StatusNotFound, wantCode: "order_not_found"},
		{name: "unavailable", err: services.ErrPaymentUnavailable, wantStatus: http.StatusServiceUnavailable, wantCode: "payment_service_unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			paymentService := &stubPaymentService{
				confirmFn: func(context.Context, services.ConfirmPaymentCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			router := newPaymentRouter(NewPaymentHandlers(nil, paymentService))

			req := httptest.NewRequest(http.MethodPost, "/confirm", strings.NewReader(`{"order_id": "ord_1"}`))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			var envelope map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
				t.Fatalf("unmarshal error envelope: %v", err)
			}
			if envelope["error"] != tc.wantCode {
				t.Fatalf("expected code %q, got %v", tc.wantCode, envelope["error"])
			}
		})
	}
}
