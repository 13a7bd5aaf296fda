package payments

import (
	"context"
	"errors"
	"testing"
)

type stubGateway struct {
	name          string
	createCalls   int
	lookupCalls   int
	lastIntentReq IntentRequest
	lookupDetails IntentDetails
	createErr     error
}

func (s *stubGateway) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	s.createCalls++
	s.lastIntentReq = req
	if s.createErr != nil {
		return Intent{}, s.createErr
	}
	return Intent{ID: "pi_" + s.name, ClientSecret: "cs_" + s.name, Status: StatusPending, Amount: req.Amount, Currency: req.Currency}, nil
}

func (s *stubGateway) LookupIntent(context.Context, LookupRequest) (IntentDetails, error) {
	s.lookupCalls++
	return s.lookupDetails, nil
}

func (s *stubGateway) Refund(context.Context, RefundRequest) (IntentDetails, error) {
	return s.lookupDetails, nil
}

func TestNewManagerRequiresGateways(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatal("expected error for empty gateway map")
	}
	if _, err := NewManager(map[string]Gateway{" ": &stubGateway{}}); err == nil {
		t.Fatal("expected error for blank gateway key")
	}
	if _, err := NewManager(map[string]Gateway{"stripe": nil}); err == nil {
		t.Fatal("expected error for nil gateway")
	}
}

func TestManagerDefaultsToStripe(t *testing.T) {
	stripeStub := &stubGateway{name: "stripe"}
	other := &stubGateway{name: "other"}
	manager, err := NewManager(map[string]Gateway{"stripe": stripeStub, "other": other})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	intent, err := manager.CreateIntent(context.Background(), RouteContext{}, IntentRequest{Amount: 1500, Currency: "USD", OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("CreateIntent returned error: %v", err)
	}
	if intent.Gateway != "stripe" {
		t.Fatalf("expected stripe gateway, got %s", intent.Gateway)
	}
	if stripeStub.createCalls != 1 || other.createCalls != 0 {
		t.Fatalf("expected stripe stub to receive the call, got stripe=%d other=%d", stripeStub.createCalls, other.createCalls)
	}
	if stripeStub.lastIntentReq.OrderID != "ord_1" {
		t.Fatalf("unexpected order id %s", stripeStub.lastIntentReq.OrderID)
	}
}

func TestManagerPrefersExplicitGateway(t *testing.T) {
	stripeStub := &stubGateway{name: "stripe"}
	other := &stubGateway{name: "other"}
	manager, err := NewManager(map[string]Gateway{"stripe": stripeStub, "other": other})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	intent, err := manager.CreateIntent(context.Background(), RouteContext{PreferredGateway: "Other"}, IntentRequest{Amount: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("CreateIntent returned error: %v", err)
	}
	if intent.Gateway != "other" {
		t.Fatalf("expected other gateway, got %s", intent.Gateway)
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	stripeStub := &stubGateway{name: "stripe"}
	eu := &stubGateway{name: "eu"}
	manager, err := NewManager(
		map[string]Gateway{"stripe": stripeStub, "eu": eu},
		WithCurrencyRoutes(map[string]string{"eur": "eu"}),
	)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	intent, err := manager.CreateIntent(context.Background(), RouteContext{Currency: "EUR"}, IntentRequest{Amount: 100, Currency: "EUR"})
	if err != nil {
		t.Fatalf("CreateIntent returned error: %v", err)
	}
	if intent.Gateway != "eu" {
		t.Fatalf("expected eu gateway for EUR, got %s", intent.Gateway)
	}
}

func TestManagerUnknownGateway(t *testing.T) {
	only := &stubGateway{name: "only"}
	manager, err := NewManager(map[string]Gateway{"only": only}, WithDefaultGateway("missing"))
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	// Single registered gateway acts as the fallback.
	intent, err := manager.CreateIntent(context.Background(), RouteContext{}, IntentRequest{Amount: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("CreateIntent returned error: %v", err)
	}
	if intent.Gateway != "only" {
		t.Fatalf("expected only gateway, got %s", intent.Gateway)
	}
}

func TestManagerPropagatesGatewayErrors(t *testing.T) {
	boom := errors.New("gateway down")
	stripeStub := &stubGateway{name: "stripe", createErr: boom}
	manager, err := NewManager(map[string]Gateway{"stripe": stripeStub})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	if _, err := manager.CreateIntent(context.Background(), RouteContext{}, IntentRequest{Amount: 100, Currency: "USD"}); !errors.Is(err, boom) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestManagerLookupIntent(t *testing.T) {
	stripeStub := &stubGateway{name: "stripe", lookupDetails: IntentDetails{IntentID: "pi_1", Status: StatusSucceeded}}
	manager, err := NewManager(map[string]Gateway{"stripe": stripeStub})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	details, err := manager.LookupIntent(context.Background(), RouteContext{}, LookupRequest{IntentID: "pi_1"})
	if err != nil {
		t.Fatalf("LookupIntent returned error: %v", err)
	}
	if details.Status != StatusSucceeded {
		t.Fatalf("expected succeeded status, got %s", details.Status)
	}
	if stripeStub.lookupCalls != 1 {
		t.Fatalf("expected one lookup call, got %d", stripeStub.lookupCalls)
	}
}
