package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised intent states shared across gateways.
type Status string

const (
	// StatusPending indicates the intent is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a terminal failure.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been fully refunded.
	StatusRefunded Status = "refunded"
)

// ErrUnsupportedGateway is returned when the manager cannot locate a gateway.
var ErrUnsupportedGateway = errors.New("payments: unsupported gateway")

// IntentRequest captures the payload required to open a payment intent.
type IntentRequest struct {
	Amount   int64
	Currency string
	OrderID  string
	Customer string
	// IdempotencyKey makes retried creations return the original intent.
	// Callers derive it from the order so one order maps to one intent.
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

// Intent represents the gateway intent returned to the client.
type Intent struct {
	ID           string
	Gateway      string
	ClientSecret string
	Status       Status
	Amount       int64
	Currency     string
	CreatedAt    time.Time
}

// RefundRequest defines a gateway refund attempt.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// LookupRequest identifies the intent to re-query for reconciliation.
type LookupRequest struct {
	IntentID string
}

// IntentDetails normalises gateway specific fields for settlement decisions.
type IntentDetails struct {
	Gateway    string
	IntentID   string
	Status     Status
	Amount     int64
	Currency   string
	Captured   bool
	CapturedAt *time.Time
	RefundedAt *time.Time
	Raw        map[string]any
}

// Gateway defines the contract card processors implement.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	LookupIntent(ctx context.Context, req LookupRequest) (IntentDetails, error)
	Refund(ctx context.Context, req RefundRequest) (IntentDetails, error)
}

// Manager coordinates gateway selection and exposes the aggregated interface.
type Manager struct {
	gateways       map[string]Gateway
	defaultGateway string
	currencyRoutes map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultGateway overrides the default gateway for currencies without explicit routing.
func WithDefaultGateway(name string) ManagerOption {
	return func(m *Manager) {
		m.defaultGateway = name
	}
}

// WithCurrencyRoutes configures static currency to gateway mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied gateways.
func NewManager(gateways map[string]Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	copyMap := make(map[string]Gateway, len(gateways))
	for k, v := range gateways {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid gateway registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{gateways: copyMap}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultGateway = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RouteContext defines the hints available when selecting a gateway.
type RouteContext struct {
	PreferredGateway string
	Currency         string
}

func (m *Manager) resolveGateway(route RouteContext) (string, Gateway, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.gateways) == 0 {
		return "", nil, errors.New("payments: no gateways registered")
	}
	if name := strings.TrimSpace(strings.ToLower(route.PreferredGateway)); name != "" {
		if g, ok := m.gateways[name]; ok {
			return name, g, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(route.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if name, ok := m.currencyRoutes[currency]; ok {
			name = strings.TrimSpace(strings.ToLower(name))
			if g, ok := m.gateways[name]; ok {
				return name, g, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultGateway)); def != "" {
		if g, ok := m.gateways[def]; ok {
			return def, g, nil
		}
	}
	if len(m.gateways) == 1 {
		for key, g := range m.gateways {
			return key, g, nil
		}
	}
	return "", nil, ErrUnsupportedGateway
}

// CreateIntent delegates to the resolved gateway.
func (m *Manager) CreateIntent(ctx context.Context, route RouteContext, req IntentRequest) (Intent, error) {
	key, gateway, err := m.resolveGateway(route)
	if err != nil {
		return Intent{}, err
	}
	intent, err := gateway.CreateIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Gateway = key
	return intent, nil
}

// LookupIntent delegates to the resolved gateway.
func (m *Manager) LookupIntent(ctx context.Context, route RouteContext, req LookupRequest) (IntentDetails, error) {
	_, gateway, err := m.resolveGateway(route)
	if err != nil {
		return IntentDetails{}, err
	}
	return gateway.LookupIntent(ctx, req)
}

// Refund delegates to the resolved gateway.
func (m *Manager) Refund(ctx context.Context, route RouteContext, req RefundRequest) (IntentDetails, error) {
	_, gateway, err := m.resolveGateway(route)
	if err != nil {
		return IntentDetails{}, err
	}
	return gateway.Refund(ctx, req)
}
