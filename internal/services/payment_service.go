package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/peakhost/api/internal/domain"
	"github.com/peakhost/api/internal/payments"
	"github.com/peakhost/api/internal/repositories"
)

var (
	// ErrPaymentInvalidInput indicates the payment command was malformed.
	ErrPaymentInvalidInput = errors.New("payments: invalid input")
	// ErrPaymentMethodMismatch indicates the order does not settle through a gateway.
	ErrPaymentMethodMismatch = errors.New("payments: order does not use a gateway method")
	// ErrPaymentNotSettled indicates the gateway does not report the intent as captured.
	ErrPaymentNotSettled = errors.New("payments: intent not settled")
	// ErrPaymentMismatch indicates the settled intent does not match the order amount.
	ErrPaymentMismatch = errors.New("payments: settled amount does not match order")
	// ErrPaymentUnavailable indicates payment dependencies are unavailable.
	ErrPaymentUnavailable = errors.New("payments: unavailable")
)

// paymentGatewayManager abstracts payments.Manager for easier testing.
type paymentGatewayManager interface {
	CreateIntent(ctx context.Context, route payments.RouteContext, req payments.IntentRequest) (payments.Intent, error)
	LookupIntent(ctx context.Context, route payments.RouteContext, req payments.LookupRequest) (payments.IntentDetails, error)
}

// PaymentServiceDeps wires the dependencies required by the payment coordinator.
type PaymentServiceDeps struct {
	Orders       repositories.OrderRepository
	Transactions repositories.TransactionRepository
	Gateways     paymentGatewayManager
	Orchestrator OrderService
	Fulfillment  FulfillmentService
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders       repositories.OrderRepository
	transactions repositories.TransactionRepository
	gateways     paymentGatewayManager
	orchestrator OrderService
	fulfillment  FulfillmentService
	now          func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

// NewPaymentService constructs a PaymentService validating required dependencies.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Transactions == nil {
		return nil, errors.New("payment service: transaction repository is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("payment service: gateway manager is required")
	}
	if deps.Orchestrator == nil {
		return nil, errors.New("payment service: order service is required")
	}
	if deps.Fulfillment == nil {
		return nil, errors.New("payment service: fulfillment service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return "txn_" + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		orders:       deps.Orders,
		transactions: deps.Transactions,
		gateways:     deps.Gateways,
		orchestrator: deps.Orchestrator,
		fulfillment:  deps.Fulfillment,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateIntent opens a gateway intent for the order. The idempotency key is
// derived from the order ID, so a retried request returns the original intent
// instead of opening a second one.
func (s *paymentService) CreateIntent(ctx context.Context, cmd CreateIntentCommand) (PaymentIntentResult, error) {
	if s == nil || s.orders == nil {
		return PaymentIntentResult{}, ErrPaymentUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentIntentResult{}, ErrPaymentInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentIntentResult{}, s.translateError(err)
	}
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" && order.UserID != actor {
		return PaymentIntentResult{}, ErrOrderForbidden
	}
	if !order.PaymentMethod.IsGateway() {
		return PaymentIntentResult{}, ErrPaymentMethodMismatch
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusUnpaid {
		return PaymentIntentResult{}, ErrStaleOrderState
	}

	intent, err := s.gateways.CreateIntent(ctx,
		payments.RouteContext{Currency: order.Currency},
		payments.IntentRequest{
			Amount:         order.Totals.Total,
			Currency:       order.Currency,
			OrderID:        order.ID,
			IdempotencyKey: "intent-" + order.ID,
			Description:    fmt.Sprintf("PeakHost order %s", order.OrderNumber),
		})
	if err != nil {
		s.logger(ctx, "payments.intent.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return PaymentIntentResult{}, ErrPaymentUnavailable
	}

	if order.GatewayRef == nil || *order.GatewayRef != intent.ID {
		if _, err := s.orders.SetGatewayRef(ctx, order.ID, intent.ID, s.now()); err != nil {
			return PaymentIntentResult{}, s.translateError(err)
		}
	}

	s.logger(ctx, "payments.intent.created", map[string]any{
		"orderId":  order.ID,
		"intentId": intent.ID,
		"amount":   intent.Amount,
	})
	return PaymentIntentResult{
		OrderID:      order.ID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
	}, nil
}

// ConfirmPayment settles the order from the gateway's view of the intent. The
// caller's claim is never trusted; the intent is re-queried and must report a
// captured payment matching the order total.
func (s *paymentService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrPaymentUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, ErrPaymentInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateError(err)
	}
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" && order.UserID != actor {
		return Order{}, ErrOrderForbidden
	}

	// Retry safety: a second confirmation of a settled order succeeds without
	// touching anything.
	if order.Status == domain.OrderStatusActive && order.PaymentStatus == domain.PaymentStatusPaid {
		return order, nil
	}
	if !order.PaymentMethod.IsGateway() {
		return Order{}, ErrPaymentMethodMismatch
	}

	intentID := strings.TrimSpace(cmd.IntentID)
	if order.GatewayRef != nil && *order.GatewayRef != "" {
		if intentID != "" && intentID != *order.GatewayRef {
			return Order{}, ErrPaymentInvalidInput
		}
		intentID = *order.GatewayRef
	}
	if intentID == "" {
		return Order{}, ErrPaymentInvalidInput
	}

	details, err := s.gateways.LookupIntent(ctx,
		payments.RouteContext{Currency: order.Currency},
		payments.LookupRequest{IntentID: intentID})
	if err != nil {
		s.logger(ctx, "payments.confirm.lookup_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return Order{}, ErrPaymentUnavailable
	}
	if details.Status != payments.StatusSucceeded || !details.Captured {
		return Order{}, ErrPaymentNotSettled
	}
	if details.Amount != order.Totals.Total || !strings.EqualFold(details.Currency, order.Currency) {
		s.logger(ctx, "payments.confirm.mismatch", map[string]any{
			"orderId":        order.ID,
			"intentAmount":   details.Amount,
			"orderAmount":    order.Totals.Total,
			"intentCurrency": details.Currency,
		})
		return Order{}, ErrPaymentMismatch
	}

	paidAt := s.now()
	if details.CapturedAt != nil {
		paidAt = details.CapturedAt.UTC()
	}

	settled, err := s.orchestrator.TransitionStatus(ctx, TransitionCommand{
		OrderID: order.ID,
		From:    domain.StatusPair{Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusUnpaid},
		To:      domain.StatusPair{Status: domain.OrderStatusActive, PaymentStatus: domain.PaymentStatusPaid},
		PaidAt:  &paidAt,
		Actor:   cmd.ActorID,
	})
	if err != nil {
		// Another confirmation won the race; treat the settled order as success.
		if errors.Is(err, ErrStaleOrderState) {
			latest, readErr := s.orders.FindByID(ctx, order.ID)
			if readErr == nil && latest.Status == domain.OrderStatusActive && latest.PaymentStatus == domain.PaymentStatusPaid {
				return latest, nil
			}
		}
		return Order{}, err
	}

	s.recordPayment(ctx, settled, intentID)

	if _, err := s.fulfillment.Fulfill(ctx, FulfillCommand{OrderID: settled.ID, GatewayRef: intentID}); err != nil {
		// Fulfillment is idempotent and retried through the internal hook.
		s.logger(ctx, "payments.confirm.fulfillment_failed", map[string]any{
			"orderId": settled.ID,
			"error":   err.Error(),
		})
	}
	return settled, nil
}

// recordPayment appends the payment record unless one already exists for the
// gateway reference.
func (s *paymentService) recordPayment(ctx context.Context, order Order, gatewayRef string) {
	if _, err := s.transactions.FindByGatewayRef(ctx, order.ID, gatewayRef); err == nil {
		return
	}
	_, err := s.transactions.Append(ctx, domain.Transaction{
		ID:          s.newID(),
		OrderID:     order.ID,
		Type:        domain.TransactionTypePayment,
		Amount:      order.Totals.Total,
		Currency:    order.Currency,
		GatewayRef:  gatewayRef,
		Status:      "completed",
		Description: fmt.Sprintf("Payment for order %s", order.OrderNumber),
		CreatedAt:   s.now(),
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return
		}
		s.logger(ctx, "payments.record.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
	}
}

func (s *paymentService) translateError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsUnavailable():
			return ErrPaymentUnavailable
		}
	}
	return err
}
