package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/peakhost/api/internal/domain"
	"github.com/peakhost/api/internal/repositories"
)

var (
	// ErrReconciliationInvalidInput indicates the admin command was malformed.
	ErrReconciliationInvalidInput = errors.New("reconciliation: invalid input")
	// ErrRejectReasonRequired indicates a rejection arrived without a reason.
	ErrRejectReasonRequired = errors.New("reconciliation: rejection reason is required")
	// ErrReconciliationUnavailable indicates reconciliation dependencies are unavailable.
	ErrReconciliationUnavailable = errors.New("reconciliation: unavailable")
)

// ReconciliationServiceDeps wires the dependencies required by the admin
// reconciliation service.
type ReconciliationServiceDeps struct {
	Orders       repositories.OrderRepository
	Coupons      repositories.CouponRepository
	Invoices     repositories.InvoiceRepository
	Orchestrator OrderService
	Fulfillment  FulfillmentService
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationService struct {
	orders       repositories.OrderRepository
	coupons      repositories.CouponRepository
	invoices     repositories.InvoiceRepository
	orchestrator OrderService
	fulfillment  FulfillmentService
	now          func() time.Time
	logger       func(context.Context, string, map[string]any)
}

// NewReconciliationService constructs a ReconciliationService validating required dependencies.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconciliation service: order repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("reconciliation service: coupon repository is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("reconciliation service: invoice repository is required")
	}
	if deps.Orchestrator == nil {
		return nil, errors.New("reconciliation service: order service is required")
	}
	if deps.Fulfillment == nil {
		return nil, errors.New("reconciliation service: fulfillment service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reconciliationService{
		orders:       deps.Orders,
		coupons:      deps.Coupons,
		invoices:     deps.Invoices,
		orchestrator: deps.Orchestrator,
		fulfillment:  deps.Fulfillment,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ApproveOrder settles a pending manual order. Two operators approving the
// same order race on the compare-and-swap; the loser observes the settled
// state and reports success without a second side effect.
func (s *reconciliationService) ApproveOrder(ctx context.Context, cmd ApproveOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrReconciliationUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, ErrReconciliationInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateError(err)
	}
	if order.Status == domain.OrderStatusActive && order.PaymentStatus == domain.PaymentStatusPaid {
		return order, nil
	}

	settled, err := s.orchestrator.TransitionStatus(ctx, TransitionCommand{
		OrderID: orderID,
		From:    domain.StatusPair{Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusUnpaid},
		To:      domain.StatusPair{Status: domain.OrderStatusActive, PaymentStatus: domain.PaymentStatusPaid},
		Actor:   cmd.Actor,
	})
	if err != nil {
		if errors.Is(err, ErrStaleOrderState) {
			latest, readErr := s.orders.FindByID(ctx, orderID)
			if readErr == nil && latest.Status == domain.OrderStatusActive && latest.PaymentStatus == domain.PaymentStatusPaid {
				return latest, nil
			}
		}
		return Order{}, err
	}

	s.logger(ctx, "reconciliation.approved", map[string]any{
		"orderId": settled.ID,
		"actor":   cmd.Actor,
	})

	if _, err := s.fulfillment.Fulfill(ctx, FulfillCommand{OrderID: settled.ID}); err != nil {
		s.logger(ctx, "reconciliation.fulfillment_failed", map[string]any{
			"orderId": settled.ID,
			"error":   err.Error(),
		})
	}
	return settled, nil
}

// RejectOrder cancels a pending manual order, voids its invoice, and restores
// the coupon usage. Rejecting an order another operator already approved
// fails with the stale-state error so the decision conflict surfaces.
func (s *reconciliationService) RejectOrder(ctx context.Context, cmd RejectOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrReconciliationUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, ErrReconciliationInvalidInput
	}
	if strings.TrimSpace(cmd.Reason) == "" {
		return Order{}, ErrRejectReasonRequired
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateError(err)
	}
	// Rejecting twice is retry-safe.
	if order.Status == domain.OrderStatusCancelled {
		return order, nil
	}

	rejected, err := s.orchestrator.TransitionStatus(ctx, TransitionCommand{
		OrderID: orderID,
		From:    domain.StatusPair{Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusUnpaid},
		To:      domain.StatusPair{Status: domain.OrderStatusCancelled, PaymentStatus: domain.PaymentStatusUnpaid},
		Reason:  cmd.Reason,
		Actor:   cmd.Actor,
	})
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	if invoice, invErr := s.invoices.FindByOrder(ctx, orderID); invErr == nil {
		if invoice.Status == domain.InvoiceStatusUnpaid || invoice.Status == domain.InvoiceStatusDraft {
			if _, err := s.invoices.UpdateStatus(ctx, invoice.ID, domain.InvoiceStatusCancelled, nil, now); err != nil {
				s.logger(ctx, "reconciliation.invoice_cancel_failed", map[string]any{"orderId": orderID, "error": err.Error()})
			}
		}
	}
	if rejected.CouponCode != nil {
		if err := s.coupons.Restore(ctx, *rejected.CouponCode, now); err != nil {
			s.logger(ctx, "reconciliation.coupon_restore_failed", map[string]any{
				"orderId": orderID,
				"coupon":  *rejected.CouponCode,
				"error":   err.Error(),
			})
		}
	}

	s.logger(ctx, "reconciliation.rejected", map[string]any{
		"orderId": orderID,
		"actor":   cmd.Actor,
	})
	return rejected, nil
}

func (s *reconciliationService) translateError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsUnavailable():
			return ErrReconciliationUnavailable
		}
	}
	return err
}
