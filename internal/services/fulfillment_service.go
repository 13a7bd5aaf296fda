package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/peakhost/api/internal/domain"
	"github.com/peakhost/api/internal/repositories"
)

const orderEventFulfilled = "order.fulfilled"

var (
	// ErrFulfillmentInvalidInput indicates the fulfillment command was malformed.
	ErrFulfillmentInvalidInput = errors.New("fulfillment: invalid input")
	// ErrFulfillmentNotSettled indicates the order has not settled yet.
	ErrFulfillmentNotSettled = errors.New("fulfillment: order not settled")
	// ErrFulfillmentUnavailable indicates fulfillment dependencies are unavailable.
	ErrFulfillmentUnavailable = errors.New("fulfillment: unavailable")
)

// FulfillmentServiceDeps wires the dependencies required by the fulfillment trigger.
type FulfillmentServiceDeps struct {
	Orders       repositories.OrderRepository
	Invoices     repositories.InvoiceRepository
	Services     repositories.ServiceRepository
	Transactions repositories.TransactionRepository
	Events       OrderEventPublisher
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	orders       repositories.OrderRepository
	invoices     repositories.InvoiceRepository
	services     repositories.ServiceRepository
	transactions repositories.TransactionRepository
	events       OrderEventPublisher
	now          func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

// NewFulfillmentService constructs a FulfillmentService validating required dependencies.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("fulfillment service: invoice repository is required")
	}
	if deps.Services == nil {
		return nil, errors.New("fulfillment service: service repository is required")
	}
	if deps.Transactions == nil {
		return nil, errors.New("fulfillment service: transaction repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &fulfillmentService{
		orders:       deps.Orders,
		invoices:     deps.Invoices,
		services:     deps.Services,
		transactions: deps.Transactions,
		events:       deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Fulfill provisions one service per order item, marks the invoice paid, and
// backfills the payment record. Every step checks for existing state first,
// so delivery is at-least-once safe: a crashed run resumes where it stopped.
func (s *fulfillmentService) Fulfill(ctx context.Context, cmd FulfillCommand) (FulfillmentResult, error) {
	if s == nil || s.orders == nil {
		return FulfillmentResult{}, ErrFulfillmentUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return FulfillmentResult{}, ErrFulfillmentInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return FulfillmentResult{}, s.translateError(err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		return FulfillmentResult{}, ErrFulfillmentNotSettled
	}

	now := s.now()
	result := FulfillmentResult{Order: order}
	items := make([]domain.OrderItem, len(order.Items))
	copy(items, order.Items)
	itemsChanged := false

	for i := range items {
		item := &items[i]
		itemRef := orderItemRef(order.ID, i, *item)

		svc, err := s.resolveService(ctx, order, *item, itemRef)
		if err != nil {
			return result, err
		}
		if svc == nil {
			created, err := s.provisionService(ctx, order, *item, itemRef, now)
			if err != nil {
				return result, err
			}
			svc = &created
			result.Provisioned++
		}

		if svc.Status == domain.ServiceStatusPending {
			activatedAt := now
			updated, err := s.services.UpdateStatus(ctx, svc.ID, domain.ServiceStatusActive, &activatedAt, now)
			if err != nil {
				return result, s.translateError(err)
			}
			svc = &updated
		}

		if item.ServiceRef == nil || *item.ServiceRef != svc.ID {
			ref := svc.ID
			item.ServiceRef = &ref
			item.Status = domain.OrderStatusActive
			itemsChanged = true
		}
		result.Services = append(result.Services, *svc)
	}

	if itemsChanged {
		updated, err := s.orders.UpdateItems(ctx, order.ID, items, now)
		if err != nil {
			return result, s.translateError(err)
		}
		result.Order = updated
	}

	if err := s.settleInvoice(ctx, order, now); err != nil {
		return result, err
	}
	s.backfillPayment(ctx, order, cmd.GatewayRef, now)

	s.logger(ctx, "fulfillment.completed", map[string]any{
		"orderId":     order.ID,
		"provisioned": result.Provisioned,
		"services":    len(result.Services),
	})
	s.publishEvent(ctx, result.Order)
	return result, nil
}

// resolveService returns the existing service for the item, following the
// item's ServiceRef first and falling back to the order-item lookup.
func (s *fulfillmentService) resolveService(ctx context.Context, order Order, item OrderItem, itemRef string) (*Service, error) {
	if item.ServiceRef != nil && *item.ServiceRef != "" {
		svc, err := s.services.FindByID(ctx, *item.ServiceRef)
		if err == nil {
			return &svc, nil
		}
		if !isNotFound(err) {
			return nil, s.translateError(err)
		}
	}
	svc, err := s.services.FindByOrderItem(ctx, order.ID, itemRef)
	if err == nil {
		return &svc, nil
	}
	if isNotFound(err) {
		return nil, nil
	}
	return nil, s.translateError(err)
}

func (s *fulfillmentService) provisionService(ctx context.Context, order Order, item OrderItem, itemRef string, now time.Time) (Service, error) {
	svc := domain.Service{
		ID:          "svc_" + s.newID(),
		OrderID:     order.ID,
		UserID:      order.UserID,
		ItemRef:     itemRef,
		ProductRef:  item.ProductRef,
		ProductType: item.ProductType,
		DomainName:  item.DomainName,
		Status:      domain.ServiceStatusPending,
		NextDueAt:   nextDueDate(item.BillingCycle, now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := s.services.Insert(ctx, svc)
	if err != nil {
		// A concurrent run inserted the same item's service first.
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			if existing, lookupErr := s.services.FindByOrderItem(ctx, order.ID, itemRef); lookupErr == nil {
				return existing, nil
			}
		}
		return Service{}, s.translateError(err)
	}
	return created, nil
}

func (s *fulfillmentService) settleInvoice(ctx context.Context, order Order, now time.Time) error {
	invoice, err := s.invoices.FindByOrder(ctx, order.ID)
	if err != nil {
		if isNotFound(err) {
			s.logger(ctx, "fulfillment.invoice_missing", map[string]any{"orderId": order.ID})
			return nil
		}
		return s.translateError(err)
	}
	if invoice.Status == domain.InvoiceStatusPaid {
		return nil
	}
	paidAt := now
	if order.PaidAt != nil {
		paidAt = order.PaidAt.UTC()
	}
	if _, err := s.invoices.UpdateStatus(ctx, invoice.ID, domain.InvoiceStatusPaid, &paidAt, now); err != nil {
		return s.translateError(err)
	}
	return nil
}

// backfillPayment appends the payment record when no earlier step recorded
// one, which is the normal path for manually approved orders.
func (s *fulfillmentService) backfillPayment(ctx context.Context, order Order, gatewayRef string, now time.Time) {
	ref := strings.TrimSpace(gatewayRef)
	if ref == "" && order.GatewayRef != nil {
		ref = *order.GatewayRef
	}
	if ref == "" {
		ref = "manual:" + order.ID
	}
	if _, err := s.transactions.FindByGatewayRef(ctx, order.ID, ref); err == nil {
		return
	}
	_, err := s.transactions.Append(ctx, domain.Transaction{
		ID:          "txn_" + s.newID(),
		OrderID:     order.ID,
		Type:        domain.TransactionTypePayment,
		Amount:      order.Totals.Total,
		Currency:    order.Currency,
		GatewayRef:  ref,
		Status:      "completed",
		Description: fmt.Sprintf("Payment for order %s", order.OrderNumber),
		CreatedAt:   now,
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return
		}
		s.logger(ctx, "fulfillment.payment_record_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
	}
}

func (s *fulfillmentService) publishEvent(ctx context.Context, order Order) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
		Event:         orderEventFulfilled,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Amount:        order.Totals.Total,
		Currency:      order.Currency,
		OccurredAt:    s.now(),
	}); err != nil {
		s.logger(ctx, "fulfillment.event.publish_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
	}
}

func (s *fulfillmentService) translateError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsUnavailable():
			return ErrFulfillmentUnavailable
		}
	}
	return err
}

// orderItemRef derives a stable per-item key so retries land on the same
// service document regardless of item ordering changes.
func orderItemRef(orderID string, index int, item OrderItem) string {
	return fmt.Sprintf("%s:%d:%s", orderID, index, item.ProductRef)
}

func nextDueDate(cycle domain.BillingCycle, from time.Time) *time.Time {
	var due time.Time
	switch cycle {
	case domain.BillingCycleMonthly:
		due = from.AddDate(0, 1, 0)
	case domain.BillingCycleAnnually:
		due = from.AddDate(1, 0, 0)
	default:
		return nil
	}
	return &due
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
