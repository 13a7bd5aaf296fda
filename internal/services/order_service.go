package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/peakhost/api/internal/domain"
	"github.com/peakhost/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	defaultInvoiceDueDays = 7
	maxCancelReasonLength = 500
)

var (
	// ErrOrderInvalidInput indicates the order command was malformed.
	ErrOrderInvalidInput = errors.New("orders: invalid input")
	// ErrOrderNotFound indicates the referenced order does not exist.
	ErrOrderNotFound = errors.New("orders: not found")
	// ErrOrderForbidden indicates the actor does not own the order.
	ErrOrderForbidden = errors.New("orders: forbidden")
	// ErrProofRequired indicates a manual payment method arrived without a proof reference.
	ErrProofRequired = errors.New("orders: payment proof required")
	// ErrInvalidTransition indicates the requested target pair is not reachable.
	ErrInvalidTransition = errors.New("orders: invalid transition")
	// ErrStaleOrderState indicates the stored status pair no longer matches the expectation.
	ErrStaleOrderState = errors.New("orders: stale order state")
	// ErrOrderTerminal indicates the order has reached a terminal status.
	ErrOrderTerminal = errors.New("orders: order is terminal")
	// ErrOrderUnavailable indicates order dependencies are unavailable.
	ErrOrderUnavailable = errors.New("orders: unavailable")
)

// OrderServiceDeps wires the dependencies required by the order ledger.
type OrderServiceDeps struct {
	Orders         repositories.OrderRepository
	Invoices       repositories.InvoiceRepository
	Coupons        repositories.CouponRepository
	Counters       repositories.CounterRepository
	Pricing        PricingService
	Accounts       AccountService
	Events         OrderEventPublisher
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
	InvoiceDueDays int
}

type orderService struct {
	orders         repositories.OrderRepository
	invoices       repositories.InvoiceRepository
	coupons        repositories.CouponRepository
	counters       repositories.CounterRepository
	pricing        PricingService
	accounts       AccountService
	events         OrderEventPublisher
	now            func() time.Time
	newID          func() string
	logger         func(context.Context, string, map[string]any)
	invoiceDueDays int
	sanitizer      *bluemonday.Policy
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Invoices == nil {
		return nil, errors.New("order service: invoice repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("order service: coupon repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing service is required")
	}
	if deps.Accounts == nil {
		return nil, errors.New("order service: account service is required")
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
	dueDays := deps.InvoiceDueDays
	if dueDays <= 0 {
		dueDays = defaultInvoiceDueDays
	}

	return &orderService{
		orders:   deps.Orders,
		invoices: deps.Invoices,
		coupons:  deps.Coupons,
		counters: deps.Counters,
		pricing:  deps.Pricing,
		accounts: deps.Accounts,
		events:   deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:          idGen,
		logger:         logger,
		invoiceDueDays: dueDays,
		sanitizer:      bluemonday.StrictPolicy(),
	}, nil
}

// CreateOrder validates the checkout payload, quotes it, assigns numbers, and
// persists the order together with its invoice in one transaction. Coupon
// redemption happens inside that transaction, so an exhausted coupon aborts
// the whole creation.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderCreation, error) {
	if s == nil || s.orders == nil {
		return OrderCreation{}, ErrOrderUnavailable
	}

	if !domain.ValidPaymentMethod(cmd.PaymentMethod) {
		return OrderCreation{}, ErrOrderInvalidInput
	}
	proofRef := strings.TrimSpace(cmd.ProofRef)
	// Fail before any write: manual methods must carry their proof up front.
	if cmd.PaymentMethod.RequiresProof() && proofRef == "" {
		return OrderCreation{}, ErrProofRequired
	}
	if err := validateBillingAddress(cmd.BillingAddress); err != nil {
		return OrderCreation{}, err
	}

	quote, err := s.pricing.Quote(ctx, QuoteCommand{
		Lines:      cmd.Lines,
		CouponCode: cmd.CouponCode,
		Currency:   cmd.Currency,
	})
	if err != nil {
		return OrderCreation{}, err
	}

	account, err := s.accounts.Provision(ctx, ProvisionCommand{
		UserID:      cmd.UserID,
		Email:       cmd.Email,
		DisplayName: cmd.DisplayName,
	})
	if err != nil {
		return OrderCreation{}, err
	}

	now := s.now()
	year := now.Year()

	orderSeq, err := s.counters.Next(ctx, fmt.Sprintf("orders:%d", year), 1)
	if err != nil {
		return OrderCreation{}, s.translateError(err)
	}
	invoiceSeq, err := s.counters.Next(ctx, fmt.Sprintf("invoices:%d", year), 1)
	if err != nil {
		return OrderCreation{}, s.translateError(err)
	}

	order := domain.Order{
		ID:             "ord_" + s.newID(),
		OrderNumber:    fmt.Sprintf("PH-%d-%05d", year, orderSeq),
		UserID:         account.User.ID,
		Status:         domain.OrderStatusPending,
		PaymentStatus:  domain.PaymentStatusUnpaid,
		PaymentMethod:  cmd.PaymentMethod,
		Totals:         quote.Totals,
		Currency:       quote.Currency,
		BillingAddress: cmd.BillingAddress,
		Items:          quote.Lines,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if proofRef != "" {
		order.ProofRef = &proofRef
	}

	var couponCode *string
	if quote.Coupon != nil {
		code := quote.Coupon.Code
		order.CouponCode = &code
		couponCode = &code
	}

	invoice := domain.Invoice{
		ID:            "inv_" + s.newID(),
		InvoiceNumber: fmt.Sprintf("INV-%d-%05d", year, invoiceSeq),
		OrderID:       order.ID,
		Status:        domain.InvoiceStatusUnpaid,
		Totals:        quote.Totals,
		Currency:      quote.Currency,
		DueAt:         now.AddDate(0, 0, s.invoiceDueDays),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.orders.InsertAggregate(ctx, order, invoice, couponCode, now); err != nil {
		if repositories.IsCouponExhausted(err) {
			return OrderCreation{}, ErrCouponExhausted
		}
		return OrderCreation{}, s.translateError(err)
	}

	s.logger(ctx, "orders.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
		"total":       order.Totals.Total,
		"method":      string(order.PaymentMethod),
	})
	s.publishEvent(ctx, orderEventCreated, order)

	return OrderCreation{Order: order, Invoice: invoice, User: account.User}, nil
}

// GetOrder loads the order, enforcing ownership when an actor is supplied.
func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateError(err)
	}
	if actor := strings.TrimSpace(query.ActorID); actor != "" && order.UserID != actor {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

// ListOrders pages through orders matching the query.
func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error) {
	if s == nil || s.orders == nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}
	for _, status := range query.Status {
		if !domain.ValidOrderStatus(status) {
			return domain.CursorPage[Order]{}, ErrOrderInvalidInput
		}
	}
	for _, status := range query.PaymentStatus {
		if !domain.ValidPaymentStatus(status) {
			return domain.CursorPage[Order]{}, ErrOrderInvalidInput
		}
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:        strings.TrimSpace(query.UserID),
		Status:        query.Status,
		PaymentStatus: query.PaymentStatus,
		ManualReview:  query.ManualReview,
		DateRange:     domain.RangeQuery[time.Time]{From: query.From, To: query.To},
		Pagination:    query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateError(err)
	}
	return page, nil
}

// TransitionStatus performs the guarded compare-and-swap. The transition
// table is checked before touching storage; the storage layer then revalidates
// the expectation transactionally.
func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}
	if !domain.ValidOrderStatus(cmd.From.Status) || !domain.ValidOrderStatus(cmd.To.Status) ||
		!domain.ValidPaymentStatus(cmd.From.PaymentStatus) || !domain.ValidPaymentStatus(cmd.To.PaymentStatus) {
		return Order{}, ErrOrderInvalidInput
	}
	if domain.IsTerminalOrderStatus(cmd.From.Status) {
		return Order{}, ErrOrderTerminal
	}
	if !domain.CanTransitionPair(cmd.From, cmd.To) {
		return Order{}, ErrInvalidTransition
	}

	now := s.now()
	update := repositories.OrderTransitionUpdate{UpdatedAt: now}
	if cmd.PaidAt != nil {
		paidAt := cmd.PaidAt.UTC()
		update.PaidAt = &paidAt
	} else if cmd.To.PaymentStatus == domain.PaymentStatusPaid && cmd.From.PaymentStatus != domain.PaymentStatusPaid {
		update.PaidAt = &now
	}
	if cmd.To.Status == domain.OrderStatusCancelled {
		update.CancelledAt = &now
		if reason := s.sanitizeReason(cmd.Reason); reason != "" {
			update.CancelReason = &reason
		}
	}

	order, err := s.orders.TransitionStatus(ctx, orderID, cmd.From, cmd.To, update)
	if err != nil {
		return order, s.translateTransitionError(order, cmd.To, err)
	}

	s.logger(ctx, "orders.transitioned", map[string]any{
		"orderId": order.ID,
		"from":    fmt.Sprintf("%s/%s", cmd.From.Status, cmd.From.PaymentStatus),
		"to":      fmt.Sprintf("%s/%s", cmd.To.Status, cmd.To.PaymentStatus),
		"actor":   cmd.Actor,
	})
	s.publishEvent(ctx, orderEventStatusChanged, order)
	return order, nil
}

// CancelOrder cancels an unsettled order and hands the coupon usage back.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateError(err)
	}
	if actor := strings.TrimSpace(cmd.ActorID); actor != "" && current.UserID != actor {
		return Order{}, ErrOrderForbidden
	}
	if current.Status == domain.OrderStatusCancelled {
		return current, nil
	}
	if domain.IsTerminalOrderStatus(current.Status) {
		return Order{}, ErrOrderTerminal
	}
	if current.Status != domain.OrderStatusPending || current.PaymentStatus != domain.PaymentStatusUnpaid {
		return Order{}, ErrStaleOrderState
	}

	order, err := s.TransitionStatus(ctx, TransitionCommand{
		OrderID: orderID,
		From:    domain.StatusPair{Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusUnpaid},
		To:      domain.StatusPair{Status: domain.OrderStatusCancelled, PaymentStatus: domain.PaymentStatusUnpaid},
		Reason:  cmd.Reason,
		Actor:   cmd.ActorID,
	})
	if err != nil {
		return order, err
	}

	s.releaseOrderSideEffects(ctx, order)
	return order, nil
}

// releaseOrderSideEffects cancels the invoice and restores coupon usage after
// an order left the ledger unpaid. Failures are logged, not surfaced; the
// order itself is already cancelled.
func (s *orderService) releaseOrderSideEffects(ctx context.Context, order Order) {
	now := s.now()
	if invoice, err := s.invoices.FindByOrder(ctx, order.ID); err == nil {
		if invoice.Status == domain.InvoiceStatusUnpaid || invoice.Status == domain.InvoiceStatusDraft {
			if _, err := s.invoices.UpdateStatus(ctx, invoice.ID, domain.InvoiceStatusCancelled, nil, now); err != nil {
				s.logger(ctx, "orders.cancel.invoice_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
			}
		}
	} else {
		s.logger(ctx, "orders.cancel.invoice_lookup_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
	}

	if order.CouponCode != nil {
		if err := s.coupons.Restore(ctx, *order.CouponCode, now); err != nil {
			s.logger(ctx, "orders.cancel.coupon_restore_failed", map[string]any{
				"orderId": order.ID,
				"coupon":  *order.CouponCode,
				"error":   err.Error(),
			})
		}
	}
}

func (s *orderService) sanitizeReason(reason string) string {
	cleaned := strings.TrimSpace(s.sanitizer.Sanitize(reason))
	if len(cleaned) > maxCancelReasonLength {
		cleaned = cleaned[:maxCancelReasonLength]
	}
	return cleaned
}

// translateTransitionError maps a storage conflict onto the ledger error
// vocabulary using the order state read inside the failed transaction.
func (s *orderService) translateTransitionError(asRead Order, target StatusPair, err error) error {
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) {
		return err
	}
	switch {
	case repoErr.IsNotFound():
		return ErrOrderNotFound
	case repoErr.IsConflict():
		if domain.IsTerminalOrderStatus(asRead.Status) &&
			(asRead.Status != target.Status || asRead.PaymentStatus != target.PaymentStatus) {
			return ErrOrderTerminal
		}
		return ErrStaleOrderState
	case repoErr.IsUnavailable():
		return ErrOrderUnavailable
	}
	return err
}

func (s *orderService) translateError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsUnavailable():
			return ErrOrderUnavailable
		}
	}
	return err
}

func (s *orderService) publishEvent(ctx context.Context, event string, order Order) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
		Event:         event,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Amount:        order.Totals.Total,
		Currency:      order.Currency,
		OccurredAt:    s.now(),
	}); err != nil {
		s.logger(ctx, "orders.event.publish_failed", map[string]any{
			"orderId": order.ID,
			"event":   event,
			"error":   err.Error(),
		})
	}
}

func validateBillingAddress(addr Address) error {
	if strings.TrimSpace(addr.Recipient) == "" ||
		strings.TrimSpace(addr.Line1) == "" ||
		strings.TrimSpace(addr.City) == "" ||
		strings.TrimSpace(addr.PostalCode) == "" {
		return ErrOrderInvalidInput
	}
	if len(strings.TrimSpace(addr.Country)) != 2 {
		return ErrOrderInvalidInput
	}
	return nil
}
