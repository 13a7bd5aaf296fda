package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/peakhost/api/internal/domain"
	"github.com/peakhost/api/internal/repositories"
)

type repoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoError) Error() string       { return "repository error" }
func (e repoError) IsNotFound() bool    { return e.notFound }
func (e repoError) IsConflict() bool    { return e.conflict }
func (e repoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = repoError{}

type stubOrderRepo struct {
	insertFn        func(context.Context, domain.Order, domain.Invoice, *string, time.Time) error
	findFn          func(context.Context, string) (domain.Order, error)
	listFn          func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	transitionFn    func(context.Context, string, domain.StatusPair, domain.StatusPair, repositories.OrderTransitionUpdate) (domain.Order, error)
	updateItemsFn   func(context.Context, string, []domain.OrderItem, time.Time) (domain.Order, error)
	setGatewayRefFn func(context.Context, string, string, time.Time) (domain.Order, error)
}

func (s *stubOrderRepo) InsertAggregate(ctx context.Context, order domain.Order, invoice domain.Invoice, couponCode *string, now time.Time) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order, invoice, couponCode, now)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, repoError{notFound: true}
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) TransitionStatus(ctx context.Context, orderID string, expect, target domain.StatusPair, update repositories.OrderTransitionUpdate) (domain.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, orderID, expect, target, update)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) UpdateItems(ctx context.Context, orderID string, items []domain.OrderItem, updatedAt time.Time) (domain.Order, error) {
	if s.updateItemsFn != nil {
		return s.updateItemsFn(ctx, orderID, items, updatedAt)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) SetGatewayRef(ctx context.Context, orderID string, gatewayRef string, updatedAt time.Time) (domain.Order, error) {
	if s.setGatewayRefFn != nil {
		return s.setGatewayRefFn(ctx, orderID, gatewayRef, updatedAt)
	}
	return domain.Order{}, errors.New("not implemented")
}

type stubInvoiceRepo struct {
	findByOrderFn  func(context.Context, string) (domain.Invoice, error)
	updateStatusFn func(context.Context, string, domain.InvoiceStatus, *time.Time, time.Time) (domain.Invoice, error)
}

func (s *stubInvoiceRepo) FindByID(context.Context, string) (domain.Invoice, error) {
	return domain.Invoice{}, repoError{notFound: true}
}

func (s *stubInvoiceRepo) FindByOrder(ctx context.Context, orderID string) (domain.Invoice, error) {
	if s.findByOrderFn != nil {
		return s.findByOrderFn(ctx, orderID)
	}
	return domain.Invoice{}, repoError{notFound: true}
}

func (s *stubInvoiceRepo) UpdateStatus(ctx context.Context, invoiceID string, status domain.InvoiceStatus, paidAt *time.Time, updatedAt time.Time) (domain.Invoice, error) {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, invoiceID, status, paidAt, updatedAt)
	}
	return domain.Invoice{ID: invoiceID, Status: status}, nil
}

type stubCouponRepo struct {
	findFn    func(context.Context, string) (domain.Coupon, error)
	restoreFn func(context.Context, string, time.Time) error
}

func (s *stubCouponRepo) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if s.findFn != nil {
		return s.findFn(ctx, code)
	}
	return domain.Coupon{}, repoError{notFound: true}
}

func (s *stubCouponRepo) Redeem(context.Context, string, time.Time) (domain.Coupon, error) {
	return domain.Coupon{}, errors.New("not implemented")
}

func (s *stubCouponRepo) Restore(ctx context.Context, code string, now time.Time) error {
	if s.restoreFn != nil {
		return s.restoreFn(ctx, code, now)
	}
	return nil
}

func (s *stubCouponRepo) Upsert(context.Context, domain.Coupon) (domain.Coupon, error) {
	return domain.Coupon{}, errors.New("not implemented")
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

func (s *stubCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type stubPricingService struct {
	quoteFn func(context.Context, QuoteCommand) (Quote, error)
}

func (s *stubPricingService) Quote(ctx context.Context, cmd QuoteCommand) (Quote, error) {
	if s.quoteFn != nil {
		return s.quoteFn(ctx, cmd)
	}
	return Quote{}, errors.New("not implemented")
}

type stubAccountService struct {
	provisionFn func(context.Context, ProvisionCommand) (ProvisionResult, error)
}

func (s *stubAccountService) Provision(ctx context.Context, cmd ProvisionCommand) (ProvisionResult, error) {
	if s.provisionFn != nil {
		return s.provisionFn(ctx, cmd)
	}
	return ProvisionResult{User: domain.User{ID: "usr_default"}}, nil
}

type captureOrderEvents struct {
	events []OrderEventMessage
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEventMessage) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.events = append(c.events, event)
	return "msg-1", nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs(prefixless ...string) func() string {
	i := 0
	return func() string {
		if i < len(prefixless) {
			id := prefixless[i]
			i++
			return id
		}
		i++
		return "overflow"
	}
}

func validAddress() domain.Address {
	return domain.Address{
		Recipient:  "Dana Smith",
		Line1:      "1 Harbor Way",
		City:       "Portland",
		PostalCode: "97201",
		Country:    "US",
	}
}

func newOrderServiceForTest(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Invoices == nil {
		deps.Invoices = &stubInvoiceRepo{}
	}
	if deps.Coupons == nil {
		deps.Coupons = &stubCouponRepo{}
	}
	if deps.Counters == nil {
		deps.Counters = &stubCounterRepo{}
	}
	if deps.Pricing == nil {
		deps.Pricing = &stubPricingService{}
	}
	if deps.Accounts == nil {
		deps.Accounts = &stubAccountService{}
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func TestCreateOrderPersistsAggregateWithCoupon(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	couponCode := "LAUNCH10"

	var insertedOrder domain.Order
	var insertedInvoice domain.Invoice
	var insertedCoupon *string
	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order, invoice domain.Invoice, code *string, _ time.Time) error {
			insertedOrder = order
			insertedInvoice = invoice
			insertedCoupon = code
			return nil
		},
	}
	counters := &stubCounterRepo{
		nextFn: func(_ context.Context, counterID string, _ int64) (int64, error) {
			switch counterID {
			case "orders:2026":
				return 42, nil
			case "invoices:2026":
				return 7, nil
			}
			return 0, errors.New("unexpected counter " + counterID)
		},
	}
	pricing := &stubPricingService{
		quoteFn: func(_ context.Context, cmd QuoteCommand) (Quote, error) {
			return Quote{
				Lines: []OrderItem{{
					ProductRef:   "plan-basic",
					ProductType:  domain.ProductTypeHosting,
					Name:         "Basic Hosting",
					BillingCycle: domain.BillingCycleMonthly,
					Quantity:     1,
					UnitPrice:    9999,
					Total:        9999,
					Status:       domain.OrderStatusPending,
				}},
				Totals:   OrderTotals{Subtotal: 9999, Discount: 1000, Total: 8999},
				Coupon:   &Coupon{Code: couponCode},
				Currency: "USD",
			}, nil
		},
	}
	accounts := &stubAccountService{
		provisionFn: func(_ context.Context, cmd ProvisionCommand) (ProvisionResult, error) {
			return ProvisionResult{User: domain.User{ID: "usr_guest", Email: cmd.Email}, Created: true}, nil
		},
	}
	events := &captureOrderEvents{}

	svc := newOrderServiceForTest(t, OrderServiceDeps{
		Orders:      orders,
		Counters:    counters,
		Pricing:     pricing,
		Accounts:    accounts,
		Events:      events,
		Clock:       fixedClock(now),
		IDGenerator: sequentialIDs("AAAA", "BBBB"),
	})

	creation, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		Email:          "guest@example.com",
		Lines:          []QuoteLine{{ProductRef: "plan-basic", Name: "Basic Hosting", ProductType: domain.ProductTypeHosting, BillingCycle: domain.BillingCycleMonthly, Quantity: 1, UnitPrice: 9999}},
		CouponCode:     couponCode,
		Currency:       "USD",
		PaymentMethod:  domain.PaymentMethodBankTransfer,
		ProofRef:       "proofs/2026/receipt.pdf",
		BillingAddress: validAddress(),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if creation.Order.ID != "ord_AAAA" {
		t.Fatalf("unexpected order id %q", creation.Order.ID)
	}
	if creation.Order.OrderNumber != "PH-2026-00042" {
		t.Fatalf("unexpected order number %q", creation.Order.OrderNumber)
	}
	if creation.Invoice.InvoiceNumber != "INV-2026-00007" {
		t.Fatalf("unexpected invoice number %q", creation.Invoice.InvoiceNumber)
	}
	if creation.Order.Status != domain.OrderStatusPending || creation.Order.PaymentStatus != domain.PaymentStatusUnpaid {
		t.Fatalf("unexpected initial pair %s/%s", creation.Order.Status, creation.Order.PaymentStatus)
	}
	if creation.Order.ProofRef == nil || *creation.Order.ProofRef != "proofs/2026/receipt.pdf" {
		t.Fatalf("proof ref not recorded: %v", creation.Order.ProofRef)
	}
	if insertedCoupon == nil || *insertedCoupon != couponCode {
		t.Fatalf("coupon code not passed to aggregate insert: %v", insertedCoupon)
	}
	if insertedOrder.Totals.Total != 8999 || insertedInvoice.Totals.Total != 8999 {
		t.Fatalf("totals not propagated: order=%d invoice=%d", insertedOrder.Totals.Total, insertedInvoice.Totals.Total)
	}
	if insertedInvoice.DueAt != now.AddDate(0, 0, defaultInvoiceDueDays) {
		t.Fatalf("unexpected invoice due date %v", insertedInvoice.DueAt)
	}
	if len(events.events) != 1 || events.events[0].Event != "order.created" {
		t.Fatalf("expected order.created event, got %#v", events.events)
	}
}

func TestCreateOrderRequiresProofBeforeAnyWrite(t *testing.T) {
	insertCalled := false
	quoteCalled := false
	orders := &stubOrderRepo{
		insertFn: func(context.Context, domain.Order, domain.Invoice, *string, time.Time) error {
			insertCalled = true
			return nil
		},
	}
	pricing := &stubPricingService{
		quoteFn: func(context.Context, QuoteCommand) (Quote, error) {
			quoteCalled = true
			return Quote{}, nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders, Pricing: pricing})

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		Email:          "guest@example.com",
		Lines:          []QuoteLine{{ProductRef: "plan-basic", Name: "Basic", ProductType: domain.ProductTypeHosting, BillingCycle: domain.BillingCycleMonthly, Quantity: 1, UnitPrice: 100}},
		Currency:       "USD",
		PaymentMethod:  domain.PaymentMethodBankTransfer,
		BillingAddress: validAddress(),
	})
	if !errors.Is(err, ErrProofRequired) {
		t.Fatalf("expected ErrProofRequired, got %v", err)
	}
	if insertCalled || quoteCalled {
		t.Fatalf("proofless manual order should fail before quoting or writing (insert=%v quote=%v)", insertCalled, quoteCalled)
	}
}

func TestCreateOrderCouponExhaustedAtInsert(t *testing.T) {
	orders := &stubOrderRepo{
		insertFn: func(context.Context, domain.Order, domain.Invoice, *string, time.Time) error {
			return repositories.NewCouponError(repositories.CouponErrorExhausted, "usage limit reached", nil)
		},
	}
	code := "LAST1"
	pricing := &stubPricingService{
		quoteFn: func(context.Context, QuoteCommand) (Quote, error) {
			return Quote{
				Lines:    []OrderItem{{ProductRef: "plan-basic", Total: 100}},
				Totals:   OrderTotals{Subtotal: 100, Total: 90, Discount: 10},
				Coupon:   &Coupon{Code: code},
				Currency: "USD",
			}, nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders, Pricing: pricing})

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		Email:          "guest@example.com",
		Lines:          []QuoteLine{{ProductRef: "plan-basic", Name: "Basic", ProductType: domain.ProductTypeHosting, BillingCycle: domain.BillingCycleMonthly, Quantity: 1, UnitPrice: 100}},
		CouponCode:     code,
		Currency:       "USD",
		PaymentMethod:  domain.PaymentMethodCard,
		BillingAddress: validAddress(),
	})
	if !errors.Is(err, ErrCouponExhausted) {
		t.Fatalf("expected ErrCouponExhausted, got %v", err)
	}
}

func TestCreateOrderRejectsIncompleteAddress(t *testing.T) {
	svc := newOrderServiceForTest(t, OrderServiceDeps{})

	addr := validAddress()
	addr.Country = "USA"
	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		Email:          "guest@example.com",
		Lines:          []QuoteLine{{ProductRef: "plan-basic", Name: "Basic", ProductType: domain.ProductTypeHosting, BillingCycle: domain.BillingCycleMonthly, Quantity: 1, UnitPrice: 100}},
		Currency:       "USD",
		PaymentMethod:  domain.PaymentMethodCard,
		BillingAddress: addr,
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestGetOrderEnforcesOwnership(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "usr_owner"}, nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders})

	if _, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord_1", ActorID: "usr_other"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
	order, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord_1", ActorID: "usr_owner"})
	if err != nil {
		t.Fatalf("GetOrder owner: %v", err)
	}
	if order.ID != "ord_1" {
		t.Fatalf("unexpected order %q", order.ID)
	}
}

func TestTransitionStatusRejectsIllegalTargets(t *testing.T) {
	svc := newOrderServiceForTest(t, OrderServiceDeps{})

	_, err := svc.TransitionStatus(context.Background(), TransitionCommand{
		OrderID: "ord_1",
		From:    domain.StatusPair{Status: domain.OrderStatusCancelled, PaymentStatus: domain.PaymentStatusUnpaid},
		To:      domain.StatusPair{Status: domain.OrderStatusActive, PaymentStatus: domain.PaymentStatusPaid},
	})
	if !errors.Is(err, ErrOrderTerminal) {
		t.Fatalf("expected ErrOrderTerminal from terminal source, got %v", err)
	}

	_, err = svc.TransitionStatus(context.Background(), TransitionCommand{
		OrderID: "ord_1",
		From:    domain.StatusPair{Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusUnpaid},
		To:      domain.StatusPair{Status: domain.OrderStatusCompleted, PaymentStatus: domain.PaymentStatusUnpaid},
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionStatusDefaultsPaidAt(t *testing.T) {
	now := time.Date(2026, 2, 2, 8, 30, 0, 0, time.UTC)
	var gotUpdate repositories.OrderTransitionUpdate
	orders := &stubOrderRepo{
		transitionFn: func(_ context.Context, orderID string, _, target domain.StatusPair, update repositories.OrderTransitionUpdate) (domain.Order, error) {
			gotUpdate = update
			return domain.Order{ID: orderID, Status: target.Status, PaymentStatus: target.PaymentStatus}, nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders, Clock: fixedClock(now)})

	_, err := svc.TransitionStatus(context.Background(), TransitionCommand{
		OrderID: "ord_1",
		From:    domain.StatusPair{Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusUnpaid},
		To:      domain.StatusPair{Status: domain.OrderStatusActive, PaymentStatus: domain.PaymentStatusPaid},
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if gotUpdate.PaidAt == nil || !gotUpdate.PaidAt.Equal(now) {
		t.Fatalf("expected PaidAt defaulted to now, got %v", gotUpdate.PaidAt)
	}
}

func TestTransitionStatusConflictMapsToStaleOrTerminal(t *testing.T) {
	asRead := domain.Order{ID: "ord_1", Status: domain.OrderStatusActive, PaymentStatus: domain.PaymentStatusPaid}
	orders := &stubOrderRepo{
		transitionFn: func(context.Context, string, domain.StatusPair, domain.StatusPair, repositories.OrderTransitionUpdate) (domain.Order, error) {
			return asRead, repoError{conflict: true}
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders})

	_, err := svc.TransitionStatus(context.Background(), TransitionCommand{
		OrderID: "ord_1",
		From:    domain.StatusPair{Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusUnpaid},
		To:      domain.StatusPair{Status: domain.OrderStatusCancelled, PaymentStatus: domain.PaymentStatusUnpaid},
	})
	if !errors.Is(err, ErrStaleOrderState) {
		t.Fatalf("expected ErrStaleOrderState for settled order, got %v", err)
	}

	asRead = domain.Order{ID: "ord_1", Status: domain.OrderStatusCancelled, PaymentStatus: domain.PaymentStatusUnpaid}
	_, err = svc.TransitionStatus(context.Background(), TransitionCommand{
		OrderID: "ord_1",
		From:    domain.StatusPair{Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusUnpaid},
		To:      domain.StatusPair{Status: domain.OrderStatusActive, PaymentStatus: domain.PaymentStatusPaid},
	})
	if !errors.Is(err, ErrOrderTerminal) {
		t.Fatalf("expected ErrOrderTerminal when stored order is terminal, got %v", err)
	}
}

func TestTransitionStatusSanitizesCancelReason(t *testing.T) {
	var gotUpdate repositories.OrderTransitionUpdate
	orders := &stubOrderRepo{
		transitionFn: func(_ context.Context, orderID string, _, target domain.StatusPair, update repositories.OrderTransitionUpdate) (domain.Order, error) {
			gotUpdate = update
			return domain.Order{ID: orderID, Status: target.Status, PaymentStatus: target.PaymentStatus}, nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders})

	_, err := svc.TransitionStatus(context.Background(), TransitionCommand{
		OrderID: "ord_1",
		From:    domain.StatusPair{Status: domain.OrderStatusPending, PaymentStatus: domain.PaymentStatusUnpaid},
		To:      domain.StatusPair{Status: domain.OrderStatusCancelled, PaymentStatus: domain.PaymentStatusUnpaid},
		Reason:  "<script>alert(1)</script>changed my mind",
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if gotUpdate.CancelledAt == nil {
		t.Fatalf("expected CancelledAt to be set")
	}
	if gotUpdate.CancelReason == nil || strings.Contains(*gotUpdate.CancelReason, "<script>") {
		t.Fatalf("reason not sanitized: %v", gotUpdate.CancelReason)
	}
	if !strings.Contains(*gotUpdate.CancelReason, "changed my mind") {
		t.Fatalf("reason text lost: %q", *gotUpdate.CancelReason)
	}
}

func TestCancelOrderIsRetrySafe(t *testing.T) {
	cancelled := domain.Order{ID: "ord_1", UserID: "usr_1", Status: domain.OrderStatusCancelled, PaymentStatus: domain.PaymentStatusUnpaid}
	transitions := 0
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return cancelled, nil
		},
		transitionFn: func(context.Context, string, domain.StatusPair, domain.StatusPair, repositories.OrderTransitionUpdate) (domain.Order, error) {
			transitions++
			return domain.Order{}, errors.New("should not be called")
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders})

	order, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_1", ActorID: "usr_1"})
	if err != nil {
		t.Fatalf("CancelOrder on cancelled order: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled || transitions != 0 {
		t.Fatalf("expected no-op cancel, got status=%s transitions=%d", order.Status, transitions)
	}
}

func TestCancelOrderReleasesInvoiceAndCoupon(t *testing.T) {
	code := "LAUNCH10"
	pending := domain.Order{
		ID:            "ord_1",
		UserID:        "usr_1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		CouponCode:    &code,
	}
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return pending, nil
		},
		transitionFn: func(_ context.Context, orderID string, _, target domain.StatusPair, _ repositories.OrderTransitionUpdate) (domain.Order, error) {
			out := pending
			out.Status = target.Status
			out.PaymentStatus = target.PaymentStatus
			return out, nil
		},
	}
	var cancelledInvoice string
	invoices := &stubInvoiceRepo{
		findByOrderFn: func(context.Context, string) (domain.Invoice, error) {
			return domain.Invoice{ID: "inv_1", OrderID: "ord_1", Status: domain.InvoiceStatusUnpaid}, nil
		},
		updateStatusFn: func(_ context.Context, invoiceID string, status domain.InvoiceStatus, _ *time.Time, _ time.Time) (domain.Invoice, error) {
			if status == domain.InvoiceStatusCancelled {
				cancelledInvoice = invoiceID
			}
			return domain.Invoice{ID: invoiceID, Status: status}, nil
		},
	}
	var restoredCode string
	coupons := &stubCouponRepo{
		restoreFn: func(_ context.Context, code string, _ time.Time) error {
			restoredCode = code
			return nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders, Invoices: invoices, Coupons: coupons})

	order, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_1", ActorID: "usr_1", Reason: "ordered twice"})
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("unexpected status %s", order.Status)
	}
	if cancelledInvoice != "inv_1" {
		t.Fatalf("invoice not voided, got %q", cancelledInvoice)
	}
	if restoredCode != code {
		t.Fatalf("coupon not restored, got %q", restoredCode)
	}
}

func TestCancelOrderRejectsSettledOrder(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", UserID: "usr_1", Status: domain.OrderStatusActive, PaymentStatus: domain.PaymentStatusPaid}, nil
		},
	}
	svc := newOrderServiceForTest(t, OrderServiceDeps{Orders: orders})

	if _, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_1", ActorID: "usr_1"}); !errors.Is(err, ErrStaleOrderState) {
		t.Fatalf("expected ErrStaleOrderState, got %v", err)
	}
}

func TestListOrdersValidatesStatusFilters(t *testing.T) {
	svc := newOrderServiceForTest(t, OrderServiceDeps{})

	_, err := svc.ListOrders(context.Background(), OrderListQuery{Status: []domain.OrderStatus{"bogus"}})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}
