package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/peakhost/api/internal/domain"
)

type stubServiceRepo struct {
	insertFn          func(context.Context, domain.Service) (domain.Service, error)
	findByIDFn        func(context.Context, string) (domain.Service, error)
	findByOrderItemFn func(context.Context, string, string) (domain.Service, error)
	updateStatusFn    func(context.Context, string, domain.ServiceStatus, *time.Time, time.Time) (domain.Service, error)
}

func (s *stubServiceRepo) Insert(ctx context.Context, svc domain.Service) (domain.Service, error) {
	if s.insertFn != nil {
		return s.insertFn(ctx, svc)
	}
	return svc, nil
}

func (s *stubServiceRepo) FindByID(ctx context.Context, serviceID string) (domain.Service, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, serviceID)
	}
	return domain.Service{}, repoError{notFound: true}
}

func (s *stubServiceRepo) FindByOrderItem(ctx context.Context, orderID, itemRef string) (domain.Service, error) {
	if s.findByOrderItemFn != nil {
		return s.findByOrderItemFn(ctx, orderID, itemRef)
	}
	return domain.Service{}, repoError{notFound: true}
}

func (s *stubServiceRepo) ListByUser(context.Context, string, domain.Pagination) (domain.CursorPage[domain.Service], error) {
	return domain.CursorPage[domain.Service]{}, errors.New("not implemented")
}

func (s *stubServiceRepo) UpdateStatus(ctx context.Context, serviceID string, status domain.ServiceStatus, activatedAt *time.Time, updatedAt time.Time) (domain.Service, error) {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, serviceID, status, activatedAt, updatedAt)
	}
	return domain.Service{ID: serviceID, Status: status, ActivatedAt: activatedAt}, nil
}

func paidHostingOrder() domain.Order {
	paidAt := time.Date(2026, 2, 3, 14, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:            "ord_1",
		OrderNumber:   "PH-2026-00001",
		UserID:        "usr_1",
		Status:        domain.OrderStatusActive,
		PaymentStatus: domain.PaymentStatusPaid,
		PaymentMethod: domain.PaymentMethodBankTransfer,
		PaidAt:        &paidAt,
		Totals:        domain.OrderTotals{Subtotal: 10000, Total: 10000},
		Currency:      "USD",
		Items: []domain.OrderItem{{
			ProductRef:   "plan-basic",
			ProductType:  domain.ProductTypeHosting,
			Name:         "Basic Hosting",
			BillingCycle: domain.BillingCycleMonthly,
			Quantity:     1,
			UnitPrice:    10000,
			Total:        10000,
			Status:       domain.OrderStatusPending,
		}},
	}
}

func newFulfillmentServiceForTest(t *testing.T, deps FulfillmentServiceDeps) FulfillmentService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Invoices == nil {
		deps.Invoices = &stubInvoiceRepo{}
	}
	if deps.Services == nil {
		deps.Services = &stubServiceRepo{}
	}
	if deps.Transactions == nil {
		deps.Transactions = &stubTransactionRepo{}
	}
	svc, err := NewFulfillmentService(deps)
	if err != nil {
		t.Fatalf("NewFulfillmentService: %v", err)
	}
	return svc
}

func TestFulfillRejectsUnpaidOrder(t *testing.T) {
	order := paidHostingOrder()
	order.Status = domain.OrderStatusPending
	order.PaymentStatus = domain.PaymentStatusUnpaid
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return order, nil },
	}
	svc := newFulfillmentServiceForTest(t, FulfillmentServiceDeps{Orders: orders})

	if _, err := svc.Fulfill(context.Background(), FulfillCommand{OrderID: "ord_1"}); !errors.Is(err, ErrFulfillmentNotSettled) {
		t.Fatalf("expected ErrFulfillmentNotSettled, got %v", err)
	}
}

func TestFulfillProvisionsServicesAndSettlesInvoice(t *testing.T) {
	now := time.Date(2026, 2, 3, 15, 0, 0, 0, time.UTC)
	order := paidHostingOrder()

	var updatedItems []domain.OrderItem
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateItemsFn: func(_ context.Context, _ string, items []domain.OrderItem, _ time.Time) (domain.Order, error) {
			updatedItems = items
			out := order
			out.Items = items
			return out, nil
		},
	}

	var inserted domain.Service
	var activated string
	services := &stubServiceRepo{
		insertFn: func(_ context.Context, svc domain.Service) (domain.Service, error) {
			inserted = svc
			return svc, nil
		},
		updateStatusFn: func(_ context.Context, serviceID string, status domain.ServiceStatus, activatedAt *time.Time, _ time.Time) (domain.Service, error) {
			activated = serviceID
			return domain.Service{ID: serviceID, OrderID: order.ID, Status: status, ActivatedAt: activatedAt}, nil
		},
	}

	var settledInvoice string
	var invoicePaidAt *time.Time
	invoices := &stubInvoiceRepo{
		findByOrderFn: func(context.Context, string) (domain.Invoice, error) {
			return domain.Invoice{ID: "inv_1", OrderID: order.ID, Status: domain.InvoiceStatusUnpaid}, nil
		},
		updateStatusFn: func(_ context.Context, invoiceID string, status domain.InvoiceStatus, paidAt *time.Time, _ time.Time) (domain.Invoice, error) {
			if status == domain.InvoiceStatusPaid {
				settledInvoice = invoiceID
				invoicePaidAt = paidAt
			}
			return domain.Invoice{ID: invoiceID, Status: status, PaidAt: paidAt}, nil
		},
	}

	var appended []domain.Transaction
	transactions := &stubTransactionRepo{
		appendFn: func(_ context.Context, txn domain.Transaction) (domain.Transaction, error) {
			appended = append(appended, txn)
			return txn, nil
		},
	}
	events := &captureOrderEvents{}

	svc := newFulfillmentServiceForTest(t, FulfillmentServiceDeps{
		Orders:       orders,
		Invoices:     invoices,
		Services:     services,
		Transactions: transactions,
		Events:       events,
		Clock:        fixedClock(now),
		IDGenerator:  sequentialIDs("SVC1", "TXN1"),
	})

	result, err := svc.Fulfill(context.Background(), FulfillCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}

	if result.Provisioned != 1 || len(result.Services) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if inserted.ItemRef != "ord_1:0:plan-basic" {
		t.Fatalf("unexpected item ref %q", inserted.ItemRef)
	}
	if inserted.NextDueAt == nil || !inserted.NextDueAt.Equal(now.AddDate(0, 1, 0)) {
		t.Fatalf("monthly item should be due in one month, got %v", inserted.NextDueAt)
	}
	if activated != inserted.ID {
		t.Fatalf("pending service not activated: %q", activated)
	}
	if len(updatedItems) != 1 || updatedItems[0].ServiceRef == nil || *updatedItems[0].ServiceRef != inserted.ID {
		t.Fatalf("item not linked to service: %+v", updatedItems)
	}
	if settledInvoice != "inv_1" {
		t.Fatalf("invoice not settled, got %q", settledInvoice)
	}
	if invoicePaidAt == nil || !invoicePaidAt.Equal(*order.PaidAt) {
		t.Fatalf("invoice paidAt should mirror the order, got %v", invoicePaidAt)
	}
	if len(appended) != 1 || appended[0].GatewayRef != "manual:ord_1" {
		t.Fatalf("payment record not backfilled: %+v", appended)
	}
	if len(events.events) != 1 || events.events[0].Event != "order.fulfilled" {
		t.Fatalf("expected order.fulfilled event, got %#v", events.events)
	}
}

func TestFulfillSecondRunIsNoOp(t *testing.T) {
	order := paidHostingOrder()
	serviceID := "svc_existing"
	order.Items[0].ServiceRef = &serviceID
	order.Items[0].Status = domain.OrderStatusActive

	updateItemsCalls := 0
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateItemsFn: func(context.Context, string, []domain.OrderItem, time.Time) (domain.Order, error) {
			updateItemsCalls++
			return order, nil
		},
	}
	inserts := 0
	services := &stubServiceRepo{
		findByIDFn: func(_ context.Context, id string) (domain.Service, error) {
			return domain.Service{ID: id, OrderID: order.ID, Status: domain.ServiceStatusActive}, nil
		},
		insertFn: func(_ context.Context, svc domain.Service) (domain.Service, error) {
			inserts++
			return svc, nil
		},
	}
	invoices := &stubInvoiceRepo{
		findByOrderFn: func(context.Context, string) (domain.Invoice, error) {
			paidAt := *order.PaidAt
			return domain.Invoice{ID: "inv_1", OrderID: order.ID, Status: domain.InvoiceStatusPaid, PaidAt: &paidAt}, nil
		},
	}
	appends := 0
	transactions := &stubTransactionRepo{
		findByGatewayRefFn: func(context.Context, string, string) (domain.Transaction, error) {
			return domain.Transaction{ID: "txn_existing"}, nil
		},
		appendFn: func(_ context.Context, txn domain.Transaction) (domain.Transaction, error) {
			appends++
			return txn, nil
		},
	}
	svc := newFulfillmentServiceForTest(t, FulfillmentServiceDeps{
		Orders:       orders,
		Invoices:     invoices,
		Services:     services,
		Transactions: transactions,
	})

	result, err := svc.Fulfill(context.Background(), FulfillCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("repeat Fulfill: %v", err)
	}
	if result.Provisioned != 0 || inserts != 0 || updateItemsCalls != 0 || appends != 0 {
		t.Fatalf("expected idempotent rerun, provisioned=%d inserts=%d itemUpdates=%d appends=%d",
			result.Provisioned, inserts, updateItemsCalls, appends)
	}
	if len(result.Services) != 1 || result.Services[0].ID != serviceID {
		t.Fatalf("existing service not reported: %+v", result.Services)
	}
}

func TestFulfillRecoversFromConcurrentInsert(t *testing.T) {
	order := paidHostingOrder()
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateItemsFn: func(_ context.Context, _ string, items []domain.OrderItem, _ time.Time) (domain.Order, error) {
			out := order
			out.Items = items
			return out, nil
		},
	}
	winner := domain.Service{ID: "svc_winner", OrderID: order.ID, ItemRef: "ord_1:0:plan-basic", Status: domain.ServiceStatusActive}
	lookups := 0
	services := &stubServiceRepo{
		findByOrderItemFn: func(context.Context, string, string) (domain.Service, error) {
			lookups++
			// First lookup happens before the insert attempt and misses.
			if lookups == 1 {
				return domain.Service{}, repoError{notFound: true}
			}
			return winner, nil
		},
		insertFn: func(context.Context, domain.Service) (domain.Service, error) {
			return domain.Service{}, repoError{conflict: true}
		},
	}
	svc := newFulfillmentServiceForTest(t, FulfillmentServiceDeps{Orders: orders, Services: services})

	result, err := svc.Fulfill(context.Background(), FulfillCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("Fulfill with racing insert: %v", err)
	}
	if len(result.Services) != 1 || result.Services[0].ID != "svc_winner" {
		t.Fatalf("racing insert not recovered: %+v", result.Services)
	}
}

func TestFulfillUsesGatewayRefForPaymentRecord(t *testing.T) {
	order := paidHostingOrder()
	serviceID := "svc_existing"
	order.Items[0].ServiceRef = &serviceID
	order.Items[0].Status = domain.OrderStatusActive
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return order, nil },
	}
	services := &stubServiceRepo{
		findByIDFn: func(_ context.Context, id string) (domain.Service, error) {
			return domain.Service{ID: id, Status: domain.ServiceStatusActive}, nil
		},
	}
	var appended []domain.Transaction
	transactions := &stubTransactionRepo{
		appendFn: func(_ context.Context, txn domain.Transaction) (domain.Transaction, error) {
			appended = append(appended, txn)
			return txn, nil
		},
	}
	svc := newFulfillmentServiceForTest(t, FulfillmentServiceDeps{
		Orders:       orders,
		Services:     services,
		Transactions: transactions,
	})

	if _, err := svc.Fulfill(context.Background(), FulfillCommand{OrderID: "ord_1", GatewayRef: "pi_123"}); err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if len(appended) != 1 || appended[0].GatewayRef != "pi_123" {
		t.Fatalf("gateway ref not used for payment record: %+v", appended)
	}
}
