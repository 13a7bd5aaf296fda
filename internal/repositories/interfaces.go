package repositories

import (
	"context"
	"time"

	domain "github.com/peakhost/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Users() UserRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Invoices() InvoiceRepository
	Transactions() TransactionRepository
	Services() ServiceRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository stores accounts and the unique lowercase-email index.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	// ProvisionByEmail inserts the candidate user together with its email
	// index entry in one transaction. When the index entry already exists the
	// existing owner is returned untouched and created is false.
	ProvisionByEmail(ctx context.Context, candidate domain.User) (user domain.User, created bool, err error)
	UpdateProfile(ctx context.Context, user domain.User) (domain.User, error)
}

// CouponRepository maintains coupon definitions and their bounded usage counts.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	// Redeem increments UsedCount only while it stays within UsageLimit,
	// inside a transaction. A coupon at its limit yields a CouponError with
	// code CouponErrorExhausted and no write.
	Redeem(ctx context.Context, code string, now time.Time) (domain.Coupon, error)
	// Restore decrements UsedCount, flooring at zero.
	Restore(ctx context.Context, code string, now time.Time) error
	Upsert(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error)
}

// OrderRepository persists order aggregates and performs guarded transitions.
type OrderRepository interface {
	// InsertAggregate writes the order and its invoice in one transaction,
	// optionally redeeming the named coupon in the same transaction. The
	// whole insert aborts if the coupon is at its usage limit.
	InsertAggregate(ctx context.Context, order domain.Order, invoice domain.Invoice, couponCode *string, now time.Time) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// TransitionStatus compares the stored (status, paymentStatus) pair with
	// expect and, only on a match, writes target plus the field updates.
	// A mismatch yields a RepositoryError with IsConflict and the order as
	// read, so callers can distinguish a lost race from a no-op retry.
	TransitionStatus(ctx context.Context, orderID string, expect domain.StatusPair, target domain.StatusPair, update OrderTransitionUpdate) (domain.Order, error)
	// UpdateItems rewrites the embedded item list, used by fulfillment to
	// record per-item service references.
	UpdateItems(ctx context.Context, orderID string, items []domain.OrderItem, updatedAt time.Time) (domain.Order, error)
	SetGatewayRef(ctx context.Context, orderID string, gatewayRef string, updatedAt time.Time) (domain.Order, error)
}

// OrderTransitionUpdate carries optional fields written alongside a status swap.
type OrderTransitionUpdate struct {
	PaidAt       *time.Time
	CancelledAt  *time.Time
	CancelReason *string
	GatewayRef   *string
	UpdatedAt    time.Time
}

// InvoiceRepository stores invoices created alongside orders.
type InvoiceRepository interface {
	FindByID(ctx context.Context, invoiceID string) (domain.Invoice, error)
	FindByOrder(ctx context.Context, orderID string) (domain.Invoice, error)
	UpdateStatus(ctx context.Context, invoiceID string, status domain.InvoiceStatus, paidAt *time.Time, updatedAt time.Time) (domain.Invoice, error)
}

// TransactionRepository appends immutable payment records.
type TransactionRepository interface {
	Append(ctx context.Context, txn domain.Transaction) (domain.Transaction, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error)
	// FindByGatewayRef locates an existing record for an idempotency check
	// before appending a duplicate.
	FindByGatewayRef(ctx context.Context, orderID string, gatewayRef string) (domain.Transaction, error)
}

// ServiceRepository stores provisioned subscriptions.
type ServiceRepository interface {
	Insert(ctx context.Context, svc domain.Service) (domain.Service, error)
	FindByID(ctx context.Context, serviceID string) (domain.Service, error)
	FindByOrderItem(ctx context.Context, orderID string, itemRef string) (domain.Service, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Service], error)
	UpdateStatus(ctx context.Context, serviceID string, status domain.ServiceStatus, activatedAt *time.Time, updatedAt time.Time) (domain.Service, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID        string
	Status        []domain.OrderStatus
	PaymentStatus []domain.PaymentStatus
	// ManualReview restricts results to proof-based orders awaiting an
	// operator decision.
	ManualReview bool
	DateRange    domain.RangeQuery[time.Time]
	Pagination   domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
