package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// Role enumerates the account roles recognised by the engine.
type Role string

const (
	// RoleCustomer identifies a regular shopper account.
	RoleCustomer Role = "customer"
	// RoleOperator identifies staff allowed to reconcile manual payments.
	RoleOperator Role = "operator"
)

// User is the identity record an order is attached to. Guest checkouts
// provision a user with a nil password hash; the hash is set on first login.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash *string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CouponKind distinguishes percentage discounts from fixed amounts.
type CouponKind string

const (
	// CouponKindPercentage discounts a percentage of the subtotal.
	CouponKindPercentage CouponKind = "percentage"
	// CouponKindFixed discounts a fixed amount in minor units.
	CouponKindFixed CouponKind = "fixed"
)

// Coupon is a promotional rule with bounded usage. UsedCount never exceeds
// UsageLimit; the storage layer enforces the bound under concurrent redemption.
type Coupon struct {
	Code           string
	Kind           CouponKind
	Value          int64
	MinOrderAmount int64
	MaxDiscount    *int64
	UsageLimit     int64
	UsedCount      int64
	StartsAt       *time.Time
	EndsAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment or review.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates payment settled and provisioning is underway.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusActive indicates all services on the order are live.
	OrderStatusActive OrderStatus = "active"
	// OrderStatusCompleted indicates a one-time order that has fully concluded.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was cancelled or rejected before settlement.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates payment was returned after settlement.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusFraud indicates the order was flagged and frozen by an operator.
	OrderStatusFraud OrderStatus = "fraud"
)

// PaymentStatus enumerates settlement states independent of the order lifecycle.
type PaymentStatus string

const (
	// PaymentStatusUnpaid indicates no settled payment exists for the order.
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	// PaymentStatusPaid indicates the full total has settled.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusPartial is reserved for future partial-payment support and
	// is not produced by any current operation.
	PaymentStatusPartial PaymentStatus = "partial"
	// PaymentStatusRefunded indicates a settled payment was returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod identifies how the shopper intends to pay.
type PaymentMethod string

const (
	// PaymentMethodCard settles synchronously through the payment gateway.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodBankTransfer settles via uploaded proof and operator review.
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	// PaymentMethodMobileWallet settles via uploaded proof and operator review.
	PaymentMethodMobileWallet PaymentMethod = "mobile_wallet"
	// PaymentMethodCash settles via uploaded proof and operator review.
	PaymentMethodCash PaymentMethod = "cash"
)

// RequiresProof reports whether the method settles through human review of an
// uploaded proof document rather than a gateway.
func (m PaymentMethod) RequiresProof() bool {
	switch m {
	case PaymentMethodBankTransfer, PaymentMethodMobileWallet, PaymentMethodCash:
		return true
	}
	return false
}

// IsGateway reports whether the method settles through the external processor.
func (m PaymentMethod) IsGateway() bool {
	return m == PaymentMethodCard
}

// StatusPair couples the order lifecycle status with its payment status.
// Transitions compare and swap both fields together so a gateway confirmation
// and an admin action racing on the same order cannot both win.
type StatusPair struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
}

// ProductType enumerates the purchasable product families.
type ProductType string

const (
	// ProductTypeHosting is a recurring hosting plan.
	ProductTypeHosting ProductType = "hosting"
	// ProductTypeDomain is a domain registration or transfer.
	ProductTypeDomain ProductType = "domain"
	// ProductTypeSSL is an SSL certificate.
	ProductTypeSSL ProductType = "ssl"
	// ProductTypeServer is a custom server configuration.
	ProductTypeServer ProductType = "server"
)

// BillingCycle enumerates supported billing intervals.
type BillingCycle string

const (
	// BillingCycleMonthly renews every month.
	BillingCycleMonthly BillingCycle = "monthly"
	// BillingCycleAnnually renews every year.
	BillingCycleAnnually BillingCycle = "annually"
	// BillingCycleOneTime never renews.
	BillingCycleOneTime BillingCycle = "one_time"
)

// OrderItem is one purchasable line owned exclusively by its order.
type OrderItem struct {
	ProductRef   string
	ProductType  ProductType
	Name         string
	DomainName   *string
	BillingCycle BillingCycle
	Quantity     int
	UnitPrice    int64
	Total        int64
	Status       OrderStatus
	ServiceRef   *string
}

// OrderTotals holds the monetary roll-up in the smallest currency unit.
// Total = Subtotal - Discount + Tax, fixed at creation time.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Tax      int64
	Total    int64
}

// Address is the billing address snapshot captured at checkout.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// Order is the central aggregate of the engine. Items are embedded and owned
// by the order; status transitions happen only through the ledger.
type Order struct {
	ID             string
	OrderNumber    string
	UserID         string
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	PaymentMethod  PaymentMethod
	GatewayRef     *string
	ProofRef       *string
	CouponCode     *string
	Totals         OrderTotals
	Currency       string
	BillingAddress Address
	Items          []OrderItem
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PaidAt         *time.Time
	CancelledAt    *time.Time
	CancelReason   *string
}

// InvoiceStatus enumerates invoice lifecycle states.
type InvoiceStatus string

const (
	// InvoiceStatusDraft is an invoice not yet issued to the customer.
	InvoiceStatusDraft InvoiceStatus = "draft"
	// InvoiceStatusUnpaid is an issued invoice awaiting settlement.
	InvoiceStatusUnpaid InvoiceStatus = "unpaid"
	// InvoiceStatusPaid is a settled invoice.
	InvoiceStatusPaid InvoiceStatus = "paid"
	// InvoiceStatusCancelled is an invoice voided before settlement.
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
	// InvoiceStatusRefunded is an invoice whose payment was returned.
	InvoiceStatusRefunded InvoiceStatus = "refunded"
)

// Invoice is the billing record created in the same transaction as its order
// and kept in lockstep with the order's payment status.
type Invoice struct {
	ID            string
	InvoiceNumber string
	OrderID       string
	Status        InvoiceStatus
	Totals        OrderTotals
	Currency      string
	DueAt         time.Time
	PaidAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TransactionType enumerates the append-only payment record kinds.
type TransactionType string

const (
	// TransactionTypePayment records an inbound settlement.
	TransactionTypePayment TransactionType = "payment"
	// TransactionTypeRefund records an outbound return of funds.
	TransactionTypeRefund TransactionType = "refund"
	// TransactionTypeCredit records a balance credit.
	TransactionTypeCredit TransactionType = "credit"
	// TransactionTypeDebit records a balance debit.
	TransactionTypeDebit TransactionType = "debit"
)

// Transaction is an append-only record of a payment attempt. Records are
// never updated; corrections are new transactions.
type Transaction struct {
	ID          string
	OrderID     string
	Type        TransactionType
	Amount      int64
	Currency    string
	GatewayRef  string
	Status      string
	Description string
	CreatedAt   time.Time
}

// ServiceStatus enumerates subscription lifecycle states.
type ServiceStatus string

const (
	// ServiceStatusPending is a service awaiting activation.
	ServiceStatusPending ServiceStatus = "pending"
	// ServiceStatusActive is a live service.
	ServiceStatusActive ServiceStatus = "active"
	// ServiceStatusSuspended is a service paused for non-payment.
	ServiceStatusSuspended ServiceStatus = "suspended"
	// ServiceStatusCancelled is a service ended by the customer.
	ServiceStatusCancelled ServiceStatus = "cancelled"
	// ServiceStatusTerminated is a service removed by the provider.
	ServiceStatusTerminated ServiceStatus = "terminated"
)

// Service is the active subscription produced when a paid order item is
// fulfilled.
type Service struct {
	ID          string
	OrderID     string
	UserID      string
	ItemRef     string
	ProductRef  string
	ProductType ProductType
	DomainName  *string
	Status      ServiceStatus
	NextDueAt   *time.Time
	ActivatedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery bounds a list query between optional endpoints.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
