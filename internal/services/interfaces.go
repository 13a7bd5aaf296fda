package services

import (
	"context"
	"time"

	domain "github.com/peakhost/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	User               = domain.User
	Coupon             = domain.Coupon
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderTotals        = domain.OrderTotals
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	PaymentMethod      = domain.PaymentMethod
	StatusPair         = domain.StatusPair
	Address            = domain.Address
	Invoice            = domain.Invoice
	Transaction        = domain.Transaction
	Service            = domain.Service
	SystemHealthReport = domain.SystemHealthReport
)

// PricingService computes checkout quotes and validates coupon applicability.
// It never mutates coupon state; redemption happens inside order creation.
type PricingService interface {
	Quote(ctx context.Context, cmd QuoteCommand) (Quote, error)
}

// QuoteLine is one priced line in a quote request.
type QuoteLine struct {
	ProductRef   string
	ProductType  domain.ProductType
	Name         string
	DomainName   *string
	BillingCycle domain.BillingCycle
	Quantity     int
	UnitPrice    int64
}

// QuoteCommand carries the inputs for a pricing quote.
type QuoteCommand struct {
	Lines      []QuoteLine
	CouponCode string
	Currency   string
}

// Quote is the computed price breakdown for a prospective order.
type Quote struct {
	Lines    []OrderItem
	Totals   OrderTotals
	Coupon   *Coupon
	Currency string
}

// AccountService resolves the account an order is attached to.
type AccountService interface {
	// Provision returns the authenticated caller's account, or atomically
	// creates-or-fetches a guest account keyed by email.
	Provision(ctx context.Context, cmd ProvisionCommand) (ProvisionResult, error)
}

// ProvisionCommand identifies the account to resolve. UserID wins when set.
type ProvisionCommand struct {
	UserID      string
	Email       string
	DisplayName string
}

// ProvisionResult reports the resolved account and whether it was created.
type ProvisionResult struct {
	User    User
	Created bool
}

// OrderService is the order ledger: creation and guarded status transitions.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderCreation, error)
	GetOrder(ctx context.Context, query GetOrderQuery) (Order, error)
	ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error)
	// TransitionStatus performs a compare-and-swap on the order's
	// (status, paymentStatus) pair.
	TransitionStatus(ctx context.Context, cmd TransitionCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// CreateOrderCommand carries the full checkout payload.
type CreateOrderCommand struct {
	UserID         string
	Email          string
	DisplayName    string
	Lines          []QuoteLine
	CouponCode     string
	Currency       string
	PaymentMethod  PaymentMethod
	ProofRef       string
	BillingAddress Address
}

// OrderCreation bundles the persisted aggregate returned from checkout.
type OrderCreation struct {
	Order   Order
	Invoice Invoice
	User    User
}

// GetOrderQuery scopes a single-order read to the requesting identity.
type GetOrderQuery struct {
	OrderID string
	// ActorID restricts reads to the order owner; empty for operator reads.
	ActorID string
}

// OrderListQuery filters the order list surface.
type OrderListQuery struct {
	UserID        string
	Status        []OrderStatus
	PaymentStatus []PaymentStatus
	ManualReview  bool
	From          *time.Time
	To            *time.Time
	Pagination    Pagination
}

// TransitionCommand describes a guarded status swap.
type TransitionCommand struct {
	OrderID string
	From    StatusPair
	To      StatusPair
	// Reason annotates cancellations and rejections.
	Reason string
	PaidAt *time.Time
	Actor  string
}

// CancelOrderCommand cancels an order that has not settled.
type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

// PaymentService drives the gateway payment path.
type PaymentService interface {
	// CreateIntent opens a gateway intent for the order, reusing the order ID
	// as idempotency key so retries return the same intent.
	CreateIntent(ctx context.Context, cmd CreateIntentCommand) (PaymentIntentResult, error)
	// ConfirmPayment re-queries the gateway and settles the order when the
	// intent has succeeded. Confirming a settled order is a no-op success.
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error)
}

// CreateIntentCommand identifies the order to open an intent for.
type CreateIntentCommand struct {
	OrderID string
	ActorID string
}

// PaymentIntentResult carries the client-facing intent handle.
type PaymentIntentResult struct {
	OrderID      string
	IntentID     string
	ClientSecret string
	Amount       int64
	Currency     string
}

// ConfirmPaymentCommand carries a confirmation attempt. The gateway is the
// source of truth; IntentID is only a hint checked against the stored ref.
type ConfirmPaymentCommand struct {
	OrderID  string
	IntentID string
	ActorID  string
}

// ReconciliationService settles or rejects proof-based orders.
type ReconciliationService interface {
	// ApproveOrder settles a pending manual order. Approving an already
	// settled order is a no-op success.
	ApproveOrder(ctx context.Context, cmd ApproveOrderCommand) (Order, error)
	// RejectOrder cancels a pending manual order and restores coupon usage.
	RejectOrder(ctx context.Context, cmd RejectOrderCommand) (Order, error)
}

// ApproveOrderCommand identifies the order and the deciding operator.
type ApproveOrderCommand struct {
	OrderID string
	Actor   string
}

// RejectOrderCommand identifies the order, the operator, and the reason shown
// to the customer.
type RejectOrderCommand struct {
	OrderID string
	Actor   string
	Reason  string
}

// FulfillmentService provisions services for settled orders.
type FulfillmentService interface {
	// Fulfill creates or activates one service per order item, marks the
	// invoice paid, and backfills the payment record. Idempotent per item.
	Fulfill(ctx context.Context, cmd FulfillCommand) (FulfillmentResult, error)
}

// FulfillCommand identifies the order to fulfill.
type FulfillCommand struct {
	OrderID string
	// GatewayRef, when set, is recorded on the backfilled payment record.
	GatewayRef string
}

// FulfillmentResult reports what the run produced.
type FulfillmentResult struct {
	Order    Order
	Services []Service
	// Provisioned counts items that gained a service in this run.
	Provisioned int
}

// SystemService aggregates dependency health for the readiness endpoints.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher pushes order lifecycle notifications onto the message bus.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEventMessage) (string, error)
}

// OrderEventMessage is the payload delivered to Pub/Sub subscribers.
type OrderEventMessage struct {
	Event         string    `json:"event"`
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber"`
	UserID        string    `json:"userId"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurredAt"`
}
