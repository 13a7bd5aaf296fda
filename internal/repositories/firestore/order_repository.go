package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/peakhost/api/internal/domain"
	"github.com/peakhost/api/internal/platform/pagination"

	pfirestore "github.com/peakhost/api/internal/platform/firestore"
	"github.com/peakhost/api/internal/repositories"
)

const (
	orderCollection   = "orders"
	invoiceCollection = "invoices"

	orderPageLimit = 200
)

// OrderRepository persists order aggregates. Status swaps run as Firestore
// transactions comparing the stored (status, paymentStatus) pair, so two
// writers racing on the same order cannot both win.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	invoices *pfirestore.BaseRepository[invoiceDocument]
	coupons  *CouponRepository
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository. The
// coupon repository participates in aggregate inserts so a redemption and its
// order commit or abort together.
func NewOrderRepository(provider *pfirestore.Provider, coupons *CouponRepository) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	if coupons == nil {
		return nil, errors.New("order repository requires coupon repository")
	}
	return &OrderRepository{
		base:     pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil),
		invoices: pfirestore.NewBaseRepository[invoiceDocument](provider, invoiceCollection, nil, nil),
		coupons:  coupons,
		provider: provider,
	}, nil
}

// InsertAggregate writes the order and its invoice in one transaction. When a
// coupon code is supplied its usage count is incremented in the same
// transaction, so an exhausted coupon aborts the whole insert.
func (r *OrderRepository) InsertAggregate(ctx context.Context, order domain.Order, invoice domain.Invoice, couponCode *string, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	if strings.TrimSpace(invoice.ID) == "" {
		return errors.New("invoice id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if couponCode != nil && strings.TrimSpace(*couponCode) != "" {
			if err := r.coupons.redeemInTx(ctx, tx, *couponCode, now); err != nil {
				return err
			}
		}
		orderRef, err := r.base.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		invoiceRef, err := r.invoices.DocumentRef(ctx, invoice.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(orderRef, fromDomainOrder(order)); err != nil {
			return err
		}
		return tx.Create(invoiceRef, fromDomainInvoice(invoice))
	})
	if err != nil {
		var couponErr *repositories.CouponError
		if errors.As(err, &couponErr) {
			return couponErr
		}
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// FindByID loads the order aggregate.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc.ID, doc.Data), nil
}

// List returns orders matching the filter, newest first, with a cursor token
// for the next page.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	if pageSize > orderPageLimit {
		pageSize = orderPageLimit
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			query = query.Where("userId", "==", userID)
		}
		if len(filter.Status) > 0 {
			query = query.Where("status", "in", statusValues(filter.Status))
		}
		if len(filter.PaymentStatus) > 0 {
			query = query.Where("paymentStatus", "in", paymentStatusValues(filter.PaymentStatus))
		}
		if filter.ManualReview {
			query = query.Where("requiresReview", "==", true)
		}
		if filter.DateRange.From != nil {
			query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if after, ok := decodeOrderCursor(cursor); ok {
			query = query.StartAfter(after.createdAt, after.orderID)
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i >= pageSize {
			break
		}
		page.Items = append(page.Items, toDomainOrder(doc.ID, doc.Data))
	}
	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{
			last.Data.CreatedAt.UTC().Format(time.RFC3339Nano),
			last.ID,
		}})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// TransitionStatus compares the stored status pair with expect and writes the
// target pair plus the supplied field updates only on a match. A mismatch
// yields a conflict error together with the order as read, so callers can
// tell a lost race from a retry of an already-applied transition.
func (r *OrderRepository) TransitionStatus(ctx context.Context, orderID string, expect domain.StatusPair, target domain.StatusPair, update repositories.OrderTransitionUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}

	var current domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", orderID, err)
		}
		current = toDomainOrder(orderID, doc)

		if doc.Status != string(expect.Status) || doc.PaymentStatus != string(expect.PaymentStatus) {
			return status.Errorf(codes.FailedPrecondition,
				"order %s is %s/%s, expected %s/%s",
				orderID, doc.Status, doc.PaymentStatus, expect.Status, expect.PaymentStatus)
		}

		doc.Status = string(target.Status)
		doc.PaymentStatus = string(target.PaymentStatus)
		doc.UpdatedAt = update.UpdatedAt.UTC()
		if update.PaidAt != nil {
			paidAt := update.PaidAt.UTC()
			doc.PaidAt = &paidAt
		}
		if update.CancelledAt != nil {
			cancelledAt := update.CancelledAt.UTC()
			doc.CancelledAt = &cancelledAt
		}
		if update.CancelReason != nil {
			doc.CancelReason = update.CancelReason
		}
		if update.GatewayRef != nil {
			doc.GatewayRef = update.GatewayRef
		}
		if target.Status != domain.OrderStatusPending {
			doc.RequiresReview = false
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		current = toDomainOrder(orderID, doc)
		return nil
	})
	if err != nil {
		return current, pfirestore.WrapError("orders.transition", err)
	}
	return current, nil
}

// UpdateItems rewrites the embedded item list.
func (r *OrderRepository) UpdateItems(ctx context.Context, orderID string, items []domain.OrderItem, updatedAt time.Time) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}

	var current domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", orderID, err)
		}
		doc.Items = fromDomainItems(items)
		doc.UpdatedAt = updatedAt.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		current = toDomainOrder(orderID, doc)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.items", err)
	}
	return current, nil
}

// SetGatewayRef records the payment intent reference created for the order.
func (r *OrderRepository) SetGatewayRef(ctx context.Context, orderID string, gatewayRef string, updatedAt time.Time) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}
	ref := strings.TrimSpace(gatewayRef)
	if ref == "" {
		return domain.Order{}, errors.New("gateway ref is required")
	}

	_, err := r.base.Update(ctx, orderID, []firestore.Update{
		{Path: "gatewayRef", Value: ref},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, orderID)
}

type orderCursor struct {
	createdAt time.Time
	orderID   string
}

func decodeOrderCursor(cursor pagination.Cursor) (orderCursor, bool) {
	if len(cursor.StartAfter) != 2 {
		return orderCursor{}, false
	}
	raw, ok := cursor.StartAfter[0].(string)
	if !ok {
		return orderCursor{}, false
	}
	createdAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return orderCursor{}, false
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok || id == "" {
		return orderCursor{}, false
	}
	return orderCursor{createdAt: createdAt, orderID: id}, true
}

func statusValues(statuses []domain.OrderStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func paymentStatusValues(statuses []domain.PaymentStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

type orderDocument struct {
	OrderNumber    string              `firestore:"orderNumber"`
	UserID         string              `firestore:"userId"`
	Status         string              `firestore:"status"`
	PaymentStatus  string              `firestore:"paymentStatus"`
	PaymentMethod  string              `firestore:"paymentMethod"`
	GatewayRef     *string             `firestore:"gatewayRef,omitempty"`
	ProofRef       *string             `firestore:"proofRef,omitempty"`
	CouponCode     *string             `firestore:"couponCode,omitempty"`
	RequiresReview bool                `firestore:"requiresReview"`
	Subtotal       int64               `firestore:"subtotal"`
	Discount       int64               `firestore:"discount"`
	Tax            int64               `firestore:"tax"`
	Total          int64               `firestore:"total"`
	Currency       string              `firestore:"currency"`
	BillingAddress addressDocument     `firestore:"billingAddress"`
	Items          []orderItemDocument `firestore:"items"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
	PaidAt         *time.Time          `firestore:"paidAt,omitempty"`
	CancelledAt    *time.Time          `firestore:"cancelledAt,omitempty"`
	CancelReason   *string             `firestore:"cancelReason,omitempty"`
}

type orderItemDocument struct {
	ProductRef   string  `firestore:"productRef"`
	ProductType  string  `firestore:"productType"`
	Name         string  `firestore:"name"`
	DomainName   *string `firestore:"domainName,omitempty"`
	BillingCycle string  `firestore:"billingCycle"`
	Quantity     int     `firestore:"quantity"`
	UnitPrice    int64   `firestore:"unitPrice"`
	Total        int64   `firestore:"total"`
	Status       string  `firestore:"status"`
	ServiceRef   *string `firestore:"serviceRef,omitempty"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

func toDomainOrder(id string, doc orderDocument) domain.Order {
	return domain.Order{
		ID:            id,
		OrderNumber:   doc.OrderNumber,
		UserID:        doc.UserID,
		Status:        domain.OrderStatus(doc.Status),
		PaymentStatus: domain.PaymentStatus(doc.PaymentStatus),
		PaymentMethod: domain.PaymentMethod(doc.PaymentMethod),
		GatewayRef:    doc.GatewayRef,
		ProofRef:      doc.ProofRef,
		CouponCode:    doc.CouponCode,
		Totals: domain.OrderTotals{
			Subtotal: doc.Subtotal,
			Discount: doc.Discount,
			Tax:      doc.Tax,
			Total:    doc.Total,
		},
		Currency:       doc.Currency,
		BillingAddress: toDomainAddress(doc.BillingAddress),
		Items:          toDomainItems(doc.Items),
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		PaidAt:         doc.PaidAt,
		CancelledAt:    doc.CancelledAt,
		CancelReason:   doc.CancelReason,
	}
}

func fromDomainOrder(order domain.Order) orderDocument {
	return orderDocument{
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		PaymentMethod:  string(order.PaymentMethod),
		GatewayRef:     order.GatewayRef,
		ProofRef:       order.ProofRef,
		CouponCode:     order.CouponCode,
		RequiresReview: order.Status == domain.OrderStatusPending && order.PaymentMethod.RequiresProof(),
		Subtotal:       order.Totals.Subtotal,
		Discount:       order.Totals.Discount,
		Tax:            order.Totals.Tax,
		Total:          order.Totals.Total,
		Currency:       order.Currency,
		BillingAddress: fromDomainAddress(order.BillingAddress),
		Items:          fromDomainItems(order.Items),
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
		PaidAt:         order.PaidAt,
		CancelledAt:    order.CancelledAt,
		CancelReason:   order.CancelReason,
	}
}

func toDomainItems(docs []orderItemDocument) []domain.OrderItem {
	if len(docs) == 0 {
		return nil
	}
	items := make([]domain.OrderItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, domain.OrderItem{
			ProductRef:   d.ProductRef,
			ProductType:  domain.ProductType(d.ProductType),
			Name:         d.Name,
			DomainName:   d.DomainName,
			BillingCycle: domain.BillingCycle(d.BillingCycle),
			Quantity:     d.Quantity,
			UnitPrice:    d.UnitPrice,
			Total:        d.Total,
			Status:       domain.OrderStatus(d.Status),
			ServiceRef:   d.ServiceRef,
		})
	}
	return items
}

func fromDomainItems(items []domain.OrderItem) []orderItemDocument {
	if len(items) == 0 {
		return nil
	}
	docs := make([]orderItemDocument, 0, len(items))
	for _, item := range items {
		docs = append(docs, orderItemDocument{
			ProductRef:   item.ProductRef,
			ProductType:  string(item.ProductType),
			Name:         item.Name,
			DomainName:   item.DomainName,
			BillingCycle: string(item.BillingCycle),
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Total:        item.Total,
			Status:       string(item.Status),
			ServiceRef:   item.ServiceRef,
		})
	}
	return docs
}

func toDomainAddress(doc addressDocument) domain.Address {
	return domain.Address{
		Recipient:  doc.Recipient,
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		State:      doc.State,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
		Phone:      doc.Phone,
	}
}

func fromDomainAddress(addr domain.Address) addressDocument {
	return addressDocument{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}
