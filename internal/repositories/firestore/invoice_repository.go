package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/peakhost/api/internal/domain"
	pfirestore "github.com/peakhost/api/internal/platform/firestore"
)

// InvoiceRepository stores invoices created alongside orders.
type InvoiceRepository struct {
	base     *pfirestore.BaseRepository[invoiceDocument]
	provider *pfirestore.Provider
}

// NewInvoiceRepository constructs a Firestore-backed invoice repository.
func NewInvoiceRepository(provider *pfirestore.Provider) (*InvoiceRepository, error) {
	if provider == nil {
		return nil, errors.New("invoice repository requires firestore provider")
	}
	return &InvoiceRepository{
		base:     pfirestore.NewBaseRepository[invoiceDocument](provider, invoiceCollection, nil, nil),
		provider: provider,
	}, nil
}

// FindByID loads the invoice by its identifier.
func (r *InvoiceRepository) FindByID(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	if r == nil || r.base == nil {
		return domain.Invoice{}, errors.New("invoice repository not initialised")
	}
	if strings.TrimSpace(invoiceID) == "" {
		return domain.Invoice{}, errors.New("invoice id is required")
	}
	doc, err := r.base.Get(ctx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	return toDomainInvoice(doc.ID, doc.Data), nil
}

// FindByOrder returns the invoice attached to the order. Orders carry exactly
// one invoice, created in the same transaction as the order itself.
func (r *InvoiceRepository) FindByOrder(ctx context.Context, orderID string) (domain.Invoice, error) {
	if r == nil || r.base == nil {
		return domain.Invoice{}, errors.New("invoice repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Invoice{}, errors.New("order id is required")
	}
	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("orderId", "==", strings.TrimSpace(orderID)).Limit(1)
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	if len(docs) == 0 {
		return domain.Invoice{}, pfirestore.WrapError("invoices.byOrder",
			status.Errorf(codes.NotFound, "no invoice for order %s", orderID))
	}
	return toDomainInvoice(docs[0].ID, docs[0].Data), nil
}

// UpdateStatus moves the invoice to the given status and records settlement time.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, invoiceID string, invoiceStatus domain.InvoiceStatus, paidAt *time.Time, updatedAt time.Time) (domain.Invoice, error) {
	if r == nil || r.base == nil {
		return domain.Invoice{}, errors.New("invoice repository not initialised")
	}
	if strings.TrimSpace(invoiceID) == "" {
		return domain.Invoice{}, errors.New("invoice id is required")
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(invoiceStatus)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
	if paidAt != nil {
		updates = append(updates, firestore.Update{Path: "paidAt", Value: paidAt.UTC()})
	}
	if _, err := r.base.Update(ctx, invoiceID, updates); err != nil {
		return domain.Invoice{}, err
	}
	return r.FindByID(ctx, invoiceID)
}

type invoiceDocument struct {
	InvoiceNumber string     `firestore:"invoiceNumber"`
	OrderID       string     `firestore:"orderId"`
	Status        string     `firestore:"status"`
	Subtotal      int64      `firestore:"subtotal"`
	Discount      int64      `firestore:"discount"`
	Tax           int64      `firestore:"tax"`
	Total         int64      `firestore:"total"`
	Currency      string     `firestore:"currency"`
	DueAt         time.Time  `firestore:"dueAt"`
	PaidAt        *time.Time `firestore:"paidAt,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

func toDomainInvoice(id string, doc invoiceDocument) domain.Invoice {
	return domain.Invoice{
		ID:            id,
		InvoiceNumber: doc.InvoiceNumber,
		OrderID:       doc.OrderID,
		Status:        domain.InvoiceStatus(doc.Status),
		Totals: domain.OrderTotals{
			Subtotal: doc.Subtotal,
			Discount: doc.Discount,
			Tax:      doc.Tax,
			Total:    doc.Total,
		},
		Currency:  doc.Currency,
		DueAt:     doc.DueAt,
		PaidAt:    doc.PaidAt,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func fromDomainInvoice(invoice domain.Invoice) invoiceDocument {
	return invoiceDocument{
		InvoiceNumber: invoice.InvoiceNumber,
		OrderID:       invoice.OrderID,
		Status:        string(invoice.Status),
		Subtotal:      invoice.Totals.Subtotal,
		Discount:      invoice.Totals.Discount,
		Tax:           invoice.Totals.Tax,
		Total:         invoice.Totals.Total,
		Currency:      invoice.Currency,
		DueAt:         invoice.DueAt,
		PaidAt:        invoice.PaidAt,
		CreatedAt:     invoice.CreatedAt,
		UpdatedAt:     invoice.UpdatedAt,
	}
}
