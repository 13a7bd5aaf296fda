package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/peakhost/api/internal/domain"
	pfirestore "github.com/peakhost/api/internal/platform/firestore"
)

const transactionCollection = "transactions"

// TransactionRepository appends immutable payment records. Documents are
// created once and never updated.
type TransactionRepository struct {
	base     *pfirestore.BaseRepository[transactionDocument]
	provider *pfirestore.Provider
}

// NewTransactionRepository constructs a Firestore-backed transaction repository.
func NewTransactionRepository(provider *pfirestore.Provider) (*TransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("transaction repository requires firestore provider")
	}
	return &TransactionRepository{
		base:     pfirestore.NewBaseRepository[transactionDocument](provider, transactionCollection, nil, nil),
		provider: provider,
	}, nil
}

// Append inserts the record. Re-appending an existing ID yields a conflict.
func (r *TransactionRepository) Append(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	if r == nil || r.base == nil {
		return domain.Transaction{}, errors.New("transaction repository not initialised")
	}
	if strings.TrimSpace(txn.ID) == "" {
		return domain.Transaction{}, errors.New("transaction id is required")
	}
	if strings.TrimSpace(txn.OrderID) == "" {
		return domain.Transaction{}, errors.New("transaction order id is required")
	}
	doc := fromDomainTransaction(txn)
	if _, err := r.base.Create(ctx, txn.ID, doc); err != nil {
		return domain.Transaction{}, err
	}
	return toDomainTransaction(txn.ID, doc), nil
}

// ListByOrder returns the records for the order, oldest first.
func (r *TransactionRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("transaction repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.New("order id is required")
	}
	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("orderId", "==", strings.TrimSpace(orderID))
	})
	if err != nil {
		return nil, err
	}
	txns := make([]domain.Transaction, 0, len(docs))
	for _, doc := range docs {
		txns = append(txns, toDomainTransaction(doc.ID, doc.Data))
	}
	sort.Slice(txns, func(i, j int) bool {
		return txns[i].CreatedAt.Before(txns[j].CreatedAt)
	})
	return txns, nil
}

// FindByGatewayRef locates the record sharing the gateway reference so a
// confirmation retry does not append a duplicate.
func (r *TransactionRepository) FindByGatewayRef(ctx context.Context, orderID string, gatewayRef string) (domain.Transaction, error) {
	if r == nil || r.base == nil {
		return domain.Transaction{}, errors.New("transaction repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Transaction{}, errors.New("order id is required")
	}
	ref := strings.TrimSpace(gatewayRef)
	if ref == "" {
		return domain.Transaction{}, errors.New("gateway ref is required")
	}
	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("orderId", "==", strings.TrimSpace(orderID)).
			Where("gatewayRef", "==", ref).
			Limit(1)
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	if len(docs) == 0 {
		return domain.Transaction{}, pfirestore.WrapError("transactions.byGatewayRef",
			status.Errorf(codes.NotFound, "no transaction for gateway ref %s", ref))
	}
	return toDomainTransaction(docs[0].ID, docs[0].Data), nil
}

type transactionDocument struct {
	OrderID     string    `firestore:"orderId"`
	Type        string    `firestore:"type"`
	Amount      int64     `firestore:"amount"`
	Currency    string    `firestore:"currency"`
	GatewayRef  string    `firestore:"gatewayRef"`
	Status      string    `firestore:"status"`
	Description string    `firestore:"description,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

func toDomainTransaction(id string, doc transactionDocument) domain.Transaction {
	return domain.Transaction{
		ID:          id,
		OrderID:     doc.OrderID,
		Type:        domain.TransactionType(doc.Type),
		Amount:      doc.Amount,
		Currency:    doc.Currency,
		GatewayRef:  doc.GatewayRef,
		Status:      doc.Status,
		Description: doc.Description,
		CreatedAt:   doc.CreatedAt,
	}
}

func fromDomainTransaction(txn domain.Transaction) transactionDocument {
	return transactionDocument{
		OrderID:     txn.OrderID,
		Type:        string(txn.Type),
		Amount:      txn.Amount,
		Currency:    txn.Currency,
		GatewayRef:  txn.GatewayRef,
		Status:      txn.Status,
		Description: txn.Description,
		CreatedAt:   txn.CreatedAt,
	}
}
