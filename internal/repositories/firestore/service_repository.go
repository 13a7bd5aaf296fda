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
	"github.com/peakhost/api/internal/platform/pagination"

	pfirestore "github.com/peakhost/api/internal/platform/firestore"
)

const serviceCollection = "services"

// ServiceRepository stores provisioned subscriptions.
type ServiceRepository struct {
	base     *pfirestore.BaseRepository[serviceDocument]
	provider *pfirestore.Provider
}

// NewServiceRepository constructs a Firestore-backed service repository.
func NewServiceRepository(provider *pfirestore.Provider) (*ServiceRepository, error) {
	if provider == nil {
		return nil, errors.New("service repository requires firestore provider")
	}
	return &ServiceRepository{
		base:     pfirestore.NewBaseRepository[serviceDocument](provider, serviceCollection, nil, nil),
		provider: provider,
	}, nil
}

// Insert creates the service record. Re-inserting an ID yields a conflict.
func (r *ServiceRepository) Insert(ctx context.Context, svc domain.Service) (domain.Service, error) {
	if r == nil || r.base == nil {
		return domain.Service{}, errors.New("service repository not initialised")
	}
	if strings.TrimSpace(svc.ID) == "" {
		return domain.Service{}, errors.New("service id is required")
	}
	doc := fromDomainService(svc)
	if _, err := r.base.Create(ctx, svc.ID, doc); err != nil {
		return domain.Service{}, err
	}
	return toDomainService(svc.ID, doc), nil
}

// FindByID loads the service by its identifier.
func (r *ServiceRepository) FindByID(ctx context.Context, serviceID string) (domain.Service, error) {
	if r == nil || r.base == nil {
		return domain.Service{}, errors.New("service repository not initialised")
	}
	if strings.TrimSpace(serviceID) == "" {
		return domain.Service{}, errors.New("service id is required")
	}
	doc, err := r.base.Get(ctx, serviceID)
	if err != nil {
		return domain.Service{}, err
	}
	return toDomainService(doc.ID, doc.Data), nil
}

// FindByOrderItem locates the service created for a specific order item.
// Fulfillment uses this for its idempotency check.
func (r *ServiceRepository) FindByOrderItem(ctx context.Context, orderID string, itemRef string) (domain.Service, error) {
	if r == nil || r.base == nil {
		return domain.Service{}, errors.New("service repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Service{}, errors.New("order id is required")
	}
	if strings.TrimSpace(itemRef) == "" {
		return domain.Service{}, errors.New("item ref is required")
	}
	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("orderId", "==", strings.TrimSpace(orderID)).
			Where("itemRef", "==", strings.TrimSpace(itemRef)).
			Limit(1)
	})
	if err != nil {
		return domain.Service{}, err
	}
	if len(docs) == 0 {
		return domain.Service{}, pfirestore.WrapError("services.byOrderItem",
			status.Errorf(codes.NotFound, "no service for order %s item %s", orderID, itemRef))
	}
	return toDomainService(docs[0].ID, docs[0].Data), nil
}

// ListByUser returns the user's services, newest first.
func (r *ServiceRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Service], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Service]{}, errors.New("service repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.CursorPage[domain.Service]{}, errors.New("user id is required")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Service]{}, err
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.
			Where("userId", "==", strings.TrimSpace(userID)).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if after, ok := decodeOrderCursor(cursor); ok {
			query = query.StartAfter(after.createdAt, after.orderID)
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Service]{}, err
	}

	page := domain.CursorPage[domain.Service]{}
	for i, doc := range docs {
		if i >= pageSize {
			break
		}
		page.Items = append(page.Items, toDomainService(doc.ID, doc.Data))
	}
	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{
			last.Data.CreatedAt.UTC().Format(time.RFC3339Nano),
			last.ID,
		}})
		if err != nil {
			return domain.CursorPage[domain.Service]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// UpdateStatus moves the service lifecycle forward.
func (r *ServiceRepository) UpdateStatus(ctx context.Context, serviceID string, serviceStatus domain.ServiceStatus, activatedAt *time.Time, updatedAt time.Time) (domain.Service, error) {
	if r == nil || r.base == nil {
		return domain.Service{}, errors.New("service repository not initialised")
	}
	if strings.TrimSpace(serviceID) == "" {
		return domain.Service{}, errors.New("service id is required")
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(serviceStatus)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
	if activatedAt != nil {
		updates = append(updates, firestore.Update{Path: "activatedAt", Value: activatedAt.UTC()})
	}
	if _, err := r.base.Update(ctx, serviceID, updates); err != nil {
		return domain.Service{}, err
	}
	return r.FindByID(ctx, serviceID)
}

type serviceDocument struct {
	OrderID     string     `firestore:"orderId"`
	UserID      string     `firestore:"userId"`
	ItemRef     string     `firestore:"itemRef"`
	ProductRef  string     `firestore:"productRef"`
	ProductType string     `firestore:"productType"`
	DomainName  *string    `firestore:"domainName,omitempty"`
	Status      string     `firestore:"status"`
	NextDueAt   *time.Time `firestore:"nextDueAt,omitempty"`
	ActivatedAt *time.Time `firestore:"activatedAt,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
}

func toDomainService(id string, doc serviceDocument) domain.Service {
	return domain.Service{
		ID:          id,
		OrderID:     doc.OrderID,
		UserID:      doc.UserID,
		ItemRef:     doc.ItemRef,
		ProductRef:  doc.ProductRef,
		ProductType: domain.ProductType(doc.ProductType),
		DomainName:  doc.DomainName,
		Status:      domain.ServiceStatus(doc.Status),
		NextDueAt:   doc.NextDueAt,
		ActivatedAt: doc.ActivatedAt,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

func fromDomainService(svc domain.Service) serviceDocument {
	return serviceDocument{
		OrderID:     svc.OrderID,
		UserID:      svc.UserID,
		ItemRef:     svc.ItemRef,
		ProductRef:  svc.ProductRef,
		ProductType: string(svc.ProductType),
		DomainName:  svc.DomainName,
		Status:      string(svc.Status),
		NextDueAt:   svc.NextDueAt,
		ActivatedAt: svc.ActivatedAt,
		CreatedAt:   svc.CreatedAt,
		UpdatedAt:   svc.UpdatedAt,
	}
}
