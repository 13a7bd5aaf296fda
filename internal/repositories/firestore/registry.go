package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/peakhost/api/internal/platform/firestore"
	"github.com/peakhost/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry interface.
type Registry struct {
	provider *pfirestore.Provider

	users        *UserRepository
	coupons      *CouponRepository
	orders       *OrderRepository
	invoices     *InvoiceRepository
	transactions *TransactionRepository
	services     *ServiceRepository
	counters     *CounterRepository
	health       repositories.HealthRepository
}

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository overrides the health repository used by the registry.
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		if health != nil {
			r.health = health
		}
	}
}

// NewRegistry constructs all Firestore-backed repositories over one provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider, coupons)
	if err != nil {
		return nil, err
	}
	invoices, err := NewInvoiceRepository(provider)
	if err != nil {
		return nil, err
	}
	transactions, err := NewTransactionRepository(provider)
	if err != nil {
		return nil, err
	}
	services, err := NewServiceRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	registry := &Registry{
		provider:     provider,
		users:        users,
		coupons:      coupons,
		orders:       orders,
		invoices:     invoices,
		transactions: transactions,
		services:     services,
		counters:     counters,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}

	if registry.health == nil {
		health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
			{
				Name: "firestore",
				Check: func(ctx context.Context) error {
					_, err := provider.Client(ctx)
					return err
				},
			},
		})
		if err != nil {
			return nil, err
		}
		registry.health = health
	}
	return registry, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// RunInTx groups repository calls in one unit. The Firestore repositories run
// their own transactions for their guarded writes, so this only provides the
// seam other backends hook into.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction func is required")
	}
	return fn(ctx)
}

// Users returns the account repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// Coupons returns the coupon repository.
func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Invoices returns the invoice repository.
func (r *Registry) Invoices() repositories.InvoiceRepository { return r.invoices }

// Transactions returns the payment record repository.
func (r *Registry) Transactions() repositories.TransactionRepository { return r.transactions }

// Services returns the subscription repository.
func (r *Registry) Services() repositories.ServiceRepository { return r.services }

// Counters returns the sequence counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the dependency health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

var _ repositories.Registry = (*Registry)(nil)
