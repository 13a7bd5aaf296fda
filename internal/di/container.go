package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/peakhost/api/internal/payments"
	"github.com/peakhost/api/internal/repositories"
	"github.com/peakhost/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Pricing        services.PricingService
	Accounts       services.AccountService
	Orders         services.OrderService
	Payments       services.PaymentService
	Reconciliation services.ReconciliationService
	Fulfillment    services.FulfillmentService
	System         services.SystemService
}

// Deps carries the infrastructure the container wires into the service layer.
// Gateways and Events are optional: without a gateway the payment coordinator
// is not built, and without a publisher lifecycle events are simply dropped.
type Deps struct {
	Registry       repositories.Registry
	Gateways       *payments.Manager
	Events         services.OrderEventPublisher
	Build          services.BuildInfo
	InvoiceDueDays int
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories and services for runtime use.
type Container struct {
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides the
// Firestore-backed registry, while tests can supply in-memory registries.
func NewContainer(deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(deps Deps) (Services, error) {
	var svc Services
	reg := deps.Registry

	pricingSvc, err := services.NewPricingService(services.PricingServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   deps.Clock,
		Logger:  deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing service: %w", err)
	}
	svc.Pricing = pricingSvc

	accountSvc, err := services.NewAccountService(services.AccountServiceDeps{
		Users:  reg.Users(),
		Clock:  deps.Clock,
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build account service: %w", err)
	}
	svc.Accounts = accountSvc

	fulfillmentSvc, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orders:       reg.Orders(),
		Invoices:     reg.Invoices(),
		Services:     reg.Services(),
		Transactions: reg.Transactions(),
		Events:       deps.Events,
		Clock:        deps.Clock,
		Logger:       deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillmentSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:         reg.Orders(),
		Invoices:       reg.Invoices(),
		Coupons:        reg.Coupons(),
		Counters:       reg.Counters(),
		Pricing:        svc.Pricing,
		Accounts:       svc.Accounts,
		Events:         deps.Events,
		Clock:          deps.Clock,
		Logger:         deps.Logger,
		InvoiceDueDays: deps.InvoiceDueDays,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if deps.Gateways != nil {
		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Orders:       reg.Orders(),
			Transactions: reg.Transactions(),
			Gateways:     deps.Gateways,
			Orchestrator: svc.Orders,
			Fulfillment:  svc.Fulfillment,
			Clock:        deps.Clock,
			Logger:       deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment service: %w", err)
		}
		svc.Payments = paymentSvc
	}

	reconciliationSvc, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Orders:       reg.Orders(),
		Coupons:      reg.Coupons(),
		Invoices:     reg.Invoices(),
		Orchestrator: svc.Orders,
		Fulfillment:  svc.Fulfillment,
		Clock:        deps.Clock,
		Logger:       deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconciliation service: %w", err)
	}
	svc.Reconciliation = reconciliationSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            deps.Clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
