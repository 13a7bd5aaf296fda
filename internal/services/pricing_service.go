package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/currency"

	domain "github.com/peakhost/api/internal/domain"
	"github.com/peakhost/api/internal/repositories"
)

var (
	// ErrQuoteInvalidInput indicates the quote request was malformed.
	ErrQuoteInvalidInput = errors.New("pricing: invalid input")
	// ErrCouponNotFound indicates no coupon exists for the supplied code.
	ErrCouponNotFound = errors.New("pricing: coupon not found")
	// ErrCouponExpired indicates the coupon is outside its validity window.
	ErrCouponExpired = errors.New("pricing: coupon expired")
	// ErrCouponExhausted indicates the coupon has no remaining uses.
	ErrCouponExhausted = errors.New("pricing: coupon exhausted")
	// ErrCouponMinimumNotMet indicates the subtotal is below the coupon minimum.
	ErrCouponMinimumNotMet = errors.New("pricing: coupon minimum not met")
	// ErrPricingUnavailable indicates pricing dependencies are unavailable.
	ErrPricingUnavailable = errors.New("pricing: unavailable")
)

// PricingServiceDeps wires the dependencies required by the pricing service.
type PricingServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type pricingService struct {
	coupons repositories.CouponRepository
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewPricingService constructs a PricingService validating required dependencies.
func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("pricing service: coupon repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &pricingService{
		coupons: deps.Coupons,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Quote prices the lines and applies the coupon rules without mutating state.
func (s *pricingService) Quote(ctx context.Context, cmd QuoteCommand) (Quote, error) {
	if s == nil || s.coupons == nil {
		return Quote{}, ErrPricingUnavailable
	}

	code, err := normaliseQuoteCommand(&cmd)
	if err != nil {
		return Quote{}, err
	}

	items := make([]OrderItem, 0, len(cmd.Lines))
	var subtotal int64
	for _, line := range cmd.Lines {
		lineTotal := line.UnitPrice * int64(line.Quantity)
		subtotal += lineTotal
		items = append(items, OrderItem{
			ProductRef:   line.ProductRef,
			ProductType:  line.ProductType,
			Name:         line.Name,
			DomainName:   line.DomainName,
			BillingCycle: line.BillingCycle,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			Total:        lineTotal,
			Status:       domain.OrderStatusPending,
		})
	}

	quote := Quote{
		Lines:    items,
		Currency: cmd.Currency,
		Totals:   OrderTotals{Subtotal: subtotal, Total: subtotal},
	}
	if code == "" {
		return quote, nil
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return Quote{}, s.translateCouponError(err)
	}

	now := s.now()
	if err := validateCouponWindow(coupon, now); err != nil {
		return Quote{}, err
	}
	if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
		return Quote{}, ErrCouponExhausted
	}
	if coupon.MinOrderAmount > 0 && subtotal < coupon.MinOrderAmount {
		return Quote{}, ErrCouponMinimumNotMet
	}

	discount := couponDiscount(coupon, subtotal)
	quote.Totals.Discount = discount
	quote.Totals.Total = subtotal - discount + quote.Totals.Tax
	quote.Coupon = &coupon

	s.logger(ctx, "pricing.quote.coupon_applied", map[string]any{
		"coupon":   coupon.Code,
		"discount": discount,
		"subtotal": subtotal,
	})
	return quote, nil
}

func normaliseQuoteCommand(cmd *QuoteCommand) (string, error) {
	if len(cmd.Lines) == 0 {
		return "", ErrQuoteInvalidInput
	}
	for i := range cmd.Lines {
		line := &cmd.Lines[i]
		line.ProductRef = strings.TrimSpace(line.ProductRef)
		line.Name = strings.TrimSpace(line.Name)
		if line.ProductRef == "" || line.Name == "" {
			return "", ErrQuoteInvalidInput
		}
		if line.Quantity <= 0 || line.UnitPrice < 0 {
			return "", ErrQuoteInvalidInput
		}
		if !domain.ValidProductType(line.ProductType) {
			return "", ErrQuoteInvalidInput
		}
		if !domain.ValidBillingCycle(line.BillingCycle) {
			return "", ErrQuoteInvalidInput
		}
		if line.ProductType == domain.ProductTypeDomain {
			if line.DomainName == nil || strings.TrimSpace(*line.DomainName) == "" {
				return "", ErrQuoteInvalidInput
			}
		}
	}

	cmd.Currency = strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if cmd.Currency == "" {
		return "", ErrQuoteInvalidInput
	}
	if _, err := currency.ParseISO(cmd.Currency); err != nil {
		return "", ErrQuoteInvalidInput
	}

	return strings.ToUpper(strings.TrimSpace(cmd.CouponCode)), nil
}

func validateCouponWindow(coupon Coupon, now time.Time) error {
	if coupon.StartsAt != nil && now.Before(coupon.StartsAt.UTC()) {
		return ErrCouponExpired
	}
	if coupon.EndsAt != nil && now.After(coupon.EndsAt.UTC()) {
		return ErrCouponExpired
	}
	return nil
}

// couponDiscount computes the discount in minor units, clamped to the coupon
// cap and never exceeding the subtotal.
func couponDiscount(coupon Coupon, subtotal int64) int64 {
	var discount int64
	switch coupon.Kind {
	case domain.CouponKindPercentage:
		discount = subtotal * coupon.Value / 100
	case domain.CouponKindFixed:
		discount = coupon.Value
	default:
		return 0
	}
	if coupon.MaxDiscount != nil && discount > *coupon.MaxDiscount {
		discount = *coupon.MaxDiscount
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

func (s *pricingService) translateCouponError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return ErrCouponNotFound
		}
		if repoErr.IsUnavailable() {
			return ErrPricingUnavailable
		}
	}
	return err
}
