package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/peakhost/api/internal/domain"
)

func newPricingServiceForTest(t *testing.T, coupons *stubCouponRepo, clock func() time.Time) PricingService {
	t.Helper()
	if coupons == nil {
		coupons = &stubCouponRepo{}
	}
	svc, err := NewPricingService(PricingServiceDeps{Coupons: coupons, Clock: clock})
	if err != nil {
		t.Fatalf("NewPricingService: %v", err)
	}
	return svc
}

func hostingLine(unitPrice int64, qty int) QuoteLine {
	return QuoteLine{
		ProductRef:   "plan-basic",
		ProductType:  domain.ProductTypeHosting,
		Name:         "Basic Hosting",
		BillingCycle: domain.BillingCycleMonthly,
		Quantity:     qty,
		UnitPrice:    unitPrice,
	}
}

func TestQuoteComputesLineTotals(t *testing.T) {
	svc := newPricingServiceForTest(t, nil, nil)

	quote, err := svc.Quote(context.Background(), QuoteCommand{
		Lines:    []QuoteLine{hostingLine(2500, 3)},
		Currency: "usd",
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if quote.Totals.Subtotal != 7500 || quote.Totals.Total != 7500 || quote.Totals.Discount != 0 {
		t.Fatalf("unexpected totals %+v", quote.Totals)
	}
	if quote.Currency != "USD" {
		t.Fatalf("currency not normalised: %q", quote.Currency)
	}
	if len(quote.Lines) != 1 || quote.Lines[0].Total != 7500 {
		t.Fatalf("unexpected lines %+v", quote.Lines)
	}
}

func TestQuoteAppliesPercentageCouponWithCap(t *testing.T) {
	maxDiscount := int64(500)
	coupons := &stubCouponRepo{
		findFn: func(_ context.Context, code string) (domain.Coupon, error) {
			if code != "SAVE20" {
				t.Fatalf("unexpected lookup %q", code)
			}
			return domain.Coupon{
				Code:        "SAVE20",
				Kind:        domain.CouponKindPercentage,
				Value:       20,
				MaxDiscount: &maxDiscount,
				UsageLimit:  100,
			}, nil
		},
	}
	svc := newPricingServiceForTest(t, coupons, nil)

	quote, err := svc.Quote(context.Background(), QuoteCommand{
		Lines:      []QuoteLine{hostingLine(10000, 1)},
		CouponCode: "save20",
		Currency:   "USD",
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	// 20% of 10000 is 2000, clamped to the 500 cap.
	if quote.Totals.Discount != 500 || quote.Totals.Total != 9500 {
		t.Fatalf("unexpected totals %+v", quote.Totals)
	}
	if quote.Coupon == nil || quote.Coupon.Code != "SAVE20" {
		t.Fatalf("coupon not attached: %+v", quote.Coupon)
	}
}

func TestQuoteFixedCouponNeverExceedsSubtotal(t *testing.T) {
	coupons := &stubCouponRepo{
		findFn: func(context.Context, string) (domain.Coupon, error) {
			return domain.Coupon{Code: "BIG", Kind: domain.CouponKindFixed, Value: 9999, UsageLimit: 10}, nil
		},
	}
	svc := newPricingServiceForTest(t, coupons, nil)

	quote, err := svc.Quote(context.Background(), QuoteCommand{
		Lines:      []QuoteLine{hostingLine(1000, 1)},
		CouponCode: "BIG",
		Currency:   "USD",
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if quote.Totals.Discount != 1000 || quote.Totals.Total != 0 {
		t.Fatalf("discount should clamp to subtotal, got %+v", quote.Totals)
	}
}

func TestQuoteCouponOutsideWindow(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	ended := now.Add(-24 * time.Hour)
	coupons := &stubCouponRepo{
		findFn: func(context.Context, string) (domain.Coupon, error) {
			return domain.Coupon{Code: "OLD", Kind: domain.CouponKindFixed, Value: 100, UsageLimit: 10, EndsAt: &ended}, nil
		},
	}
	svc := newPricingServiceForTest(t, coupons, fixedClock(now))

	if _, err := svc.Quote(context.Background(), QuoteCommand{
		Lines:      []QuoteLine{hostingLine(1000, 1)},
		CouponCode: "OLD",
		Currency:   "USD",
	}); !errors.Is(err, ErrCouponExpired) {
		t.Fatalf("expected ErrCouponExpired, got %v", err)
	}
}

func TestQuoteCouponExhausted(t *testing.T) {
	coupons := &stubCouponRepo{
		findFn: func(context.Context, string) (domain.Coupon, error) {
			return domain.Coupon{Code: "GONE", Kind: domain.CouponKindFixed, Value: 100, UsageLimit: 5, UsedCount: 5}, nil
		},
	}
	svc := newPricingServiceForTest(t, coupons, nil)

	if _, err := svc.Quote(context.Background(), QuoteCommand{
		Lines:      []QuoteLine{hostingLine(1000, 1)},
		CouponCode: "GONE",
		Currency:   "USD",
	}); !errors.Is(err, ErrCouponExhausted) {
		t.Fatalf("expected ErrCouponExhausted, got %v", err)
	}
}

func TestQuoteCouponMinimumNotMet(t *testing.T) {
	coupons := &stubCouponRepo{
		findFn: func(context.Context, string) (domain.Coupon, error) {
			return domain.Coupon{Code: "MIN50", Kind: domain.CouponKindFixed, Value: 100, MinOrderAmount: 5000, UsageLimit: 10}, nil
		},
	}
	svc := newPricingServiceForTest(t, coupons, nil)

	if _, err := svc.Quote(context.Background(), QuoteCommand{
		Lines:      []QuoteLine{hostingLine(1000, 1)},
		CouponCode: "MIN50",
		Currency:   "USD",
	}); !errors.Is(err, ErrCouponMinimumNotMet) {
		t.Fatalf("expected ErrCouponMinimumNotMet, got %v", err)
	}
}

func TestQuoteUnknownCoupon(t *testing.T) {
	coupons := &stubCouponRepo{
		findFn: func(context.Context, string) (domain.Coupon, error) {
			return domain.Coupon{}, repoError{notFound: true}
		},
	}
	svc := newPricingServiceForTest(t, coupons, nil)

	if _, err := svc.Quote(context.Background(), QuoteCommand{
		Lines:      []QuoteLine{hostingLine(1000, 1)},
		CouponCode: "NOPE",
		Currency:   "USD",
	}); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound, got %v", err)
	}
}

func TestQuoteValidatesInput(t *testing.T) {
	svc := newPricingServiceForTest(t, nil, nil)

	cases := map[string]QuoteCommand{
		"no lines":      {Currency: "USD"},
		"zero quantity": {Lines: []QuoteLine{func() QuoteLine { l := hostingLine(100, 1); l.Quantity = 0; return l }()}, Currency: "USD"},
		"bad currency":  {Lines: []QuoteLine{hostingLine(100, 1)}, Currency: "DOLLARS"},
		"domain product without domain name": {
			Lines:    []QuoteLine{{ProductRef: "dom-com", ProductType: domain.ProductTypeDomain, Name: ".com registration", BillingCycle: domain.BillingCycleAnnually, Quantity: 1, UnitPrice: 1200}},
			Currency: "USD",
		},
	}
	for name, cmd := range cases {
		if _, err := svc.Quote(context.Background(), cmd); !errors.Is(err, ErrQuoteInvalidInput) {
			t.Fatalf("%s: expected ErrQuoteInvalidInput, got %v", name, err)
		}
	}
}
