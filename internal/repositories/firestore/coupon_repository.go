package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/peakhost/api/internal/domain"
	pfirestore "github.com/peakhost/api/internal/platform/firestore"
	"github.com/peakhost/api/internal/repositories"
)

const couponCollection = "coupons"

// CouponRepository stores coupon definitions keyed by their normalised code.
// Redemption runs in a transaction so the usage bound holds under contention.
type CouponRepository struct {
	base     *pfirestore.BaseRepository[couponDocument]
	provider *pfirestore.Provider
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		base:     pfirestore.NewBaseRepository[couponDocument](provider, couponCollection, nil, nil),
		provider: provider,
	}, nil
}

// FindByCode loads the coupon by its code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	key := normaliseCouponCode(code)
	if key == "" {
		return domain.Coupon{}, errors.New("coupon code is required")
	}
	doc, err := r.base.Get(ctx, key)
	if err != nil {
		return domain.Coupon{}, err
	}
	return toDomainCoupon(doc.ID, doc.Data), nil
}

// Redeem increments the coupon usage count inside a transaction. A coupon
// already at its usage limit yields CouponErrorExhausted without a write.
func (r *CouponRepository) Redeem(ctx context.Context, code string, now time.Time) (domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	key := normaliseCouponCode(code)
	if key == "" {
		return domain.Coupon{}, errors.New("coupon code is required")
	}

	var redeemed domain.Coupon
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, key)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc couponDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore coupons decode %s: %w", key, err)
		}
		if doc.UsageLimit > 0 && doc.UsedCount >= doc.UsageLimit {
			return repositories.NewCouponError(repositories.CouponErrorExhausted,
				fmt.Sprintf("coupon %s usage limit %d reached", key, doc.UsageLimit), nil)
		}
		doc.UsedCount++
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		redeemed = toDomainCoupon(key, doc)
		return nil
	})
	if err != nil {
		var couponErr *repositories.CouponError
		if errors.As(err, &couponErr) {
			return domain.Coupon{}, couponErr
		}
		return domain.Coupon{}, pfirestore.WrapError("coupons.redeem", err)
	}
	return redeemed, nil
}

// Restore hands one usage back, flooring the count at zero. Restoring a coupon
// that was deleted in the meantime is a no-op.
func (r *CouponRepository) Restore(ctx context.Context, code string, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("coupon repository not initialised")
	}
	key := normaliseCouponCode(code)
	if key == "" {
		return errors.New("coupon code is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, key)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc couponDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore coupons decode %s: %w", key, err)
		}
		if doc.UsedCount <= 0 {
			return nil
		}
		doc.UsedCount--
		doc.UpdatedAt = now.UTC()
		return tx.Set(ref, doc)
	})
	if err != nil {
		wrapped := pfirestore.WrapError("coupons.restore", err)
		var repoErr *pfirestore.Error
		if errors.As(wrapped, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return wrapped
	}
	return nil
}

// Upsert writes the coupon definition.
func (r *CouponRepository) Upsert(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	key := normaliseCouponCode(coupon.Code)
	if key == "" {
		return domain.Coupon{}, errors.New("coupon code is required")
	}
	doc := fromDomainCoupon(coupon)
	if _, err := r.base.Set(ctx, key, doc); err != nil {
		return domain.Coupon{}, err
	}
	return toDomainCoupon(key, doc), nil
}

// redeemInTx applies the redemption rules against an already-open transaction.
// The order repository shares this when inserting an aggregate with a coupon.
func (r *CouponRepository) redeemInTx(ctx context.Context, tx *firestore.Transaction, code string, now time.Time) error {
	key := normaliseCouponCode(code)
	if key == "" {
		return errors.New("coupon code is required")
	}
	ref, err := r.base.DocumentRef(ctx, key)
	if err != nil {
		return err
	}
	snapshot, err := tx.Get(ref)
	if err != nil {
		return err
	}
	var doc couponDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return fmt.Errorf("firestore coupons decode %s: %w", key, err)
	}
	if doc.UsageLimit > 0 && doc.UsedCount >= doc.UsageLimit {
		return repositories.NewCouponError(repositories.CouponErrorExhausted,
			fmt.Sprintf("coupon %s usage limit %d reached", key, doc.UsageLimit), nil)
	}
	doc.UsedCount++
	doc.UpdatedAt = now.UTC()
	return tx.Set(ref, doc)
}

type couponDocument struct {
	Kind           string     `firestore:"kind"`
	Value          int64      `firestore:"value"`
	MinOrderAmount int64      `firestore:"minOrderAmount"`
	MaxDiscount    *int64     `firestore:"maxDiscount,omitempty"`
	UsageLimit     int64      `firestore:"usageLimit"`
	UsedCount      int64      `firestore:"usedCount"`
	StartsAt       *time.Time `firestore:"startsAt,omitempty"`
	EndsAt         *time.Time `firestore:"endsAt,omitempty"`
	CreatedAt      time.Time  `firestore:"createdAt"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
}

func toDomainCoupon(code string, doc couponDocument) domain.Coupon {
	return domain.Coupon{
		Code:           code,
		Kind:           domain.CouponKind(doc.Kind),
		Value:          doc.Value,
		MinOrderAmount: doc.MinOrderAmount,
		MaxDiscount:    doc.MaxDiscount,
		UsageLimit:     doc.UsageLimit,
		UsedCount:      doc.UsedCount,
		StartsAt:       doc.StartsAt,
		EndsAt:         doc.EndsAt,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

func fromDomainCoupon(coupon domain.Coupon) couponDocument {
	return couponDocument{
		Kind:           string(coupon.Kind),
		Value:          coupon.Value,
		MinOrderAmount: coupon.MinOrderAmount,
		MaxDiscount:    coupon.MaxDiscount,
		UsageLimit:     coupon.UsageLimit,
		UsedCount:      coupon.UsedCount,
		StartsAt:       coupon.StartsAt,
		EndsAt:         coupon.EndsAt,
		CreatedAt:      coupon.CreatedAt,
		UpdatedAt:      coupon.UpdatedAt,
	}
}

func normaliseCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
