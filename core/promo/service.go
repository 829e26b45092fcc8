package promo

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

var (
	// errors
	ErrNotFound         = errors.New("invalid promo code")
	ErrCodeExists       = errors.New("a promo code with this code already exists")
	ErrNotStarted       = errors.New("promo code is not active yet")
	ErrExpired          = errors.New("promo code has expired")
	ErrUsageExhausted   = errors.New("promo code usage limit reached")
	ErrPerUserExhausted = errors.New("you have already used this promo code")
	ErrBelowMinimum     = errors.New("order subtotal is below the promo code minimum")
	ErrNotApplicable    = errors.New("promo code does not apply to these items")
	ErrRedemptionExists = errors.New("promo code already redeemed for this order")
	ErrNoRedemption     = errors.New("redemption not found")

	errPercentageTooHigh = errors.New("a percentage cannot exceed 100%")
	errExpiryBeforeStart = errors.New("expires_at must be after starts_at")
)

// IsRejection reports whether err explains why a promo code cannot be applied.
func IsRejection(err error) bool {
	switch errors.Cause(err) {
	case ErrNotFound, ErrNotStarted, ErrExpired, ErrUsageExhausted, ErrPerUserExhausted, ErrBelowMinimum, ErrNotApplicable:
		return true
	}
	return false
}

type (
	Repository interface {
		CreatePromo(ctx context.Context, p PromoCode) (PromoCode, error)
		GetPromo(ctx context.Context, filter GetFilter) (PromoCode, error)
		QueryPromos(ctx context.Context, filter *QueryFilter) ([]PromoCode, error)
		UpdatePromo(ctx context.Context, p PromoCode) (PromoCode, error)
		// IncrementUsage increments PromoCode.UsedCount only while below its usage limit, else fails with ErrUsageExhausted.
		IncrementUsage(ctx context.Context, id string) error
		CountRedemptions(ctx context.Context, promoID, userID string) (int, error)
		// CreateRedemption fails with ErrRedemptionExists if the order already redeemed the code.
		CreateRedemption(ctx context.Context, r Redemption) (Redemption, error)
		// FindRedemption fails with ErrNoRedemption if the order did not redeem the code.
		FindRedemption(ctx context.Context, promoID, orderID string) (Redemption, error)
		DeleteRedemption(ctx context.Context, id string) error
	}

	Service struct {
		repo   Repository
		events core.EventPublisher
		logger core.Logger
		now    func() time.Time // mockable
	}
)

func NewService(repo Repository, events core.EventPublisher, logger core.Logger) *Service {
	return &Service{repo: repo, events: events, logger: logger, now: time.Now}
}

func (svc *Service) Create(ctx context.Context, actor user.Actor, np NewPromoCode) (PromoCode, error) {
	if !actor.IsAdmin() {
		return PromoCode{}, core.ErrPermissionDenied
	}
	if _, err := svc.repo.GetPromo(ctx, GetFilter{TenantID: actor.TenantID, Code: np.Code}); err == nil {
		return PromoCode{}, core.NewFieldError("code", ErrCodeExists)
	} else if errors.Cause(err) != ErrNotFound {
		return PromoCode{}, errors.Wrap(err, "checking code")
	}

	p := PromoCode{
		TenantID:     actor.TenantID,
		Code:         np.Code,
		Kind:         np.Kind,
		Value:        np.Value,
		MinSubtotal:  np.MinSubtotal,
		MaxDiscount:  np.MaxDiscount,
		UsageLimit:   np.UsageLimit,
		PerUserLimit: np.PerUserLimit,
		CourseIDs:    np.CourseIDs,
		StartsAt:     utcPtr(np.StartsAt),
		ExpiresAt:    utcPtr(np.ExpiresAt),
		IsActive:     true,
		CreatedAt:    svc.now().UTC(),
	}
	if p.CourseIDs == nil {
		p.CourseIDs = []string{}
	}
	p, err := svc.repo.CreatePromo(ctx, p)
	if errors.Cause(err) == ErrCodeExists {
		return PromoCode{}, core.NewFieldError("code", ErrCodeExists)
	}
	return p, errors.Wrap(err, "creating promo code")
}

func (svc *Service) Get(ctx context.Context, tenantID, code string) (PromoCode, error) {
	code = NormalizeCode(code)
	if code == "" {
		return PromoCode{}, ErrNotFound
	}
	return svc.repo.GetPromo(ctx, GetFilter{TenantID: tenantID, Code: code})
}

func (svc *Service) Query(ctx context.Context, actor user.Actor, filter *QueryFilter) ([]PromoCode, error) {
	if !actor.IsAdmin() {
		return nil, core.ErrPermissionDenied
	}
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.TenantID = actor.TenantID
	filter.Search = core.CleanString(filter.Search)
	return svc.repo.QueryPromos(ctx, filter)
}

func (svc *Service) Deactivate(ctx context.Context, actor user.Actor, code string) (PromoCode, error) {
	if !actor.IsAdmin() {
		return PromoCode{}, core.ErrPermissionDenied
	}
	p, err := svc.Get(ctx, actor.TenantID, code)
	if err != nil {
		return PromoCode{}, err
	}
	if !p.IsActive {
		return p, nil
	}
	p.IsActive = false
	p, err = svc.repo.UpdatePromo(ctx, p)
	return p, errors.Wrap(err, "deactivating promo code")
}

// Validate checks that a promo code applies to the lines of a user, and computes its discount.
func (svc *Service) Validate(ctx context.Context, tenantID, code, userID string, lines []Line, subtotal int64, now time.Time) (Discount, error) {
	p, err := svc.Get(ctx, tenantID, code)
	if err != nil {
		return Discount{}, err
	}
	if !p.IsActive {
		return Discount{}, ErrNotFound
	}
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return Discount{}, ErrNotStarted
	}
	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		return Discount{}, ErrExpired
	}
	if p.UsageLimit > 0 && p.UsedCount >= p.UsageLimit {
		return Discount{}, ErrUsageExhausted
	}
	if p.PerUserLimit > 0 {
		used, err := svc.repo.CountRedemptions(ctx, p.ID, userID)
		if err != nil {
			return Discount{}, errors.Wrap(err, "counting redemptions")
		}
		if used >= p.PerUserLimit {
			return Discount{}, ErrPerUserExhausted
		}
	}
	if subtotal < p.MinSubtotal {
		return Discount{}, ErrBelowMinimum
	}
	eligible := p.eligibleSubtotal(lines, subtotal)
	if eligible <= 0 {
		return Discount{}, ErrNotApplicable
	}
	return Discount{PromoID: p.ID, Code: p.Code, Amount: p.discount(eligible)}, nil
}

// Redeem records the use of a promo code by a paid order; it is idempotent per order.
func (svc *Service) Redeem(ctx context.Context, promoID, userID, orderID string) error {
	if _, err := svc.repo.FindRedemption(ctx, promoID, orderID); err == nil {
		return nil
	} else if errors.Cause(err) != ErrNoRedemption {
		return errors.Wrap(err, "finding redemption")
	}

	// the redemption is claimed first so that losing a race does not consume a use
	r, err := svc.repo.CreateRedemption(ctx, Redemption{
		PromoID:    promoID,
		UserID:     userID,
		OrderID:    orderID,
		RedeemedAt: svc.now().UTC(),
	})
	if err != nil {
		if errors.Cause(err) == ErrRedemptionExists {
			return nil
		}
		return errors.Wrap(err, "creating redemption")
	}
	if err = svc.repo.IncrementUsage(ctx, promoID); err != nil {
		if derr := svc.repo.DeleteRedemption(ctx, r.ID); derr != nil {
			svc.logger.Error(fmt.Sprintf("deleting redemption %s: %v", r.ID, derr), derr)
		}
		if errors.Cause(err) == ErrUsageExhausted {
			return ErrUsageExhausted
		}
		return errors.Wrap(err, "incrementing usage")
	}

	p, err := svc.repo.GetPromo(ctx, GetFilter{ID: promoID})
	if err != nil {
		return errors.Wrap(err, "getting promo code")
	}
	if err = svc.events.Publish(ctx, core.NewEvent(EventRedeemed, p.TenantID, r)); err != nil {
		svc.logger.Warn(fmt.Sprintf("publishing %s: %v", EventRedeemed, err), err)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
