package promo

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academia/core"
)

// Kinds
const (
	KindPercentage = "percentage"
	KindFlat       = "flat"
)

const EventRedeemed = "promo.redeemed"

type (
	PromoCode struct {
		ID           string     `json:"id"`
		TenantID     string     `json:"tenant_id"`
		Code         string     `json:"code"`
		Kind         string     `json:"kind"`
		Value        int64      `json:"value"`        // bps for percentage codes, cents for flat ones
		MinSubtotal  int64      `json:"min_subtotal"` // cents
		MaxDiscount  int64      `json:"max_discount"` // cents; 0: none
		UsageLimit   int        `json:"usage_limit"`  // 0: unlimited
		UsedCount    int        `json:"used_count"`
		PerUserLimit int        `json:"per_user_limit"` // 0: unlimited
		CourseIDs    []string   `json:"course_ids"`     // restricts the code to these courses
		StartsAt     *time.Time `json:"starts_at"`      // UTC
		ExpiresAt    *time.Time `json:"expires_at"`     // UTC
		IsActive     bool       `json:"is_active"`
		CreatedAt    time.Time  `json:"created_at"` // UTC
	}

	Redemption struct {
		ID         string    `json:"id"`
		PromoID    string    `json:"promo_id"`
		UserID     string    `json:"user_id"`
		OrderID    string    `json:"order_id"`
		RedeemedAt time.Time `json:"redeemed_at"` // UTC
	}

	// Line is a priced cart line a promo code may apply to.
	Line struct {
		CourseID string // empty for products
		Amount   int64  // unit price x quantity, cents
	}

	Discount struct {
		PromoID string `json:"promo_id"`
		Code    string `json:"code"`
		Amount  int64  `json:"amount"` // cents
	}
)

// eligibleSubtotal is the part of the lines the code applies to.
func (p PromoCode) eligibleSubtotal(lines []Line, subtotal int64) int64 {
	if len(p.CourseIDs) == 0 {
		return subtotal
	}
	restricted := make(map[string]bool, len(p.CourseIDs))
	for _, id := range p.CourseIDs {
		restricted[id] = true
	}
	var eligible int64
	for _, l := range lines {
		if l.CourseID != "" && restricted[l.CourseID] {
			eligible += l.Amount
		}
	}
	return eligible
}

// discount computes the discount on the eligible subtotal, capped by MaxDiscount and the eligible subtotal.
func (p PromoCode) discount(eligible int64) int64 {
	if eligible <= 0 {
		return 0
	}
	var amount int64
	switch p.Kind {
	case KindPercentage:
		amount = core.PercentOf(eligible, p.Value)
	case KindFlat:
		amount = p.Value
	}
	if p.MaxDiscount > 0 {
		amount = core.MinInt64(amount, p.MaxDiscount)
	}
	return core.MinInt64(amount, eligible)
}

type NewPromoCode struct {
	Code         string     `json:"code" validate:"required,min=3,max=32,alphanum"`
	Kind         string     `json:"kind" validate:"required,oneof=percentage flat"`
	Value        int64      `json:"value" validate:"min=1"`
	MinSubtotal  int64      `json:"min_subtotal" validate:"min=0"`
	MaxDiscount  int64      `json:"max_discount" validate:"min=0"`
	UsageLimit   int        `json:"usage_limit" validate:"min=0"`
	PerUserLimit int        `json:"per_user_limit" validate:"min=0"`
	CourseIDs    []string   `json:"course_ids"`
	StartsAt     *time.Time `json:"starts_at"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

// NormalizeCode returns the canonical, upper case form of a promo code.
func NormalizeCode(code string) string {
	return strings.ToUpper(core.CleanString(code))
}

func (np *NewPromoCode) Validate(validate *validator.Validate) error {
	np.Code = NormalizeCode(np.Code)
	if err := validate.Struct(np); err != nil {
		return err
	}
	if np.Kind == KindPercentage && np.Value > core.BpsDenominator {
		return core.NewFieldError("value", errPercentageTooHigh)
	}
	if np.StartsAt != nil && np.ExpiresAt != nil && !np.ExpiresAt.After(*np.StartsAt) {
		return core.NewFieldError("expires_at", errExpiryBeforeStart)
	}
	return nil
}

type GetFilter struct {
	ID       string
	TenantID string // required with Code
	Code     string
}

type QueryFilter struct {
	TenantID string `query:"-"`
	Search   string `query:"search"`
	IsActive *bool  `query:"is_active"`
}
