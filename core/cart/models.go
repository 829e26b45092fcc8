package cart

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academia/core"
)

// Item kinds
const (
	KindCourse  = "course"
	KindProduct = "product"
)

// MaxQuantity is the most units of a product a cart line may hold.
const MaxQuantity = 1000

type (
	Cart struct {
		UserID    string    `json:"user_id"`
		TenantID  string    `json:"tenant_id"`
		Items     []Item    `json:"items"`
		PromoCode string    `json:"promo_code,omitempty"`
		UpdatedAt time.Time `json:"updated_at"` // UTC
	}

	// Item prices are for display only: lines are re-priced from the catalogue when quoted.
	Item struct {
		Kind      string `json:"kind"`
		RefID     string `json:"ref_id"`
		Title     string `json:"title"`
		UnitPrice int64  `json:"unit_price"` // cents
		Quantity  int    `json:"quantity"`
	}
)

func (c Cart) IsEmpty() bool { return len(c.Items) == 0 }

func (c Cart) find(refID string) int {
	for i, it := range c.Items {
		if it.RefID == refID {
			return i
		}
	}
	return -1
}

type (
	// Line is a cart item priced from the catalogue.
	Line struct {
		Kind      string `json:"kind"`
		RefID     string `json:"ref_id"`
		Title     string `json:"title"`
		UnitPrice int64  `json:"unit_price"` // cents
		Quantity  int    `json:"quantity"`
		Amount    int64  `json:"amount"` // cents
	}

	Totals struct {
		Subtotal int64 `json:"subtotal"`
		Discount int64 `json:"discount"`
		Credit   int64 `json:"credit"`
		Taxable  int64 `json:"taxable"`
		Tax      int64 `json:"tax"`
		Total    int64 `json:"total"`
	}

	Quote struct {
		Totals
		Lines       []Line   `json:"lines"`
		Currency    string   `json:"currency"`
		PromoID     string   `json:"-"`
		PromoCode   string   `json:"promo_code,omitempty"`
		PromoError  string   `json:"promo_error,omitempty"`
		Unavailable []string `json:"unavailable,omitempty"` // ref IDs no longer for sale
	}
)

// Price computes the totals of priced lines:
// the discount is capped at the subtotal, the credit at what remains,
// and the tax applies to the subtotal minus both.
func Price(lines []Line, discount, credit, taxRateBps int64) Totals {
	var t Totals
	for _, l := range lines {
		t.Subtotal += l.Amount
	}
	if discount > 0 {
		t.Discount = core.MinInt64(discount, t.Subtotal)
	}
	if credit > 0 {
		t.Credit = core.MinInt64(credit, t.Subtotal-t.Discount)
	}
	t.Taxable = t.Subtotal - t.Discount - t.Credit
	t.Tax = core.PercentOf(t.Taxable, taxRateBps)
	t.Total = t.Taxable + t.Tax
	return t
}

type AddItem struct {
	Kind     string `json:"kind" validate:"required,oneof=course product"`
	RefID    string `json:"ref_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"min=0,max=1000"`
}

func (ai *AddItem) Validate(validate *validator.Validate) error {
	ai.RefID = core.CleanString(ai.RefID)
	if ai.Quantity == 0 {
		ai.Quantity = 1
	}
	return validate.Struct(ai)
}

type UpdateQuantity struct {
	Quantity int `json:"quantity" validate:"min=0,max=1000"`
}

type ApplyPromo struct {
	Code string `json:"code" validate:"required"`
}
