package tenant

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academia/core"
)

// Tenant is an academy owning its users, catalogue and orders.
type Tenant struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

type NewTenant struct {
	Slug     string `json:"slug" validate:"required,max=50,slug"`
	Name     string `json:"name" validate:"required,max=255"`
	Currency string `json:"currency" validate:"omitempty,currency"`
}

func (nt *NewTenant) Validate(validate *validator.Validate) error {
	nt.Name = core.CleanString(nt.Name)
	nt.Slug = core.CleanString(nt.Slug, true /* lower */)
	if nt.Slug == "" {
		nt.Slug = core.Slugify(nt.Name)
	}
	nt.Currency = strings.ToUpper(core.CleanString(nt.Currency))
	return validate.Struct(nt)
}

type GetFilter struct {
	ID   string
	Slug string
}

type QueryFilter struct {
	Search   string `query:"search"`
	IsActive *bool  `query:"is_active"`
}
