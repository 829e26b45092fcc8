package store

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academia/core"
)

// UnlimitedStock is the stock of digital products.
const UnlimitedStock = -1

type Product struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       int64     `json:"price"` // cents
	Stock       int       `json:"stock"` // -1: unlimited
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

func (p Product) InStock(qty int) bool { return p.Stock == UnlimitedStock || p.Stock >= qty }

type NewProduct struct {
	SKU         string `json:"sku" validate:"required,max=64"`
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description"`
	Price       int64  `json:"price" validate:"min=0,max=100000000"`
	Stock       int    `json:"stock" validate:"min=-1"`
}

func (np *NewProduct) Validate(validate *validator.Validate) error {
	np.SKU = strings.ToUpper(core.CleanString(np.SKU))
	np.Name = core.CleanString(np.Name)
	np.Description = strings.TrimSpace(np.Description)
	return validate.Struct(np)
}

// UpdateProduct defines what information may be provided to modify an existing Product.
// Nil fields leave the current values untouched.
type UpdateProduct struct {
	Name        *string `json:"name" validate:"omitempty,max=255"`
	Description *string `json:"description"`
	Price       *int64  `json:"price" validate:"omitempty,min=0,max=100000000"`
	Stock       *int    `json:"stock" validate:"omitempty,min=-1"`
	IsActive    *bool   `json:"is_active"`
}

func (up *UpdateProduct) Validate(validate *validator.Validate) error {
	return validate.Struct(up)
}

func (up UpdateProduct) Apply(p Product) Product {
	if up.Name != nil {
		if name := core.CleanString(*up.Name); name != "" {
			p.Name = name
		}
	}
	if up.Description != nil {
		p.Description = strings.TrimSpace(*up.Description)
	}
	if up.Price != nil {
		p.Price = *up.Price
	}
	if up.Stock != nil {
		p.Stock = *up.Stock
	}
	if up.IsActive != nil {
		p.IsActive = *up.IsActive
	}
	return p
}

type QueryFilter struct {
	TenantID string   `query:"-"`
	Search   string   `query:"search"`
	IsActive *bool    `query:"is_active"`
	IDs      []string `query:"-"`
}

// OrderingFields are the fields products may be ordered by.
var OrderingFields = []string{"name", "sku", "price", "stock", "created_at"}
