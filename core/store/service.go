package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

var (
	// errors
	ErrNotFound   = errors.New("product not found")
	ErrSKUExists  = errors.New("a product with this SKU already exists")
	ErrOutOfStock = errors.New("product is out of stock")
	ErrInactive   = errors.New("product is not available")
)

type (
	Repository interface {
		CreateProduct(ctx context.Context, p Product) (Product, error)
		UpdateProduct(ctx context.Context, p Product) (Product, error)
		GetProduct(ctx context.Context, id string) (Product, error)
		QueryProducts(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Product, error)
		SKUExists(ctx context.Context, tenantID, sku string) (bool, error)
		// ReserveStock decrements the stock of a limited product only if enough is left, else fails with ErrOutOfStock.
		ReserveStock(ctx context.Context, id string, qty int) error
		ReleaseStock(ctx context.Context, id string, qty int) error
	}

	Service struct {
		repo Repository
		now  func() time.Time // mockable
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (svc *Service) Create(ctx context.Context, actor user.Actor, np NewProduct) (Product, error) {
	if !actor.IsAdmin() {
		return Product{}, core.ErrPermissionDenied
	}
	exists, err := svc.repo.SKUExists(ctx, actor.TenantID, np.SKU)
	if err != nil {
		return Product{}, errors.Wrap(err, "checking SKU")
	}
	if exists {
		return Product{}, core.NewFieldError("sku", ErrSKUExists)
	}

	now := svc.now().UTC()
	p, err := svc.repo.CreateProduct(ctx, Product{
		TenantID:    actor.TenantID,
		SKU:         np.SKU,
		Name:        np.Name,
		Description: np.Description,
		Price:       np.Price,
		Stock:       np.Stock,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if errors.Cause(err) == ErrSKUExists {
		return Product{}, core.NewFieldError("sku", ErrSKUExists)
	}
	return p, errors.Wrap(err, "creating product")
}

func (svc *Service) Update(ctx context.Context, actor user.Actor, id string, up UpdateProduct) (Product, error) {
	if !actor.IsAdmin() {
		return Product{}, core.ErrPermissionDenied
	}
	p, err := svc.Get(ctx, actor, id)
	if err != nil {
		return Product{}, err
	}
	p = up.Apply(p)
	p.UpdatedAt = svc.now().UTC()
	p, err = svc.repo.UpdateProduct(ctx, p)
	return p, errors.Wrap(err, "updating product")
}

// Get returns a product of the actor's tenant; inactive products are only visible to admins.
func (svc *Service) Get(ctx context.Context, actor user.Actor, id string) (Product, error) {
	p, err := svc.repo.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if p.TenantID != actor.TenantID || (!p.IsActive && !actor.IsAdmin()) {
		return Product{}, ErrNotFound
	}
	return p, nil
}

// Find returns any product by ID.
func (svc *Service) Find(ctx context.Context, id string) (Product, error) {
	return svc.repo.GetProduct(ctx, id)
}

func (svc *Service) Query(ctx context.Context, actor user.Actor, filter *QueryFilter, ordering []core.DBOrdering) ([]Product, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.TenantID = actor.TenantID
	filter.Search = core.CleanString(filter.Search)
	if !actor.IsAdmin() {
		active := true
		filter.IsActive = &active
	}
	return svc.repo.QueryProducts(ctx, filter, ordering)
}

func (svc *Service) Reserve(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return nil
	}
	return svc.repo.ReserveStock(ctx, id, qty)
}

func (svc *Service) Release(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return nil
	}
	return svc.repo.ReleaseStock(ctx, id, qty)
}
