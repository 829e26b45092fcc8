package tenant

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

var (
	// errors
	ErrNotFound    = errors.New("tenant not found")
	ErrSlugExists  = errors.New("a tenant with this slug already exists")
	ErrUnavailable = errors.New("tenant unavailable")
)

type (
	Repository interface {
		CreateTenant(ctx context.Context, tnt Tenant) (Tenant, error)
		GetTenant(ctx context.Context, filter GetFilter) (Tenant, error)
		QueryTenants(ctx context.Context, filter *QueryFilter) ([]Tenant, error)
		UpdateTenant(ctx context.Context, tnt Tenant) (Tenant, error)
	}

	Service struct {
		repo     Repository
		currency string
	}
)

func NewService(repo Repository, defaultCurrency string) *Service {
	return &Service{repo: repo, currency: defaultCurrency}
}

func (svc *Service) Create(ctx context.Context, nt NewTenant) (Tenant, error) {
	if _, err := svc.repo.GetTenant(ctx, GetFilter{Slug: nt.Slug}); err == nil {
		return Tenant{}, core.NewFieldError("slug", ErrSlugExists)
	} else if errors.Cause(err) != ErrNotFound {
		return Tenant{}, errors.Wrap(err, "checking slug")
	}

	tnt := Tenant{
		Slug:      nt.Slug,
		Name:      nt.Name,
		Currency:  nt.Currency,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if tnt.Currency == "" {
		tnt.Currency = svc.currency
	}
	tnt, err := svc.repo.CreateTenant(ctx, tnt)
	if errors.Cause(err) == ErrSlugExists {
		return Tenant{}, core.NewFieldError("slug", ErrSlugExists)
	}
	return tnt, errors.Wrap(err, "creating tenant")
}

func (svc *Service) GetByID(ctx context.Context, id string) (Tenant, error) {
	return svc.repo.GetTenant(ctx, GetFilter{ID: id})
}

func (svc *Service) GetBySlug(ctx context.Context, slug string) (Tenant, error) {
	slug = core.CleanString(slug, true /* lower */)
	if slug == "" {
		return Tenant{}, ErrNotFound
	}
	return svc.repo.GetTenant(ctx, GetFilter{Slug: slug})
}

// GetActiveBySlug returns ErrUnavailable for a deactivated tenant.
func (svc *Service) GetActiveBySlug(ctx context.Context, slug string) (Tenant, error) {
	tnt, err := svc.GetBySlug(ctx, slug)
	if err != nil {
		return Tenant{}, err
	}
	if !tnt.IsActive {
		return Tenant{}, ErrUnavailable
	}
	return tnt, nil
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter) ([]Tenant, error) {
	return svc.repo.QueryTenants(ctx, filter)
}

func (svc *Service) SetActive(ctx context.Context, id string, active bool) (Tenant, error) {
	tnt, err := svc.GetByID(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	if tnt.IsActive == active {
		return tnt, nil
	}
	tnt.IsActive = active
	tnt, err = svc.repo.UpdateTenant(ctx, tnt)
	return tnt, errors.Wrap(err, "updating tenant")
}
