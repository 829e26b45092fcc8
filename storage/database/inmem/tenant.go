package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/academia/core/tenant"
)

type tenantRepository struct {
	db *tenantTable
}

var _ tenant.Repository = (*tenantRepository)(nil)

func NewTenantRepository(db *DB) tenant.Repository {
	return &tenantRepository{db: db.tenant}
}

func (repo *tenantRepository) CreateTenant(_ context.Context, tnt tenant.Tenant) (tenant.Tenant, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, t := range repo.db.table {
		if t.Slug == tnt.Slug {
			return tenant.Tenant{}, tenant.ErrSlugExists
		}
	}
	tnt.ID = newID()
	repo.db.table[tnt.ID] = &tnt
	return tnt, nil
}

func (repo *tenantRepository) GetTenant(_ context.Context, filter tenant.GetFilter) (tenant.Tenant, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if tnt, ok := repo.db.table[filter.ID]; ok {
			return *tnt, nil
		}
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	if filter.Slug != "" {
		for _, tnt := range repo.db.table {
			if tnt.Slug == filter.Slug {
				return *tnt, nil
			}
		}
	}
	return tenant.Tenant{}, tenant.ErrNotFound
}

func (repo *tenantRepository) QueryTenants(_ context.Context, filter *tenant.QueryFilter) ([]tenant.Tenant, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	tenants := make([]tenant.Tenant, 0, len(repo.db.table))
	for _, tnt := range repo.db.table {
		if filter != nil {
			if filter.Search != "" && !matches(filter.Search, tnt.Name, tnt.Slug) {
				continue
			}
			if filter.IsActive != nil && tnt.IsActive != *filter.IsActive {
				continue
			}
		}
		tenants = append(tenants, *tnt)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].Name < tenants[j].Name })
	return tenants, nil
}

func (repo *tenantRepository) UpdateTenant(_ context.Context, tnt tenant.Tenant) (tenant.Tenant, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[tnt.ID]
	if !ok {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	orig.Name = tnt.Name
	orig.Currency = tnt.Currency
	orig.IsActive = tnt.IsActive
	return *orig, nil
}
