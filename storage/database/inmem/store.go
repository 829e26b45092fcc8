package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/store"
)

type productRepository struct {
	db *productTable
}

var _ store.Repository = (*productRepository)(nil)

func NewProductRepository(db *DB) store.Repository {
	return &productRepository{db: db.product}
}

func (repo *productRepository) skuExists(tenantID, sku string) bool {
	for _, p := range repo.db.table {
		if p.TenantID == tenantID && p.SKU == sku {
			return true
		}
	}
	return false
}

func (repo *productRepository) CreateProduct(_ context.Context, p store.Product) (store.Product, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.skuExists(p.TenantID, p.SKU) {
		return store.Product{}, store.ErrSKUExists
	}
	p.ID = newID()
	repo.db.table[p.ID] = &p
	return p, nil
}

func (repo *productRepository) UpdateProduct(_ context.Context, p store.Product) (store.Product, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[p.ID]
	if !ok {
		return store.Product{}, store.ErrNotFound
	}
	p.TenantID, p.SKU, p.CreatedAt = orig.TenantID, orig.SKU, orig.CreatedAt
	repo.db.table[p.ID] = &p
	return p, nil
}

func (repo *productRepository) GetProduct(_ context.Context, id string) (store.Product, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if p, ok := repo.db.table[id]; ok {
		return *p, nil
	}
	return store.Product{}, store.ErrNotFound
}

func (repo *productRepository) QueryProducts(_ context.Context, filter *store.QueryFilter, ordering []core.DBOrdering) ([]store.Product, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	products := make([]store.Product, 0)
	for _, p := range repo.db.table {
		if filter != nil {
			if filter.TenantID != "" && p.TenantID != filter.TenantID {
				continue
			}
			if filter.Search != "" && !matches(filter.Search, p.Name, p.SKU) {
				continue
			}
			if filter.IsActive != nil && p.IsActive != *filter.IsActive {
				continue
			}
			if filter.IDs != nil && !contains(filter.IDs, p.ID) {
				continue
			}
		}
		products = append(products, *p)
	}

	sortSlice(products, ordering, comparers{
		"name":       func(i, j int) int { return strings.Compare(products[i].Name, products[j].Name) },
		"sku":        func(i, j int) int { return strings.Compare(products[i].SKU, products[j].SKU) },
		"price":      func(i, j int) int { return cmpInt64(products[i].Price, products[j].Price) },
		"stock":      func(i, j int) int { return cmpInt64(int64(products[i].Stock), int64(products[j].Stock)) },
		"created_at": func(i, j int) int { return products[i].CreatedAt.Compare(products[j].CreatedAt) },
	}, core.DBOrdering{Field: "name", Ascending: true})
	return products, nil
}

func (repo *productRepository) SKUExists(_ context.Context, tenantID, sku string) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.skuExists(tenantID, sku), nil
}

func (repo *productRepository) ReserveStock(_ context.Context, id string, qty int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	p, ok := repo.db.table[id]
	if !ok {
		return store.ErrNotFound
	}
	if p.Stock == store.UnlimitedStock {
		return nil
	}
	if p.Stock < qty {
		return store.ErrOutOfStock
	}
	p.Stock -= qty
	return nil
}

func (repo *productRepository) ReleaseStock(_ context.Context, id string, qty int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if p, ok := repo.db.table[id]; ok && p.Stock != store.UnlimitedStock {
		p.Stock += qty
	}
	return nil
}
