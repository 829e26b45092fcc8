package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/store"
)

const productColumns = "id, tenant_id, sku, name, description, price, stock, is_active, created_at, updated_at"

type productRow struct {
	ID          string    `db:"id"`
	TenantID    string    `db:"tenant_id"`
	SKU         string    `db:"sku"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Price       int64     `db:"price"`
	Stock       int       `db:"stock"`
	IsActive    bool      `db:"is_active"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r productRow) product() store.Product {
	return store.Product{
		ID:          r.ID,
		TenantID:    r.TenantID,
		SKU:         r.SKU,
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price,
		Stock:       r.Stock,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type productRepository struct {
	base
}

var _ store.Repository = (*productRepository)(nil)

func NewProductRepository(db *sqlx.DB) *productRepository {
	return &productRepository{base{db: db}}
}

func (repo productRepository) CreateProduct(ctx context.Context, p store.Product) (store.Product, error) {
	p.ID = newID()
	_, err := repo.db.ExecContext(ctx,
		"INSERT INTO products ("+productColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		p.ID, p.TenantID, p.SKU, p.Name, p.Description, p.Price, p.Stock, p.IsActive, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err, "products_tenant_id_sku_key") {
			return store.Product{}, store.ErrSKUExists
		}
		return store.Product{}, errors.Wrap(err, "inserting product")
	}
	return p, nil
}

func (repo productRepository) UpdateProduct(ctx context.Context, p store.Product) (store.Product, error) {
	if !validUUID(p.ID) {
		return store.Product{}, store.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, `UPDATE products SET
		name = $1, description = $2, price = $3, stock = $4, is_active = $5, updated_at = $6
		WHERE id = $7`,
		p.Name, p.Description, p.Price, p.Stock, p.IsActive, p.UpdatedAt.UTC(), p.ID)
	if err != nil {
		return store.Product{}, errors.Wrap(err, "updating product")
	}
	return p, checkAffected(res, store.ErrNotFound)
}

func (repo productRepository) GetProduct(ctx context.Context, id string) (store.Product, error) {
	if !validUUID(id) {
		return store.Product{}, store.ErrNotFound
	}
	var row productRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+productColumns+" FROM products WHERE id = $1", id); err != nil {
		return store.Product{}, trapNoRowsErr(err, store.ErrNotFound, "getting product")
	}
	return row.product(), nil
}

func (repo productRepository) QueryProducts(ctx context.Context, filter *store.QueryFilter, ordering []core.DBOrdering) ([]store.Product, error) {
	var w where
	if filter != nil {
		if filter.TenantID != "" {
			w.add("tenant_id = ?", filter.TenantID)
		}
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("(name ILIKE ? OR sku ILIKE ?)", val, val)
		}
		if filter.IsActive != nil {
			w.add("is_active = ?", *filter.IsActive)
		}
		if filter.IDs != nil {
			ids := validUUIDs(filter.IDs)
			if len(ids) == 0 {
				return []store.Product{}, nil
			}
			w.add("id IN (?)", ids)
		}
	}

	var rows []productRow
	q := "SELECT " + productColumns + " FROM products" + w.String() + " ORDER BY " + core.OrderByClause(ordering, "name ASC")
	if err := repo.selectIn(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying products")
	}
	products := make([]store.Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, r.product())
	}
	return products, nil
}

func (repo productRepository) SKUExists(ctx context.Context, tenantID, sku string) (bool, error) {
	var exists bool
	err := repo.db.GetContext(ctx, &exists,
		"SELECT EXISTS (SELECT 1 FROM products WHERE tenant_id = $1 AND sku = $2)", tenantID, sku)
	return exists, errors.Wrap(err, "checking product sku")
}

func (repo productRepository) ReserveStock(ctx context.Context, id string, qty int) error {
	if !validUUID(id) {
		return store.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, `UPDATE products SET stock = stock - $1
		WHERE id = $2 AND stock <> -1 AND stock >= $1`, qty, id)
	if err != nil {
		return errors.Wrap(err, "reserving stock")
	}
	if err = checkAffected(res, store.ErrOutOfStock); err != nil {
		p, getErr := repo.GetProduct(ctx, id)
		if getErr != nil {
			return getErr
		}
		if p.Stock == store.UnlimitedStock {
			return nil
		}
		return err
	}
	return nil
}

func (repo productRepository) ReleaseStock(ctx context.Context, id string, qty int) error {
	if !validUUID(id) {
		return store.ErrNotFound
	}
	_, err := repo.db.ExecContext(ctx, "UPDATE products SET stock = stock + $1 WHERE id = $2 AND stock <> -1", qty, id)
	return errors.Wrap(err, "releasing stock")
}
