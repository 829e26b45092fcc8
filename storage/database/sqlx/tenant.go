package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/tenant"
)

const tenantColumns = "id, slug, name, currency, is_active, created_at"

type tenantRow struct {
	ID        string    `db:"id"`
	Slug      string    `db:"slug"`
	Name      string    `db:"name"`
	Currency  string    `db:"currency"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
}

func (r tenantRow) tenant() tenant.Tenant {
	return tenant.Tenant{
		ID:        r.ID,
		Slug:      r.Slug,
		Name:      r.Name,
		Currency:  r.Currency,
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type tenantRepository struct {
	base
}

var _ tenant.Repository = (*tenantRepository)(nil)

func NewTenantRepository(db *sqlx.DB) *tenantRepository {
	return &tenantRepository{base{db: db}}
}

func (repo tenantRepository) CreateTenant(ctx context.Context, tnt tenant.Tenant) (tenant.Tenant, error) {
	tnt.ID = newID()
	tnt.CreatedAt = tnt.CreatedAt.UTC()
	_, err := repo.db.ExecContext(ctx,
		"INSERT INTO tenants ("+tenantColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
		tnt.ID, tnt.Slug, tnt.Name, tnt.Currency, tnt.IsActive, tnt.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "tenants_slug_key") {
			return tenant.Tenant{}, tenant.ErrSlugExists
		}
		return tenant.Tenant{}, errors.Wrap(err, "inserting tenant")
	}
	return tnt, nil
}

func (repo tenantRepository) GetTenant(ctx context.Context, filter tenant.GetFilter) (tenant.Tenant, error) {
	var w where
	switch {
	case filter.ID != "":
		if !validUUID(filter.ID) {
			return tenant.Tenant{}, tenant.ErrNotFound
		}
		w.add("id = ?", filter.ID)
	case filter.Slug != "":
		w.add("slug = ?", filter.Slug)
	default:
		return tenant.Tenant{}, tenant.ErrNotFound
	}

	var row tenantRow
	if err := repo.db.GetContext(ctx, &row, repo.db.Rebind("SELECT "+tenantColumns+" FROM tenants"+w.String()), w.args...); err != nil {
		return tenant.Tenant{}, trapNoRowsErr(err, tenant.ErrNotFound, "getting tenant")
	}
	return row.tenant(), nil
}

func (repo tenantRepository) QueryTenants(ctx context.Context, filter *tenant.QueryFilter) ([]tenant.Tenant, error) {
	var w where
	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("(name ILIKE ? OR slug ILIKE ?)", val, val)
		}
		if filter.IsActive != nil {
			w.add("is_active = ?", *filter.IsActive)
		}
	}

	var rows []tenantRow
	q := "SELECT " + tenantColumns + " FROM tenants" + w.String() + " ORDER BY name ASC"
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying tenants")
	}
	tenants := make([]tenant.Tenant, 0, len(rows))
	for _, r := range rows {
		tenants = append(tenants, r.tenant())
	}
	return tenants, nil
}

func (repo tenantRepository) UpdateTenant(ctx context.Context, tnt tenant.Tenant) (tenant.Tenant, error) {
	if !validUUID(tnt.ID) {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx,
		"UPDATE tenants SET name = $1, currency = $2, is_active = $3 WHERE id = $4",
		tnt.Name, tnt.Currency, tnt.IsActive, tnt.ID)
	if err != nil {
		return tenant.Tenant{}, errors.Wrap(err, "updating tenant")
	}
	return tnt, checkAffected(res, tenant.ErrNotFound)
}
