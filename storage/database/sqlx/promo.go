package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core/promo"
)

const promoColumns = `id, tenant_id, code, kind, value, min_subtotal, max_discount, usage_limit, used_count,
	per_user_limit, course_ids, starts_at, expires_at, is_active, created_at`

const redemptionColumns = "id, promo_id, user_id, order_id, redeemed_at"

type promoRow struct {
	ID           string         `db:"id"`
	TenantID     string         `db:"tenant_id"`
	Code         string         `db:"code"`
	Kind         string         `db:"kind"`
	Value        int64          `db:"value"`
	MinSubtotal  int64          `db:"min_subtotal"`
	MaxDiscount  int64          `db:"max_discount"`
	UsageLimit   int            `db:"usage_limit"`
	UsedCount    int            `db:"used_count"`
	PerUserLimit int            `db:"per_user_limit"`
	CourseIDs    pq.StringArray `db:"course_ids"`
	StartsAt     null.Time      `db:"starts_at"`
	ExpiresAt    null.Time      `db:"expires_at"`
	IsActive     bool           `db:"is_active"`
	CreatedAt    time.Time      `db:"created_at"`
}

func newPromoRow(p promo.PromoCode) promoRow {
	courseIDs := p.CourseIDs
	if courseIDs == nil {
		courseIDs = []string{}
	}
	return promoRow{
		ID:           p.ID,
		TenantID:     p.TenantID,
		Code:         p.Code,
		Kind:         p.Kind,
		Value:        p.Value,
		MinSubtotal:  p.MinSubtotal,
		MaxDiscount:  p.MaxDiscount,
		UsageLimit:   p.UsageLimit,
		UsedCount:    p.UsedCount,
		PerUserLimit: p.PerUserLimit,
		CourseIDs:    courseIDs,
		StartsAt:     null.TimeFromPtr(p.StartsAt),
		ExpiresAt:    null.TimeFromPtr(p.ExpiresAt),
		IsActive:     p.IsActive,
		CreatedAt:    p.CreatedAt.UTC(),
	}
}

func (r promoRow) promo() promo.PromoCode {
	p := promo.PromoCode{
		ID:           r.ID,
		TenantID:     r.TenantID,
		Code:         r.Code,
		Kind:         r.Kind,
		Value:        r.Value,
		MinSubtotal:  r.MinSubtotal,
		MaxDiscount:  r.MaxDiscount,
		UsageLimit:   r.UsageLimit,
		UsedCount:    r.UsedCount,
		PerUserLimit: r.PerUserLimit,
		IsActive:     r.IsActive,
		CreatedAt:    r.CreatedAt.UTC(),
	}
	if len(r.CourseIDs) > 0 {
		p.CourseIDs = []string(r.CourseIDs)
	}
	if r.StartsAt.Valid {
		at := r.StartsAt.Time.UTC()
		p.StartsAt = &at
	}
	if r.ExpiresAt.Valid {
		at := r.ExpiresAt.Time.UTC()
		p.ExpiresAt = &at
	}
	return p
}

type redemptionRow struct {
	ID         string    `db:"id"`
	PromoID    string    `db:"promo_id"`
	UserID     string    `db:"user_id"`
	OrderID    string    `db:"order_id"`
	RedeemedAt time.Time `db:"redeemed_at"`
}

type promoRepository struct {
	base
}

var _ promo.Repository = (*promoRepository)(nil)

func NewPromoRepository(db *sqlx.DB) *promoRepository {
	return &promoRepository{base{db: db}}
}

func (repo promoRepository) CreatePromo(ctx context.Context, p promo.PromoCode) (promo.PromoCode, error) {
	p.ID = newID()
	row := newPromoRow(p)
	_, err := repo.db.NamedExecContext(ctx, `INSERT INTO promo_codes (`+promoColumns+`) VALUES (
		:id, :tenant_id, :code, :kind, :value, :min_subtotal, :max_discount, :usage_limit, :used_count,
		:per_user_limit, :course_ids, :starts_at, :expires_at, :is_active, :created_at)`, row)
	if err != nil {
		if isUniqueViolation(err, "promo_codes_tenant_id_code_key") {
			return promo.PromoCode{}, promo.ErrCodeExists
		}
		return promo.PromoCode{}, errors.Wrap(err, "inserting promo code")
	}
	return row.promo(), nil
}

func (repo promoRepository) GetPromo(ctx context.Context, filter promo.GetFilter) (promo.PromoCode, error) {
	var w where
	switch {
	case filter.ID != "":
		if !validUUID(filter.ID) {
			return promo.PromoCode{}, promo.ErrNotFound
		}
		w.add("id = ?", filter.ID)
	case filter.Code != "":
		if !validUUID(filter.TenantID) {
			return promo.PromoCode{}, promo.ErrNotFound
		}
		w.add("tenant_id = ?", filter.TenantID)
		w.add("code = ?", filter.Code)
	default:
		return promo.PromoCode{}, promo.ErrNotFound
	}

	var row promoRow
	if err := repo.db.GetContext(ctx, &row, repo.db.Rebind("SELECT "+promoColumns+" FROM promo_codes"+w.String()), w.args...); err != nil {
		return promo.PromoCode{}, trapNoRowsErr(err, promo.ErrNotFound, "getting promo code")
	}
	return row.promo(), nil
}

func (repo promoRepository) QueryPromos(ctx context.Context, filter *promo.QueryFilter) ([]promo.PromoCode, error) {
	var w where
	if filter != nil {
		if filter.TenantID != "" {
			w.add("tenant_id = ?", filter.TenantID)
		}
		if filter.Search != "" {
			w.add("code ILIKE ?", "%"+filter.Search+"%")
		}
		if filter.IsActive != nil {
			w.add("is_active = ?", *filter.IsActive)
		}
	}

	var rows []promoRow
	q := "SELECT " + promoColumns + " FROM promo_codes" + w.String() + " ORDER BY created_at DESC"
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying promo codes")
	}
	promos := make([]promo.PromoCode, 0, len(rows))
	for _, r := range rows {
		promos = append(promos, r.promo())
	}
	return promos, nil
}

func (repo promoRepository) UpdatePromo(ctx context.Context, p promo.PromoCode) (promo.PromoCode, error) {
	if !validUUID(p.ID) {
		return promo.PromoCode{}, promo.ErrNotFound
	}
	row := newPromoRow(p)
	res, err := repo.db.NamedExecContext(ctx, `UPDATE promo_codes SET
		kind = :kind, value = :value, min_subtotal = :min_subtotal, max_discount = :max_discount,
		usage_limit = :usage_limit, per_user_limit = :per_user_limit, course_ids = :course_ids,
		starts_at = :starts_at, expires_at = :expires_at, is_active = :is_active
		WHERE id = :id`, row)
	if err != nil {
		return promo.PromoCode{}, errors.Wrap(err, "updating promo code")
	}
	return p, checkAffected(res, promo.ErrNotFound)
}

func (repo promoRepository) IncrementUsage(ctx context.Context, id string) error {
	if !validUUID(id) {
		return promo.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, `UPDATE promo_codes SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit = 0 OR used_count < usage_limit)`, id)
	if err != nil {
		return errors.Wrap(err, "incrementing promo usage")
	}
	if err = checkAffected(res, promo.ErrUsageExhausted); err != nil {
		if _, getErr := repo.GetPromo(ctx, promo.GetFilter{ID: id}); getErr != nil {
			return getErr
		}
		return err
	}
	return nil
}

func (repo promoRepository) CountRedemptions(ctx context.Context, promoID, userID string) (int, error) {
	if !validUUID(promoID) || !validUUID(userID) {
		return 0, nil
	}
	var n int
	err := repo.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM redemptions WHERE promo_id = $1 AND user_id = $2", promoID, userID)
	return n, errors.Wrap(err, "counting redemptions")
}

func (repo promoRepository) CreateRedemption(ctx context.Context, r promo.Redemption) (promo.Redemption, error) {
	r.ID = newID()
	r.RedeemedAt = r.RedeemedAt.UTC()
	_, err := repo.db.ExecContext(ctx,
		"INSERT INTO redemptions ("+redemptionColumns+") VALUES ($1, $2, $3, $4, $5)",
		r.ID, r.PromoID, r.UserID, r.OrderID, r.RedeemedAt)
	if err != nil {
		if isUniqueViolation(err, "redemptions_promo_id_order_id_key") {
			return promo.Redemption{}, promo.ErrRedemptionExists
		}
		return promo.Redemption{}, errors.Wrap(err, "inserting redemption")
	}
	return r, nil
}

func (repo promoRepository) DeleteRedemption(ctx context.Context, id string) error {
	if !validUUID(id) {
		return promo.ErrNoRedemption
	}
	res, err := repo.db.ExecContext(ctx, "DELETE FROM redemptions WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting redemption")
	}
	return checkAffected(res, promo.ErrNoRedemption)
}

func (repo promoRepository) FindRedemption(ctx context.Context, promoID, orderID string) (promo.Redemption, error) {
	if !validUUID(promoID) || !validUUID(orderID) {
		return promo.Redemption{}, promo.ErrNoRedemption
	}
	var row redemptionRow
	err := repo.db.GetContext(ctx, &row,
		"SELECT "+redemptionColumns+" FROM redemptions WHERE promo_id = $1 AND order_id = $2", promoID, orderID)
	if err != nil {
		return promo.Redemption{}, trapNoRowsErr(err, promo.ErrNoRedemption, "finding redemption")
	}
	return promo.Redemption{
		ID:         row.ID,
		PromoID:    row.PromoID,
		UserID:     row.UserID,
		OrderID:    row.OrderID,
		RedeemedAt: row.RedeemedAt.UTC(),
	}, nil
}
