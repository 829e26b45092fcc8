package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core/referral"
)

const (
	referralCodeColumns = "code, user_id, tenant_id, created_at"
	referralColumns     = "id, tenant_id, referrer_id, referred_id, code, status, reward, order_id, created_at, rewarded_at"
)

type referralCodeRow struct {
	Code      string    `db:"code"`
	UserID    string    `db:"user_id"`
	TenantID  string    `db:"tenant_id"`
	CreatedAt time.Time `db:"created_at"`
}

type referralRow struct {
	ID         string      `db:"id"`
	TenantID   string      `db:"tenant_id"`
	ReferrerID string      `db:"referrer_id"`
	ReferredID string      `db:"referred_id"`
	Code       string      `db:"code"`
	Status     string      `db:"status"`
	Reward     int64       `db:"reward"`
	OrderID    null.String `db:"order_id"`
	CreatedAt  time.Time   `db:"created_at"`
	RewardedAt null.Time   `db:"rewarded_at"`
}

func (r referralRow) referral() referral.Referral {
	ref := referral.Referral{
		ID:         r.ID,
		TenantID:   r.TenantID,
		ReferrerID: r.ReferrerID,
		ReferredID: r.ReferredID,
		Code:       r.Code,
		Status:     r.Status,
		Reward:     r.Reward,
		OrderID:    r.OrderID.String,
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if r.RewardedAt.Valid {
		at := r.RewardedAt.Time.UTC()
		ref.RewardedAt = &at
	}
	return ref
}

type referralRepository struct {
	base
}

var _ referral.Repository = (*referralRepository)(nil)

func NewReferralRepository(db *sqlx.DB) *referralRepository {
	return &referralRepository{base{db: db}}
}

func (repo referralRepository) CreateCode(ctx context.Context, c referral.Code) (referral.Code, error) {
	c.CreatedAt = c.CreatedAt.UTC()
	_, err := repo.db.ExecContext(ctx,
		"INSERT INTO referral_codes ("+referralCodeColumns+") VALUES ($1, $2, $3, $4)",
		c.Code, c.UserID, c.TenantID, c.CreatedAt)
	if err != nil {
		// a user gets a single code; a concurrent creation is reported the same way
		if isUniqueViolation(err, "") {
			return referral.Code{}, referral.ErrCodeExists
		}
		return referral.Code{}, errors.Wrap(err, "inserting referral code")
	}
	return c, nil
}

func (repo referralRepository) GetCode(ctx context.Context, filter referral.CodeFilter) (referral.Code, error) {
	var w where
	switch {
	case filter.Code != "":
		w.add("code = ?", filter.Code)
	case filter.UserID != "":
		if !validUUID(filter.UserID) {
			return referral.Code{}, referral.ErrCodeNotFound
		}
		w.add("user_id = ?", filter.UserID)
	default:
		return referral.Code{}, referral.ErrCodeNotFound
	}

	var row referralCodeRow
	if err := repo.db.GetContext(ctx, &row, repo.db.Rebind("SELECT "+referralCodeColumns+" FROM referral_codes"+w.String()), w.args...); err != nil {
		return referral.Code{}, trapNoRowsErr(err, referral.ErrCodeNotFound, "getting referral code")
	}
	return referral.Code{Code: row.Code, UserID: row.UserID, TenantID: row.TenantID, CreatedAt: row.CreatedAt.UTC()}, nil
}

func (repo referralRepository) CreateReferral(ctx context.Context, r referral.Referral) (referral.Referral, error) {
	r.ID = newID()
	r.CreatedAt = r.CreatedAt.UTC()
	_, err := repo.db.ExecContext(ctx,
		"INSERT INTO referrals ("+referralColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		r.ID, r.TenantID, r.ReferrerID, r.ReferredID, r.Code, r.Status, r.Reward,
		null.NewString(r.OrderID, r.OrderID != ""), r.CreatedAt, null.TimeFromPtr(r.RewardedAt))
	if err != nil {
		if isUniqueViolation(err, "referrals_referred_id_key") {
			return referral.Referral{}, referral.ErrAlreadyReferred
		}
		return referral.Referral{}, errors.Wrap(err, "inserting referral")
	}
	return r, nil
}

func (repo referralRepository) GetReferralByReferred(ctx context.Context, referredID string) (referral.Referral, error) {
	if !validUUID(referredID) {
		return referral.Referral{}, referral.ErrNotFound
	}
	var row referralRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+referralColumns+" FROM referrals WHERE referred_id = $1", referredID); err != nil {
		return referral.Referral{}, trapNoRowsErr(err, referral.ErrNotFound, "getting referral")
	}
	return row.referral(), nil
}

func (repo referralRepository) MarkRewarded(ctx context.Context, r referral.Referral) error {
	if !validUUID(r.ID) {
		return referral.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, `UPDATE referrals SET status = $1, reward = $2, order_id = $3, rewarded_at = $4
		WHERE id = $5 AND status = $6`,
		referral.StatusRewarded, r.Reward, null.NewString(r.OrderID, r.OrderID != ""), null.TimeFromPtr(r.RewardedAt),
		r.ID, referral.StatusPending)
	if err != nil {
		return errors.Wrap(err, "marking referral rewarded")
	}
	return checkAffected(res, referral.ErrAlreadyRewarded)
}

func (repo referralRepository) ResetReward(ctx context.Context, r referral.Referral) error {
	if !validUUID(r.ID) {
		return referral.ErrNotFound
	}
	res, err := repo.db.ExecContext(ctx, `UPDATE referrals SET status = $1, reward = 0, order_id = NULL, rewarded_at = NULL
		WHERE id = $2 AND status = $3 AND order_id = $4`,
		referral.StatusPending, r.ID, referral.StatusRewarded, r.OrderID)
	if err != nil {
		return errors.Wrap(err, "resetting referral reward")
	}
	return checkAffected(res, referral.ErrNotFound)
}

func (repo referralRepository) QueryReferrals(ctx context.Context, referrerID string) ([]referral.Referral, error) {
	if !validUUID(referrerID) {
		return []referral.Referral{}, nil
	}
	var rows []referralRow
	q := "SELECT " + referralColumns + " FROM referrals WHERE referrer_id = $1 ORDER BY created_at DESC"
	if err := repo.db.SelectContext(ctx, &rows, q, referrerID); err != nil {
		return nil, errors.Wrap(err, "querying referrals")
	}
	referrals := make([]referral.Referral, 0, len(rows))
	for _, r := range rows {
		referrals = append(referrals, r.referral())
	}
	return referrals, nil
}
