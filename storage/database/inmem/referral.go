package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/academia/core/referral"
)

type referralRepository struct {
	db *referralTable
}

var _ referral.Repository = (*referralRepository)(nil)

func NewReferralRepository(db *DB) referral.Repository {
	return &referralRepository{db: db.referral}
}

func (repo *referralRepository) CreateCode(_ context.Context, c referral.Code) (referral.Code, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.codes[c.Code]; ok {
		return referral.Code{}, referral.ErrCodeExists
	}
	for _, existing := range repo.db.codes {
		if existing.UserID == c.UserID {
			return referral.Code{}, referral.ErrCodeExists
		}
	}
	repo.db.codes[c.Code] = &c
	return c, nil
}

func (repo *referralRepository) GetCode(_ context.Context, filter referral.CodeFilter) (referral.Code, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.Code != "" {
		if c, ok := repo.db.codes[filter.Code]; ok {
			return *c, nil
		}
		return referral.Code{}, referral.ErrCodeNotFound
	}
	if filter.UserID != "" {
		for _, c := range repo.db.codes {
			if c.UserID == filter.UserID {
				return *c, nil
			}
		}
	}
	return referral.Code{}, referral.ErrCodeNotFound
}

func (repo *referralRepository) CreateReferral(_ context.Context, r referral.Referral) (referral.Referral, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.referrals[r.ReferredID]; ok {
		return referral.Referral{}, referral.ErrAlreadyReferred
	}
	r.ID = newID()
	repo.db.referrals[r.ReferredID] = &r
	return r, nil
}

func (repo *referralRepository) GetReferralByReferred(_ context.Context, referredID string) (referral.Referral, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if r, ok := repo.db.referrals[referredID]; ok {
		return *r, nil
	}
	return referral.Referral{}, referral.ErrNotFound
}

func (repo *referralRepository) MarkRewarded(_ context.Context, r referral.Referral) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.referrals[r.ReferredID]
	if !ok {
		return referral.ErrNotFound
	}
	if orig.Status != referral.StatusPending {
		return referral.ErrAlreadyRewarded
	}
	orig.Status = referral.StatusRewarded
	orig.Reward = r.Reward
	orig.OrderID = r.OrderID
	orig.RewardedAt = r.RewardedAt
	return nil
}

func (repo *referralRepository) ResetReward(_ context.Context, r referral.Referral) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.referrals[r.ReferredID]
	if !ok || orig.Status != referral.StatusRewarded || orig.OrderID != r.OrderID {
		return referral.ErrNotFound
	}
	orig.Status = referral.StatusPending
	orig.Reward = 0
	orig.OrderID = ""
	orig.RewardedAt = nil
	return nil
}

func (repo *referralRepository) QueryReferrals(_ context.Context, referrerID string) ([]referral.Referral, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	referrals := make([]referral.Referral, 0)
	for _, r := range repo.db.referrals {
		if r.ReferrerID == referrerID {
			referrals = append(referrals, *r)
		}
	}
	sort.SliceStable(referrals, func(i, j int) bool { return referrals[i].CreatedAt.After(referrals[j].CreatedAt) })
	return referrals, nil
}
