package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/academia/core/promo"
)

type promoRepository struct {
	db *promoTable
}

var _ promo.Repository = (*promoRepository)(nil)

func NewPromoRepository(db *DB) promo.Repository {
	return &promoRepository{db: db.promo}
}

func copyPromo(p promo.PromoCode) promo.PromoCode {
	if p.CourseIDs != nil {
		p.CourseIDs = append([]string{}, p.CourseIDs...)
	}
	return p
}

func (repo *promoRepository) CreatePromo(_ context.Context, p promo.PromoCode) (promo.PromoCode, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.table {
		if existing.TenantID == p.TenantID && existing.Code == p.Code {
			return promo.PromoCode{}, promo.ErrCodeExists
		}
	}
	p.ID = newID()
	p = copyPromo(p)
	repo.db.table[p.ID] = &p
	return copyPromo(p), nil
}

func (repo *promoRepository) GetPromo(_ context.Context, filter promo.GetFilter) (promo.PromoCode, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if p, ok := repo.db.table[filter.ID]; ok {
			return copyPromo(*p), nil
		}
		return promo.PromoCode{}, promo.ErrNotFound
	}
	for _, p := range repo.db.table {
		if filter.Code != "" && p.TenantID == filter.TenantID && p.Code == filter.Code {
			return copyPromo(*p), nil
		}
	}
	return promo.PromoCode{}, promo.ErrNotFound
}

func (repo *promoRepository) QueryPromos(_ context.Context, filter *promo.QueryFilter) ([]promo.PromoCode, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	promos := make([]promo.PromoCode, 0)
	for _, p := range repo.db.table {
		if filter != nil {
			if filter.TenantID != "" && p.TenantID != filter.TenantID {
				continue
			}
			if filter.Search != "" && !matches(filter.Search, p.Code) {
				continue
			}
			if filter.IsActive != nil && p.IsActive != *filter.IsActive {
				continue
			}
		}
		promos = append(promos, copyPromo(*p))
	}
	sort.SliceStable(promos, func(i, j int) bool { return promos[i].CreatedAt.After(promos[j].CreatedAt) })
	return promos, nil
}

func (repo *promoRepository) UpdatePromo(_ context.Context, p promo.PromoCode) (promo.PromoCode, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[p.ID]
	if !ok {
		return promo.PromoCode{}, promo.ErrNotFound
	}
	// usage only changes through IncrementUsage
	p.UsedCount = orig.UsedCount
	p = copyPromo(p)
	repo.db.table[p.ID] = &p
	return copyPromo(p), nil
}

func (repo *promoRepository) IncrementUsage(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	p, ok := repo.db.table[id]
	if !ok {
		return promo.ErrNotFound
	}
	if p.UsageLimit > 0 && p.UsedCount >= p.UsageLimit {
		return promo.ErrUsageExhausted
	}
	p.UsedCount++
	return nil
}

func (repo *promoRepository) CountRedemptions(_ context.Context, promoID, userID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var n int
	for _, r := range repo.db.redemptions {
		if r.PromoID == promoID && r.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (repo *promoRepository) CreateRedemption(_ context.Context, r promo.Redemption) (promo.Redemption, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.redemptions {
		if existing.PromoID == r.PromoID && existing.OrderID == r.OrderID {
			return promo.Redemption{}, promo.ErrRedemptionExists
		}
	}
	r.ID = newID()
	repo.db.redemptions[r.ID] = &r
	return r, nil
}

func (repo *promoRepository) FindRedemption(_ context.Context, promoID, orderID string) (promo.Redemption, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, r := range repo.db.redemptions {
		if r.PromoID == promoID && r.OrderID == orderID {
			return *r, nil
		}
	}
	return promo.Redemption{}, promo.ErrNoRedemption
}

func (repo *promoRepository) DeleteRedemption(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.redemptions[id]; !ok {
		return promo.ErrNoRedemption
	}
	delete(repo.db.redemptions, id)
	return nil
}
