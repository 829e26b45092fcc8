// Package inmemdb implements the core repositories and stores in memory.
// It backs the "memory" storage and the service tests.
package inmemdb

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/exam"
	"github.com/trezcool/academia/core/order"
	"github.com/trezcool/academia/core/promo"
	"github.com/trezcool/academia/core/referral"
	"github.com/trezcool/academia/core/store"
	"github.com/trezcool/academia/core/tenant"
	"github.com/trezcool/academia/core/user"
)

type (
	DB struct {
		tenant     *tenantTable
		user       *userTable
		course     *courseTable
		enrollment *enrollmentTable
		exam       *examTable
		promo      *promoTable
		product    *productTable
		order      *orderTable
		referral   *referralTable
	}

	tenantTable struct {
		sync.RWMutex
		table map[string]*tenant.Tenant
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	courseTable struct {
		sync.RWMutex
		table   map[string]*course.Course
		batches map[string]*course.Batch
	}

	enrollmentTable struct {
		sync.RWMutex
		table map[string]*enrollment.Enrollment
	}

	examTable struct {
		sync.RWMutex
		table    map[string]*exam.Exam // questions included
		attempts map[string]*exam.Attempt
	}

	promoTable struct {
		sync.RWMutex
		table       map[string]*promo.PromoCode
		redemptions map[string]*promo.Redemption
	}

	productTable struct {
		sync.RWMutex
		table map[string]*store.Product
	}

	orderTable struct {
		sync.RWMutex
		table     map[string]*order.Order
		invoices  map[string]*order.Invoice // {orderID: Invoice}
		sequences map[string]int            // {tenantID/year: last}
	}

	referralTable struct {
		sync.RWMutex
		codes     map[string]*referral.Code     // {code: Code}
		referrals map[string]*referral.Referral // {referredID: Referral}
	}
)

func Open() *DB {
	return &DB{
		tenant:     &tenantTable{table: make(map[string]*tenant.Tenant)},
		user:       &userTable{table: make(map[string]*user.User)},
		course:     &courseTable{table: make(map[string]*course.Course), batches: make(map[string]*course.Batch)},
		enrollment: &enrollmentTable{table: make(map[string]*enrollment.Enrollment)},
		exam:       &examTable{table: make(map[string]*exam.Exam), attempts: make(map[string]*exam.Attempt)},
		promo:      &promoTable{table: make(map[string]*promo.PromoCode), redemptions: make(map[string]*promo.Redemption)},
		product:    &productTable{table: make(map[string]*store.Product)},
		order: &orderTable{
			table:     make(map[string]*order.Order),
			invoices:  make(map[string]*order.Invoice),
			sequences: make(map[string]int),
		},
		referral: &referralTable{
			codes:     make(map[string]*referral.Code),
			referrals: make(map[string]*referral.Referral),
		},
	}
}

func newID() string { return uuid.New().String() }

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// comparers compare the elements i and j of a slice on a field: <0, 0 or >0.
type comparers map[string]func(i, j int) int

// sortSlice sorts `slice` on the known orderings, or on `def` when none are given.
func sortSlice(slice interface{}, ords []core.DBOrdering, cmps comparers, def core.DBOrdering) {
	if len(ords) == 0 {
		ords = []core.DBOrdering{def}
	}
	sort.SliceStable(slice, func(i, j int) bool {
		for _, ord := range ords {
			cmp, ok := cmps[ord.Field]
			if !ok {
				continue
			}
			if c := cmp(i, j); c != 0 {
				if ord.Ascending {
					return c < 0
				}
				return c > 0
			}
		}
		return false
	})
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// matches does a case-insensitive substring match of `search` on any of `values`.
func matches(search string, values ...string) bool {
	search = strings.ToLower(search)
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), search) {
			return true
		}
	}
	return false
}
