package inmemdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/order"
)

type orderRepository struct {
	db *orderTable
}

var _ order.Repository = (*orderRepository)(nil)

func NewOrderRepository(db *DB) order.Repository {
	return &orderRepository{db: db.order}
}

func copyOrder(o order.Order) order.Order {
	o.Items = append([]cart.Line{}, o.Items...)
	if o.PaidAt != nil {
		at := *o.PaidAt
		o.PaidAt = &at
	}
	return o
}

func (repo *orderRepository) CreateOrder(_ context.Context, o order.Order) (order.Order, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if o.ID == "" {
		o.ID = newID()
	}
	o = copyOrder(o)
	repo.db.table[o.ID] = &o
	return copyOrder(o), nil
}

func (repo *orderRepository) GetOrder(_ context.Context, filter order.GetFilter) (order.Order, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if o, ok := repo.db.table[filter.ID]; ok {
			return copyOrder(*o), nil
		}
		return order.Order{}, order.ErrNotFound
	}
	if filter.PaymentRef != "" {
		for _, o := range repo.db.table {
			if o.PaymentRef == filter.PaymentRef {
				return copyOrder(*o), nil
			}
		}
	}
	return order.Order{}, order.ErrNotFound
}

func (repo *orderRepository) UpdateOrder(_ context.Context, o order.Order, fromStatus string) (order.Order, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.table[o.ID]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	if orig.Status != fromStatus {
		return order.Order{}, order.ErrStatusConflict
	}
	upd := copyOrder(*orig)
	upd.Status = o.Status
	upd.PaymentRef = o.PaymentRef
	upd.ClientSecret = o.ClientSecret
	upd.UpdatedAt = o.UpdatedAt
	upd.PaidAt = o.PaidAt
	upd = copyOrder(upd)
	repo.db.table[o.ID] = &upd
	return copyOrder(upd), nil
}

func (repo *orderRepository) QueryOrders(_ context.Context, filter *order.QueryFilter, ordering []core.DBOrdering) ([]order.Order, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	orders := make([]order.Order, 0)
	for _, o := range repo.db.table {
		if filter != nil {
			if filter.TenantID != "" && o.TenantID != filter.TenantID {
				continue
			}
			if filter.UserID != "" && o.UserID != filter.UserID {
				continue
			}
			if len(filter.Statuses) > 0 && !contains(filter.Statuses, o.Status) {
				continue
			}
			if !filter.CreatedFrom.IsZero() && o.CreatedAt.Before(filter.CreatedFrom) {
				continue
			}
			if !filter.CreatedTo.IsZero() && o.CreatedAt.After(filter.CreatedTo) {
				continue
			}
		}
		orders = append(orders, copyOrder(*o))
	}

	paidAt := func(o order.Order) int64 {
		if o.PaidAt == nil {
			return 0
		}
		return o.PaidAt.UnixNano()
	}
	sortSlice(orders, ordering, comparers{
		"number":     func(i, j int) int { return strings.Compare(orders[i].Number, orders[j].Number) },
		"total":      func(i, j int) int { return cmpInt64(orders[i].Total, orders[j].Total) },
		"status":     func(i, j int) int { return strings.Compare(orders[i].Status, orders[j].Status) },
		"created_at": func(i, j int) int { return orders[i].CreatedAt.Compare(orders[j].CreatedAt) },
		"paid_at":    func(i, j int) int { return cmpInt64(paidAt(orders[i]), paidAt(orders[j])) },
	}, core.DBOrdering{Field: "created_at"})
	return orders, nil
}

func (repo *orderRepository) NextInvoiceNumber(_ context.Context, tenantID string, year int) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := fmt.Sprintf("%s/%d", tenantID, year)
	repo.db.sequences[key]++
	return repo.db.sequences[key], nil
}

func (repo *orderRepository) CreateInvoice(_ context.Context, inv order.Invoice) (order.Invoice, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.invoices[inv.OrderID]; ok {
		return order.Invoice{}, order.ErrInvoiceExists
	}
	for _, existing := range repo.db.invoices {
		if existing.TenantID == inv.TenantID && existing.Number == inv.Number {
			return order.Invoice{}, order.ErrInvoiceNumberTaken
		}
	}
	inv.ID = newID()
	inv.Lines = append([]cart.Line{}, inv.Lines...)
	repo.db.invoices[inv.OrderID] = &inv
	return inv, nil
}

func (repo *orderRepository) GetInvoiceByOrder(_ context.Context, orderID string) (order.Invoice, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if inv, ok := repo.db.invoices[orderID]; ok {
		cp := *inv
		cp.Lines = append([]cart.Line{}, inv.Lines...)
		return cp, nil
	}
	return order.Invoice{}, order.ErrInvoiceNotFound
}
