package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/order"
)

const orderColumns = `id, tenant_id, user_id, number, items, subtotal, discount, credit, tax, total, currency,
	promo_id, promo_code, status, payment_ref, client_secret, created_at, updated_at, paid_at`

const invoiceColumns = "id, tenant_id, order_id, number, issued_at, bill_to, lines, subtotal, discount, credit, tax, total, currency"

type orderRow struct {
	ID           string         `db:"id"`
	TenantID     string         `db:"tenant_id"`
	UserID       string         `db:"user_id"`
	Number       string         `db:"number"`
	Items        types.JSONText `db:"items"`
	Subtotal     int64          `db:"subtotal"`
	Discount     int64          `db:"discount"`
	Credit       int64          `db:"credit"`
	Tax          int64          `db:"tax"`
	Total        int64          `db:"total"`
	Currency     string         `db:"currency"`
	PromoID      null.String    `db:"promo_id"`
	PromoCode    string         `db:"promo_code"`
	Status       string         `db:"status"`
	PaymentRef   null.String    `db:"payment_ref"`
	ClientSecret string         `db:"client_secret"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	PaidAt       null.Time      `db:"paid_at"`
}

func newOrderRow(o order.Order) (orderRow, error) {
	items, err := marshalJSON(o.Items, "[]")
	if err != nil {
		return orderRow{}, errors.Wrap(err, "encoding order items")
	}
	return orderRow{
		ID:           o.ID,
		TenantID:     o.TenantID,
		UserID:       o.UserID,
		Number:       o.Number,
		Items:        items,
		Subtotal:     o.Subtotal,
		Discount:     o.Discount,
		Credit:       o.Credit,
		Tax:          o.Tax,
		Total:        o.Total,
		Currency:     o.Currency,
		PromoID:      null.NewString(o.PromoID, o.PromoID != ""),
		PromoCode:    o.PromoCode,
		Status:       o.Status,
		PaymentRef:   null.NewString(o.PaymentRef, o.PaymentRef != ""),
		ClientSecret: o.ClientSecret,
		CreatedAt:    o.CreatedAt.UTC(),
		UpdatedAt:    o.UpdatedAt.UTC(),
		PaidAt:       null.TimeFromPtr(o.PaidAt),
	}, nil
}

func (r orderRow) order() (order.Order, error) {
	o := order.Order{
		ID:           r.ID,
		TenantID:     r.TenantID,
		UserID:       r.UserID,
		Number:       r.Number,
		Items:        []cart.Line{},
		Subtotal:     r.Subtotal,
		Discount:     r.Discount,
		Credit:       r.Credit,
		Tax:          r.Tax,
		Total:        r.Total,
		Currency:     r.Currency,
		PromoID:      r.PromoID.String,
		PromoCode:    r.PromoCode,
		Status:       r.Status,
		PaymentRef:   r.PaymentRef.String,
		ClientSecret: r.ClientSecret,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.PaidAt.Valid {
		at := r.PaidAt.Time.UTC()
		o.PaidAt = &at
	}
	if err := r.Items.Unmarshal(&o.Items); err != nil {
		return order.Order{}, errors.Wrap(err, "decoding order items")
	}
	return o, nil
}

type invoiceRow struct {
	ID       string         `db:"id"`
	TenantID string         `db:"tenant_id"`
	OrderID  string         `db:"order_id"`
	Number   string         `db:"number"`
	IssuedAt time.Time      `db:"issued_at"`
	BillTo   types.JSONText `db:"bill_to"`
	Lines    types.JSONText `db:"lines"`
	Subtotal int64          `db:"subtotal"`
	Discount int64          `db:"discount"`
	Credit   int64          `db:"credit"`
	Tax      int64          `db:"tax"`
	Total    int64          `db:"total"`
	Currency string         `db:"currency"`
}

func (r invoiceRow) invoice() (order.Invoice, error) {
	inv := order.Invoice{
		ID:       r.ID,
		TenantID: r.TenantID,
		OrderID:  r.OrderID,
		Number:   r.Number,
		IssuedAt: r.IssuedAt.UTC(),
		Lines:    []cart.Line{},
		Subtotal: r.Subtotal,
		Discount: r.Discount,
		Credit:   r.Credit,
		Tax:      r.Tax,
		Total:    r.Total,
		Currency: r.Currency,
	}
	if err := r.BillTo.Unmarshal(&inv.BillTo); err != nil {
		return order.Invoice{}, errors.Wrap(err, "decoding bill to")
	}
	if err := r.Lines.Unmarshal(&inv.Lines); err != nil {
		return order.Invoice{}, errors.Wrap(err, "decoding invoice lines")
	}
	return inv, nil
}

type orderRepository struct {
	base
}

var _ order.Repository = (*orderRepository)(nil)

func NewOrderRepository(db *sqlx.DB) *orderRepository {
	return &orderRepository{base{db: db}}
}

func (repo orderRepository) CreateOrder(ctx context.Context, o order.Order) (order.Order, error) {
	if o.ID == "" {
		o.ID = newID()
	}
	row, err := newOrderRow(o)
	if err != nil {
		return order.Order{}, err
	}
	_, err = repo.db.NamedExecContext(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES (
		:id, :tenant_id, :user_id, :number, :items, :subtotal, :discount, :credit, :tax, :total, :currency,
		:promo_id, :promo_code, :status, :payment_ref, :client_secret, :created_at, :updated_at, :paid_at)`, row)
	if err != nil {
		return order.Order{}, errors.Wrap(err, "inserting order")
	}
	return row.order()
}

func (repo orderRepository) GetOrder(ctx context.Context, filter order.GetFilter) (order.Order, error) {
	var w where
	switch {
	case filter.ID != "":
		if !validUUID(filter.ID) {
			return order.Order{}, order.ErrNotFound
		}
		w.add("id = ?", filter.ID)
	case filter.PaymentRef != "":
		w.add("payment_ref = ?", filter.PaymentRef)
	default:
		return order.Order{}, order.ErrNotFound
	}

	var row orderRow
	if err := repo.db.GetContext(ctx, &row, repo.db.Rebind("SELECT "+orderColumns+" FROM orders"+w.String()), w.args...); err != nil {
		return order.Order{}, trapNoRowsErr(err, order.ErrNotFound, "getting order")
	}
	return row.order()
}

func (repo orderRepository) UpdateOrder(ctx context.Context, o order.Order, fromStatus string) (order.Order, error) {
	if !validUUID(o.ID) {
		return order.Order{}, order.ErrNotFound
	}
	row, err := newOrderRow(o)
	if err != nil {
		return order.Order{}, err
	}
	res, err := repo.db.ExecContext(ctx, `UPDATE orders SET
		status = $1, payment_ref = $2, client_secret = $3, updated_at = $4, paid_at = $5
		WHERE id = $6 AND status = $7`,
		row.Status, row.PaymentRef, row.ClientSecret, row.UpdatedAt, row.PaidAt, row.ID, fromStatus)
	if err != nil {
		return order.Order{}, errors.Wrap(err, "updating order")
	}
	if err = checkAffected(res, order.ErrStatusConflict); err != nil {
		if _, getErr := repo.GetOrder(ctx, order.GetFilter{ID: o.ID}); errors.Cause(getErr) == order.ErrNotFound {
			return order.Order{}, getErr
		}
		return order.Order{}, err
	}
	return o, nil
}

func (repo orderRepository) QueryOrders(ctx context.Context, filter *order.QueryFilter, ordering []core.DBOrdering) ([]order.Order, error) {
	var w where
	if filter != nil {
		if filter.TenantID != "" {
			w.add("tenant_id = ?", filter.TenantID)
		}
		if filter.UserID != "" {
			if !validUUID(filter.UserID) {
				return []order.Order{}, nil
			}
			w.add("user_id = ?", filter.UserID)
		}
		if len(filter.Statuses) > 0 {
			w.add("status IN (?)", filter.Statuses)
		}
		if !filter.CreatedFrom.IsZero() {
			w.add("created_at >= ?", filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			w.add("created_at <= ?", filter.CreatedTo.UTC())
		}
	}

	var rows []orderRow
	q := "SELECT " + orderColumns + " FROM orders" + w.String() + " ORDER BY " + core.OrderByClause(ordering, "created_at DESC")
	if err := repo.selectIn(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying orders")
	}
	orders := make([]order.Order, 0, len(rows))
	for _, r := range rows {
		o, err := r.order()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (repo orderRepository) NextInvoiceNumber(ctx context.Context, tenantID string, year int) (int, error) {
	var seq int
	err := repo.db.GetContext(ctx, &seq, `INSERT INTO invoice_sequences (tenant_id, year, last) VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, year) DO UPDATE SET last = invoice_sequences.last + 1
		RETURNING last`, tenantID, year)
	return seq, errors.Wrap(err, "incrementing invoice sequence")
}

func (repo orderRepository) CreateInvoice(ctx context.Context, inv order.Invoice) (order.Invoice, error) {
	inv.ID = newID()
	inv.IssuedAt = inv.IssuedAt.UTC()
	billTo, err := marshalJSON(inv.BillTo, "{}")
	if err != nil {
		return order.Invoice{}, errors.Wrap(err, "encoding bill to")
	}
	lines, err := marshalJSON(inv.Lines, "[]")
	if err != nil {
		return order.Invoice{}, errors.Wrap(err, "encoding invoice lines")
	}
	_, err = repo.db.ExecContext(ctx,
		"INSERT INTO invoices ("+invoiceColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)",
		inv.ID, inv.TenantID, inv.OrderID, inv.Number, inv.IssuedAt, billTo, lines,
		inv.Subtotal, inv.Discount, inv.Credit, inv.Tax, inv.Total, inv.Currency)
	if err != nil {
		if isUniqueViolation(err, "invoices_order_id_key") {
			return order.Invoice{}, order.ErrInvoiceExists
		}
		if isUniqueViolation(err, "invoices_tenant_id_number_key") {
			return order.Invoice{}, order.ErrInvoiceNumberTaken
		}
		return order.Invoice{}, errors.Wrap(err, "inserting invoice")
	}
	return inv, nil
}

func (repo orderRepository) GetInvoiceByOrder(ctx context.Context, orderID string) (order.Invoice, error) {
	if !validUUID(orderID) {
		return order.Invoice{}, order.ErrInvoiceNotFound
	}
	var row invoiceRow
	if err := repo.db.GetContext(ctx, &row, "SELECT "+invoiceColumns+" FROM invoices WHERE order_id = $1", orderID); err != nil {
		return order.Invoice{}, trapNoRowsErr(err, order.ErrInvoiceNotFound, "getting invoice")
	}
	return row.invoice()
}
