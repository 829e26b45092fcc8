package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/cart"
)

// Statuses
const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusRefunded  = "refunded"
)

// Payment event statuses
const (
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

const EventPaid = "order.paid"

var AllStatuses = []string{StatusPending, StatusPaid, StatusFailed, StatusCancelled, StatusRefunded}

type Order struct {
	ID           string      `json:"id"`
	TenantID     string      `json:"tenant_id"`
	UserID       string      `json:"user_id"`
	Number       string      `json:"number"`
	Items        []cart.Line `json:"items"`
	Subtotal     int64       `json:"subtotal"`
	Discount     int64       `json:"discount"`
	Credit       int64       `json:"credit"`
	Tax          int64       `json:"tax"`
	Total        int64       `json:"total"`
	Currency     string      `json:"currency"`
	PromoID      string      `json:"-"`
	PromoCode    string      `json:"promo_code,omitempty"`
	Status       string      `json:"status"`
	PaymentRef   string      `json:"payment_ref,omitempty"`
	ClientSecret string      `json:"client_secret,omitempty"`
	CreatedAt    time.Time   `json:"created_at"` // UTC
	UpdatedAt    time.Time   `json:"updated_at"` // UTC
	PaidAt       *time.Time  `json:"paid_at"`    // UTC
}

func (o Order) IsPending() bool { return o.Status == StatusPending }
func (o Order) IsPaid() bool    { return o.Status == StatusPaid }

// CourseIDs returns the IDs of the courses bought with the order.
func (o Order) CourseIDs() []string {
	var ids []string
	for _, it := range o.Items {
		if it.Kind == cart.KindCourse {
			ids = append(ids, it.RefID)
		}
	}
	return ids
}

// newNumber returns a human friendly order number: ORD-<8 upper hex chars>.
func newNumber(id string) string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:8])
}

type CheckoutRequest struct {
	UseCredit      bool   `json:"use_credit"`
	IdempotencyKey string `json:"-"` // Idempotency-Key header
}

type (
	// PaymentEvent is a payment provider notification about an order payment.
	PaymentEvent struct {
		Ref    string
		Status string
	}

	IntentRequest struct {
		OrderID  string
		TenantID string
		Number   string
		Amount   int64 // cents
		Currency string
		Email    string
	}

	Intent struct {
		Ref          string
		ClientSecret string
	}
)

type (
	BillTo struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}

	Invoice struct {
		ID       string      `json:"id"`
		TenantID string      `json:"tenant_id"`
		OrderID  string      `json:"order_id"`
		Number   string      `json:"number"`
		IssuedAt time.Time   `json:"issued_at"` // UTC
		BillTo   BillTo      `json:"bill_to"`
		Lines    []cart.Line `json:"lines"`
		Subtotal int64       `json:"subtotal"`
		Discount int64       `json:"discount"`
		Credit   int64       `json:"credit"`
		Tax      int64       `json:"tax"`
		Total    int64       `json:"total"`
		Currency string      `json:"currency"`
	}
)

// InvoiceNumber formats the `seq`th invoice of a tenant for `year`: INV-2024-000042.
func InvoiceNumber(year, seq int) string {
	return fmt.Sprintf("INV-%d-%06d", year, seq)
}

// RenderInvoiceText renders a plain text invoice.
func RenderInvoiceText(inv Invoice) string {
	money := func(amount int64) string { return core.FormatMoney(amount, inv.Currency) }

	var b strings.Builder
	fmt.Fprintf(&b, "Invoice %s\n", inv.Number)
	fmt.Fprintf(&b, "Issued: %s\n", inv.IssuedAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "Bill to: %s <%s>\n\n", inv.BillTo.Name, inv.BillTo.Email)
	for _, l := range inv.Lines {
		fmt.Fprintf(&b, "%3d x %-40s %14s\n", l.Quantity, l.Title, money(l.Amount))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%-46s %14s\n", "Subtotal", money(inv.Subtotal))
	if inv.Discount > 0 {
		fmt.Fprintf(&b, "%-46s %14s\n", "Discount", money(-inv.Discount))
	}
	if inv.Credit > 0 {
		fmt.Fprintf(&b, "%-46s %14s\n", "Credit", money(-inv.Credit))
	}
	fmt.Fprintf(&b, "%-46s %14s\n", "Tax", money(inv.Tax))
	fmt.Fprintf(&b, "%-46s %14s\n", "Total", money(inv.Total))
	return b.String()
}

type GetFilter struct {
	ID         string
	PaymentRef string
}

type QueryFilter struct {
	TenantID    string    `query:"-"`
	UserID      string    `query:"user"`
	Statuses    []string  `query:"status"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

// OrderingFields are the fields orders may be ordered by.
var OrderingFields = []string{"number", "total", "status", "created_at", "paid_at"}
