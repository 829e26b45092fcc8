package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/academia/core/cart"
)

func TestInvoiceNumber(t *testing.T) {
	assert.Equal(t, "INV-2024-000042", InvoiceNumber(2024, 42))
	assert.Equal(t, "INV-2025-1234567", InvoiceNumber(2025, 1234567))
}

func Test_newNumber(t *testing.T) {
	assert.Equal(t, "ORD-0A1B2C3D", newNumber("0a1b2c3d-4e5f-6789-abcd-ef0123456789"))
}

func TestOrder_CourseIDs(t *testing.T) {
	o := Order{Items: []cart.Line{
		{Kind: cart.KindCourse, RefID: "c1"},
		{Kind: cart.KindProduct, RefID: "p1"},
		{Kind: cart.KindCourse, RefID: "c2"},
	}}
	assert.Equal(t, []string{"c1", "c2"}, o.CourseIDs())
}

func TestRenderInvoiceText(t *testing.T) {
	inv := Invoice{
		Number:   "INV-2024-000001",
		IssuedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		BillTo:   BillTo{Name: "Jane", Email: "jane@test.test"},
		Lines:    []cart.Line{{Title: "Intro to Go", Quantity: 1, Amount: 4900}},
		Subtotal: 4900,
		Discount: 490,
		Total:    4410,
		Currency: "USD",
	}
	text := RenderInvoiceText(inv)
	assert.Contains(t, text, "Invoice INV-2024-000001")
	assert.Contains(t, text, "Issued: 2024-03-01")
	assert.Contains(t, text, "Bill to: Jane <jane@test.test>")
	assert.Contains(t, text, "Intro to Go")
	assert.Contains(t, text, "49.00 USD")
	assert.Contains(t, text, "-4.90 USD")
	assert.Contains(t, text, "44.10 USD")
}
