package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrice(t *testing.T) {
	lines := []Line{
		{Kind: KindCourse, RefID: "c1", UnitPrice: 4900, Quantity: 1, Amount: 4900},
		{Kind: KindProduct, RefID: "p1", UnitPrice: 1500, Quantity: 2, Amount: 3000},
	}

	tests := []struct {
		name     string
		discount int64
		credit   int64
		taxBps   int64
		want     Totals
	}{
		{name: "plain", want: Totals{Subtotal: 7900, Taxable: 7900, Total: 7900}},
		{name: "discount", discount: 790, want: Totals{Subtotal: 7900, Discount: 790, Taxable: 7110, Total: 7110}},
		{name: "discount capped at the subtotal", discount: 9000, want: Totals{Subtotal: 7900, Discount: 7900}},
		{
			name: "credit capped at what remains", discount: 7000, credit: 5000,
			want: Totals{Subtotal: 7900, Discount: 7000, Credit: 900},
		},
		{
			name: "tax after discount and credit", discount: 900, credit: 1000, taxBps: 1600,
			want: Totals{Subtotal: 7900, Discount: 900, Credit: 1000, Taxable: 6000, Tax: 960, Total: 6960},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Price(lines, tt.discount, tt.credit, tt.taxBps))
		})
	}

	assert.Equal(t, Totals{}, Price(nil, 100, 100, 1600))
}
