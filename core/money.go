package core

import (
	"fmt"
	"math"
)

// Amounts are int64 minor units (cents). Rates are basis points (1/100th of a percent).

const BpsDenominator = 10000

// PercentOf returns amount*bps/10000 rounded half-up.
func PercentOf(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	q, r := amount/BpsDenominator, amount%BpsDenominator
	return q*bps + (r*bps+BpsDenominator/2)/BpsDenominator
}

// MulAmount returns unit*qty; ok is false if either is negative or the product overflows.
func MulAmount(unit int64, qty int) (amount int64, ok bool) {
	if unit < 0 || qty < 0 {
		return 0, false
	}
	if unit != 0 && int64(qty) > math.MaxInt64/unit {
		return 0, false
	}
	return unit * int64(qty), true
}

// AddAmounts returns the sum of `amounts`; ok is false if any is negative or the sum overflows.
func AddAmounts(amounts ...int64) (sum int64, ok bool) {
	for _, a := range amounts {
		if a < 0 || sum > math.MaxInt64-a {
			return 0, false
		}
		sum += a
	}
	return sum, true
}

// MinInt64 returns the smaller of a and b.
func MinInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// FormatMoney renders `amount` as "12.34 USD".
func FormatMoney(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, currency)
}
