// Package money implements the fixed-point decimal conversions used at the
// boundary between the core's internal dollar accounting and the venue's
// integer-cent wire format.
//
// Internal prices are decimal dollars in [0.00, 1.00] held to 4 decimal
// places; the venue speaks integer cents (1-99) and integer contract
// counts. Conversion only ever happens here, never inline at call sites.
package money

import "github.com/shopspring/decimal"

// Precision is the number of decimal places internal dollar prices carry.
const Precision = 4

// CentsToDollars converts an integer cent price to a decimal dollar amount.
// 1 cent == $0.01.
func CentsToDollars(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}

// DollarsToCents converts a decimal dollar price to integer cents, rounding
// to the nearest cent and clamping to the venue's valid contract range
// [1, 99].
func DollarsToCents(dollars decimal.Decimal) int64 {
	cents := dollars.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	if cents < 1 {
		return 1
	}
	if cents > 99 {
		return 99
	}
	return cents
}

// DollarsToCount converts a dollar notional and a unit price to an integer
// contract count, flooring per spec: count = floor(dollars / price).
func DollarsToCount(dollars, price decimal.Decimal) int64 {
	if price.IsZero() {
		return 0
	}
	return dollars.Div(price).Floor().IntPart()
}

// CountToDollars converts an integer contract count back to a dollar
// notional at the given unit price.
func CountToDollars(count int64, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(count))
}

// Round4 rounds a decimal to the internal 4-decimal-place precision.
func Round4(d decimal.Decimal) decimal.Decimal {
	return d.Round(Precision)
}

// Clamp returns d clamped to [lo, hi].
func Clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}
