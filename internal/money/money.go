// Package money provides the single boundary for converting provider
// floating-point fields into fixed-precision decimals, plus the shared
// epsilon used throughout the P&L engine to suppress decimal drift.
package money

import "github.com/shopspring/decimal"

func init() {
	decimal.DivisionPrecision = 34
}

// Epsilon is the smallest quantity treated as non-zero in the FIFO engine
// and its reconciliation logic, in the token's native decimal space.
var Epsilon = decimal.New(1, -9)

// Zero is the decimal zero value, exported for readability at call sites.
var Zero = decimal.Zero

// FromFloat converts a provider-reported float64 into a decimal. This is
// the only place in the system floats are allowed to touch monetary or
// quantity values; callers further down the pipeline only ever see and
// operate on decimal.Decimal.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// IsNegligible reports whether d is within Epsilon of zero.
func IsNegligible(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(Epsilon)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
