// Package decimal pins the core to a single exact fixed-point type.
//
// Price and quantity values never use IEEE-754 floats anywhere in the
// matching path: shopspring/decimal backs every arithmetic operation
// with an arbitrary-precision integer coefficient, so comparisons,
// sums, and tick/lot checks are exact.
package decimal

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// D is the core's decimal value. It is a type alias so callers can use
// shopspring/decimal's full method set (Add, Sub, Mul, Div, Mod, Cmp,
// ...) without a wrapper struct getting in the way.
type D = decimal.Decimal

// Zero is the additive identity.
var Zero = decimal.Zero

// Parse converts a decimal string into a D. shopspring/decimal accepts
// both plain ("1.5") and exponent ("15e-1") forms; locale-specific
// separators are rejected.
func Parse(s string) (D, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("decimal: parse %q: %w", s, err)
	}
	return v, nil
}

// MustParse is Parse that panics on error; reserved for constants and
// tests where the literal is known to be well-formed.
func MustParse(s string) D {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the canonical form: no scientific notation, no
// trailing-zero stripping of significant digits.
func String(v D) string {
	return v.String()
}

// IsPositive reports whether v > 0.
func IsPositive(v D) bool {
	return v.Sign() > 0
}

// IsZero reports whether v == 0.
func IsZero(v D) bool {
	return v.Sign() == 0
}

// IsNegative reports whether v < 0.
func IsNegative(v D) bool {
	return v.Sign() < 0
}

// Min returns the smaller of a, b.
func Min(a, b D) D {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of a, b.
func Max(a, b D) D {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// DivisibleBy reports whether v is an exact integer multiple of step.
// Used for tick-size (price) and lot-size (quantity) validation. A
// non-positive step never divides evenly.
func DivisibleBy(v, step D) bool {
	if !IsPositive(step) {
		return false
	}
	return v.Mod(step).IsZero()
}

// InRange reports whether lo <= v <= hi.
func InRange(v, lo, hi D) bool {
	return v.Cmp(lo) >= 0 && v.Cmp(hi) <= 0
}
