/*
Package money provides fixed-policy decimal arithmetic for currency amounts.

PURPOSE:
  Every balance, schedule amount, and ledger delta in the system is a Money
  value. Money wraps decimal.Decimal so that:
  - No float64 ever touches a monetary computation
  - The rounding policy (half-up at 2 decimal places) is applied in exactly
    one place instead of being re-decided at every call site

ROUNDING POLICY:
  Round half-up (away from zero) at 2 places, applied at computation
  boundaries via Round(). Intermediate products (rate multiplications,
  divisions) keep full precision; only values that are stored or compared
  against stored values get rounded.

WHY A WRAPPER?
  decimal.Decimal is correct but policy-free. Wrapping it keeps "how do we
  round" and "how do we serialize" out of the business logic. The wrapper is
  deliberately small: arithmetic, comparison, rounding, parsing.

USAGE:
  principal := money.MustParse("100000")
  interest := principal.MulDecimal(rate).MulInt(tenure).Round()

SEE ALSO:
  - loan/calculation.go: The heaviest consumer of Money arithmetic
  - models/entry.go: Ledger entries store Money magnitudes
*/
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Places is the scale money is rounded to at computation boundaries.
const Places = 2

// Tolerance is the residue below which two money values are considered
// settled. A loan with remaining balance <= Tolerance is fully repaid.
var Tolerance = Money{d: decimal.New(1, -2)} // 0.01

// Money is an exact decimal currency amount.
type Money struct {
	d decimal.Decimal
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// Zero is the zero amount.
func Zero() Money { return Money{} }

// FromDecimal wraps a raw decimal.
func FromDecimal(d decimal.Decimal) Money { return Money{d: d} }

// FromInt builds a whole-unit amount.
func FromInt(v int64) Money { return Money{d: decimal.NewFromInt(v)} }

// FromFloat builds an amount from a float64. Only for literals and test
// fixtures; parsed input should go through Parse.
func FromFloat(v float64) Money { return Money{d: decimal.NewFromFloat(v)} }

// Parse parses a decimal string such as "24166.67".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// MustParse parses a decimal string and panics on malformed input.
// For constants and tests.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// =============================================================================
// ARITHMETIC
// =============================================================================

func (m Money) Add(b Money) Money { return Money{d: m.d.Add(b.d)} }
func (m Money) Sub(b Money) Money { return Money{d: m.d.Sub(b.d)} }
func (m Money) Neg() Money        { return Money{d: m.d.Neg()} }
func (m Money) Abs() Money        { return Money{d: m.d.Abs()} }

// MulDecimal multiplies by a raw decimal (interest rates, multipliers).
func (m Money) MulDecimal(s decimal.Decimal) Money { return Money{d: m.d.Mul(s)} }

// MulInt multiplies by a whole number (tenure months).
func (m Money) MulInt(n int) Money { return Money{d: m.d.Mul(decimal.NewFromInt(int64(n)))} }

// DivInt divides by a whole number. Full precision; callers round.
func (m Money) DivInt(n int) Money { return Money{d: m.d.Div(decimal.NewFromInt(int64(n)))} }

// Round applies the system rounding policy: half-up at 2 places.
func (m Money) Round() Money { return Money{d: m.d.Round(Places)} }

// ClampZero returns the amount, or zero if it is negative.
// Used for remaining-balance style values that must never go below zero.
func (m Money) ClampZero() Money {
	if m.IsNegative() {
		return Zero()
	}
	return m
}

// =============================================================================
// COMPARISON
// =============================================================================

func (m Money) IsZero() bool             { return m.d.IsZero() }
func (m Money) IsNegative() bool         { return m.d.IsNegative() }
func (m Money) IsPositive() bool         { return m.d.IsPositive() }
func (m Money) Equal(b Money) bool       { return m.d.Equal(b.d) }
func (m Money) GreaterThan(b Money) bool { return m.d.GreaterThan(b.d) }
func (m Money) LessThan(b Money) bool    { return m.d.LessThan(b.d) }

func (m Money) GreaterThanOrEqual(b Money) bool { return m.d.GreaterThanOrEqual(b.d) }
func (m Money) LessThanOrEqual(b Money) bool    { return m.d.LessThanOrEqual(b.d) }

// Min returns the smaller of the two amounts.
func (m Money) Min(b Money) Money {
	if m.LessThan(b) {
		return m
	}
	return b
}

// =============================================================================
// SERIALIZATION
// =============================================================================

// Decimal exposes the underlying decimal for storage drivers.
func (m Money) Decimal() decimal.Decimal { return m.d }

// String renders the exact stored value.
func (m Money) String() string { return m.d.String() }

// StringFixed renders at the policy scale ("24166.67") for display and
// stable serialization.
func (m Money) StringFixed() string { return m.d.StringFixed(Places) }

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.d.String() + `"`), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid money value %s: %w", string(data), err)
	}
	m.d = d
	return nil
}
