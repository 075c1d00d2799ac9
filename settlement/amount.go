/*
amount.go - Fixed-point currency amounts

PURPOSE:
  Money is never stored as a float. An Amount is a signed 64-bit integer
  scaled by 10,000, so every value has exactly four fractional digits and
  every addition or subtraction is exact and overflow-checked.

CONSTRUCTION:
  NewAmount(2000.4999)      from a float literal (rounds half away from zero)
  ParseAmount("2000.4999")  from text, exact (used by the CSV reader)

ARITHMETIC:
  Only Add and Sub exist. Both return ErrOverflow instead of wrapping.
  Comparison is done on the scaled integer, never on floats.

DISPLAY:
  String() always renders four fractional digits ("12.5000").
  Float64() exists for display only; never feed it back into arithmetic.

SEE ALSO:
  - account.go: Account fields are Amounts
  - errors.go: ErrInvalidAmount, ErrOverflow
*/
package settlement

import (
	"math"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - 4-digit fixed point
// =============================================================================

// Amount is a currency value scaled by AmountScale.
type Amount int64

const (
	// AmountScale is the number of Amount units per whole currency unit.
	AmountScale = 10000

	// AmountPrecision is the number of fractional digits an Amount carries.
	AmountPrecision = 4
)

// float64(math.MaxInt64) rounds up to 2^63, which is already out of range.
const maxScaledFloat = float64(math.MaxInt64)

// NewAmount converts a float into an Amount, rounding half away from zero at
// the fourth fractional digit. NaN, infinities and values whose scaled form
// does not fit in an int64 fail with ErrInvalidAmount.
func NewAmount(value float64) (Amount, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, ErrInvalidAmount
	}
	scaled := value*AmountScale + math.Copysign(0.5, value)
	if scaled < -maxScaledFloat || scaled >= maxScaledFloat {
		return 0, ErrInvalidAmount
	}
	return Amount(math.Trunc(scaled)), nil
}

// MustAmount is NewAmount for literals known to be valid.
func MustAmount(value float64) Amount {
	a, err := NewAmount(value)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseAmount parses a decimal string exactly, rounding half away from zero
// to four fractional digits.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if d.IsZero() {
		return 0, nil
	}
	// Shift and Round allocate 10^|exponent|; bound it first.
	if exp := d.Exponent(); exp > maxAmountExponent || exp < minAmountExponent {
		return 0, ErrInvalidAmount
	}
	scaled := d.Shift(AmountPrecision).Round(0)
	if scaled.LessThan(minAmountDecimal) || scaled.GreaterThan(maxAmountDecimal) {
		return 0, ErrInvalidAmount
	}
	return Amount(scaled.IntPart()), nil
}

var (
	minAmountDecimal = decimal.NewFromInt(math.MinInt64)
	maxAmountDecimal = decimal.NewFromInt(math.MaxInt64)
)

// int64 holds 19 digits.
const (
	maxAmountExponent = 19
	minAmountExponent = -(AmountPrecision + 19)
)

// Add returns a+b, or ErrOverflow if the result leaves the int64 range.
func (a Amount) Add(b Amount) (Amount, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b, or ErrOverflow if the result leaves the int64 range.
// Underflow is reported as the same kind.
func (a Amount) Sub(b Amount) (Amount, error) {
	diff := a - b
	if (b > 0 && diff > a) || (b < 0 && diff < a) {
		return 0, ErrOverflow
	}
	return diff, nil
}

// Cmp returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (a Amount) LessThan(b Amount) bool    { return a < b }
func (a Amount) GreaterThan(b Amount) bool { return a > b }
func (a Amount) IsZero() bool              { return a == 0 }
func (a Amount) IsNegative() bool          { return a < 0 }

// Float64 is for display only.
func (a Amount) Float64() float64 {
	return float64(a) / AmountScale
}

// Decimal returns the exact decimal value.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -AmountPrecision)
}

// String renders the amount with exactly four fractional digits.
func (a Amount) String() string {
	return a.Decimal().StringFixed(AmountPrecision)
}
