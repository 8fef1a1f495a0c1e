// Package money provides an exact decimal amount type for all monetary
// arithmetic. Cost accumulation over long sessions must not drift, so
// amounts are never represented as binary floats internally; float64
// conversion happens only at presentation boundaries.
package money

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// ctx is the shared decimal context. 34 digits matches IEEE 754-2008
// decimal128 and is far more than any fiat amount requires. Rounding is
// half-even so repeated rounding at storage and display boundaries does
// not drift upward.
var ctx = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(34)
	c.Rounding = apd.RoundHalfEven
	return c
}()

// Amount is an immutable arbitrary-precision decimal value.
// The zero value is usable and equals zero.
type Amount struct {
	value apd.Decimal
}

// Parse parses a decimal string such as "12.50".
func Parse(s string) (Amount, error) {
	var d apd.Decimal
	if _, _, err := d.SetString(s); err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{value: d}, nil
}

// MustParse parses a decimal string and panics on error.
// Intended for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromInt64 returns the Amount equal to i.
func FromInt64(i int64) Amount {
	var d apd.Decimal
	d.SetInt64(i)
	return Amount{value: d}
}

// FromFloat64 converts a float to an Amount. Only for presentation-boundary
// input such as rate-feed payloads; never use it inside cost accumulation.
func FromFloat64(f float64) (Amount, error) {
	var d apd.Decimal
	if _, err := d.SetFloat64(f); err != nil {
		return Amount{}, fmt.Errorf("invalid amount %v: %w", f, err)
	}
	return Amount{value: d}, nil
}

// Zero returns the zero Amount.
func Zero() Amount {
	return Amount{}
}

func (a Amount) String() string {
	// Reduce strips the trailing zeros left behind by fixed-precision
	// division, so a computed 90.000...0 renders as "90".
	var reduced apd.Decimal
	reduced.Reduce(&a.value)
	return reduced.Text('f')
}

// Float64 returns the closest float64. Presentation use only.
func (a Amount) Float64() float64 {
	f, _ := a.value.Float64()
	return f
}

func (a Amount) IsZero() bool {
	return a.value.IsZero()
}

func (a Amount) IsNegative() bool {
	return a.value.Negative && !a.value.IsZero()
}

func (a Amount) IsPositive() bool {
	return a.value.Sign() > 0
}

// Cmp compares a and other: -1 if a < other, 0 if equal, +1 if a > other.
func (a Amount) Cmp(other Amount) int {
	return a.value.Cmp(&other.value)
}

// Add returns a + other.
func (a Amount) Add(other Amount) Amount {
	var result apd.Decimal
	_, _ = ctx.Add(&result, &a.value, &other.value)
	return Amount{value: result}
}

// Sub returns a - other.
func (a Amount) Sub(other Amount) Amount {
	var result apd.Decimal
	_, _ = ctx.Sub(&result, &a.value, &other.value)
	return Amount{value: result}
}

// Mul returns a * other.
func (a Amount) Mul(other Amount) Amount {
	var result apd.Decimal
	_, _ = ctx.Mul(&result, &a.value, &other.value)
	return Amount{value: result}
}

// Div returns a / other. Division by zero returns zero; callers are
// expected to guard against it where the quotient is meaningful.
func (a Amount) Div(other Amount) Amount {
	if other.value.IsZero() {
		return Amount{}
	}
	var result apd.Decimal
	_, _ = ctx.Quo(&result, &a.value, &other.value)
	return Amount{value: result}
}

// Min returns the smaller of a and other.
func (a Amount) Min(other Amount) Amount {
	if a.Cmp(other) <= 0 {
		return a
	}
	return other
}

// Round returns a rounded to the given number of decimal places using
// round-half-even.
func (a Amount) Round(places int32) Amount {
	var result apd.Decimal
	_, _ = ctx.Quantize(&result, &a.value, -places)
	return Amount{value: result}
}

// StringFixed renders the amount with exactly the given number of
// decimal places.
func (a Amount) StringFixed(places int32) string {
	rounded := a.Round(places)
	return rounded.value.Text('f')
}

// ScaledInt64 returns the amount multiplied by 10^scale and rounded to the
// nearest integer. Used by stores that persist amounts as fixed-point
// integers.
func (a Amount) ScaledInt64(scale int32) (int64, error) {
	var shifted apd.Decimal
	shifted.Set(&a.value)
	shifted.Exponent += scale
	rounded := shifted
	if _, err := ctx.Quantize(&rounded, &shifted, 0); err != nil {
		return 0, fmt.Errorf("amount %s does not fit scale %d: %w", a, scale, err)
	}
	i, err := rounded.Int64()
	if err != nil {
		return 0, fmt.Errorf("amount %s overflows int64 at scale %d: %w", a, scale, err)
	}
	return i, nil
}

// FromScaledInt64 reverses ScaledInt64: i / 10^scale.
func FromScaledInt64(i int64, scale int32) Amount {
	var d apd.Decimal
	d.SetInt64(i)
	d.Exponent -= scale
	return Amount{value: d}
}

// MarshalJSON renders the amount as a JSON string to preserve precision.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON parses a JSON string or bare number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
