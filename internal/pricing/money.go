package pricing

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in minor units.
type Money int64

var hundred = decimal.NewFromInt(100)

// FromDecimal rounds d to two places (half away from zero) and converts it to minor units.
func FromDecimal(d decimal.Decimal) Money {
	return Money(d.Round(2).Mul(hundred).IntPart())
}

// ParseMoney parses a decimal string such as "12.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse money %q: %w", s, err)
	}
	return FromDecimal(d), nil
}

// Decimal converts the amount to a decimal with two fractional digits.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// String renders the amount with exactly two decimals.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Times multiplies a unit amount by a quantity.
func (m Money) Times(qty int) Money {
	return m * Money(qty)
}

// MarshalJSON renders the amount as a JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	raw := bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(raw) == 0 || string(raw) == "null" {
		*m = 0
		return nil
	}
	parsed, err := ParseMoney(string(raw))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MeanRounded divides sum across n units rounding half away from zero.
func MeanRounded(sum Money, n int) Money {
	if n <= 0 {
		return 0
	}
	div := Money(n)
	if sum < 0 {
		return -((-sum*2 + div) / (2 * div))
	}
	return (sum*2 + div) / (2 * div)
}

func minMoney(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}
