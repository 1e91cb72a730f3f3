// Package money keeps amounts in minor units and speaks decimal JSON on the wire.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is an amount in currency minor units (pesewas, kobo, cents).
type Cents int64

var (
	ErrPrecision = errors.New("money: more than two decimal places")
	ErrRange     = errors.New("money: amount out of range")
)

func FromDecimal(d decimal.Decimal) (Cents, error) {
	shifted := d.Shift(2)
	if !shifted.IsInteger() {
		return 0, ErrPrecision
	}
	if !shifted.BigInt().IsInt64() {
		return 0, ErrRange
	}
	return Cents(shifted.IntPart()), nil
}

// Parse accepts "40", "40.5" or "40.50".
func Parse(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return FromDecimal(d)
}

func (c Cents) Decimal() decimal.Decimal { return decimal.New(int64(c), -2) }

func (c Cents) String() string { return c.Decimal().StringFixed(2) }

func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.Decimal().String()), nil
}

// UnmarshalJSON takes a JSON number or a quoted decimal string.
func (c *Cents) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("money: %w", err)
	}
	v, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*c = v
	return nil
}
