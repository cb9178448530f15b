// Package money holds fixed-point currency amounts. Amounts are carried as
// decimal.Decimal in the API and persisted as integer cents.
package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Currency is the only currency the charge gateway accepts.
const Currency = "KES"

var (
	ErrNegative  = errors.New("amount must not be negative")
	ErrPrecision = errors.New("amount has more than two decimal places")
	ErrOverflow  = errors.New("amount does not fit in int64 cents")
)

// MaxAmount is the largest order total accepted at the API.
var MaxAmount = decimal.NewFromInt(10_000_000)

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

// Parse reads an amount such as "500" or "500.00".
func Parse(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	if err := Check(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Check validates sign and precision.
func Check(d decimal.Decimal) error {
	if d.IsNegative() {
		return ErrNegative
	}
	if !d.Equal(d.Round(2)) {
		return ErrPrecision
	}
	return nil
}

// ToCents converts an amount to integer cents.
func ToCents(d decimal.Decimal) (int64, error) {
	if err := Check(d); err != nil {
		return 0, err
	}
	cents := d.Mul(hundred)
	if cents.GreaterThan(maxCents) {
		return 0, ErrOverflow
	}
	return cents.IntPart(), nil
}

// FromCents converts integer cents back to an amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Format renders an amount with two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}
