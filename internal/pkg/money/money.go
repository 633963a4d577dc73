// Package money converts decimal major-unit amounts ("4.50") to integer minor
// units and back. Amounts never pass through float64.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

var maxCents = decimal.New(1, 18)

// ParseCents parses a non-negative decimal string into minor units, rounding
// half away from zero. "10" -> 1000, "4.505" -> 451, "1e3" -> 100000.
func ParseCents(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.HasPrefix(s, "+") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, raw)
	}
	cents := d.Shift(2).Round(0)
	if cents.GreaterThanOrEqual(maxCents) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, raw)
	}
	return cents.IntPart(), nil
}

// FormatCents renders minor units as a two-decimal string.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
