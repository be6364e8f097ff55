package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidDecimal is returned when a textual amount cannot be parsed.
var ErrInvalidDecimal = errors.New("invalid decimal amount")

// ParseAmount parses a decimal string such as "1250.50". Empty input, NaN and
// exponent-free garbage are rejected.
func ParseAmount(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidDecimal)
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidDecimal, raw)
	}
	return value, nil
}

// ParsePositive parses raw and requires a strictly positive value.
func ParsePositive(raw string) (decimal.Decimal, error) {
	value, err := ParseAmount(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !value.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s must be positive", ErrInvalidDecimal, value)
	}
	return value, nil
}

// FloorTo truncates a non-negative value to the given number of decimal places.
func FloorTo(value decimal.Decimal, places int32) decimal.Decimal {
	return value.Truncate(places)
}

// MulDivFloor computes a*b/c rounded down to places. c must be positive and
// a, b non-negative; the quotient is exact before truncation.
func MulDivFloor(a, b, c decimal.Decimal, places int32) decimal.Decimal {
	if c.Sign() <= 0 {
		return decimal.Zero
	}
	quotient, _ := a.Mul(b).QuoRem(c, places)
	if quotient.IsNegative() {
		return decimal.Zero
	}
	return quotient
}

// Percent returns part/total*100 with two decimal places, or zero when total
// is not positive.
func Percent(part, total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	return part.Mul(decimal.NewFromInt(100)).DivRound(total, 2)
}
