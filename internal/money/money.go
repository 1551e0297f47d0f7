// Package money parses and formats fixed-point monetary amounts.
//
// Amounts cross the API as decimal strings and are carried internally as
// shopspring decimals; float64 never touches a balance.
package money

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// Scale is the storage precision for all amounts, fiat and crypto alike.
// NUMERIC(32,8) in Postgres.
const Scale = 8

var currencyPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

// Parse converts a decimal string into an amount, rejecting values with more
// than Scale fractional digits so storage never silently rounds.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if d.Exponent() < -Scale {
		return decimal.Zero, fmt.Errorf("amount %q exceeds %d decimal places", s, Scale)
	}
	return d, nil
}

// ParsePositive is Parse restricted to strictly positive amounts.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive, got %q", s)
	}
	return d, nil
}

// Format renders an amount at full storage precision.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// ValidCurrency reports whether code is a well-formed currency or asset
// symbol (USD, USDC, BTC, ...). It does not check against a whitelist;
// supported assets are the platform's concern.
func ValidCurrency(code string) bool {
	return currencyPattern.MatchString(code)
}
