// Package money converts between decimal amounts and integer minor units.
//
// All ledger arithmetic is done on Amount, an int64 count of the smallest
// unit of a currency (cents, pence, yen). Decimals only appear at the
// boundary: Parse on the way in, Format on the way out.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned for malformed, non-finite or non-positive amounts,
	// and for decimals that cannot be represented exactly in minor units.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidCurrency is returned for currency codes that are not three ASCII letters.
	ErrInvalidCurrency = errors.New("invalid currency")
)

// Amount is a quantity of money in minor units of its currency.
type Amount int64

// MaxAmount caps a single expense. Ten trillion major units of a
// two-decimal currency leaves int64 room for about 9000 such expenses
// before balance arithmetic could overflow.
const MaxAmount Amount = 1_000_000_000_000_000

// exponents lists currencies whose minor unit is not 1/100 of the major unit.
var exponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0,
	"KRW": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0,
	"XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

const defaultExponent = 2

// Exponent returns the number of decimal places of the currency's minor unit.
func Exponent(currency string) int32 {
	if exp, ok := exponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return defaultExponent
}

// NormalizeCurrency upper-cases and validates a currency code.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
		}
	}
	return c, nil
}

// Parse converts a decimal string such as "12.34" into minor units of currency.
// The conversion must be lossless: "0.001" in a two-decimal currency fails.
// Sign is preserved; callers decide whether non-positive values are acceptable.
func Parse(s, currency string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	scaled := d.Shift(Exponent(currency))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has more precision than %s allows", ErrInvalidAmount, s, currency)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	return Amount(scaled.IntPart()), nil
}

// ParsePositive is Parse restricted to amounts greater than zero.
func ParsePositive(s, currency string) (Amount, error) {
	a, err := Parse(s, currency)
	if err != nil {
		return 0, err
	}
	if a <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidAmount, s)
	}
	if a > MaxAmount {
		return 0, fmt.Errorf("%w: %q exceeds the per-expense limit", ErrInvalidAmount, s)
	}
	return a, nil
}

// Format renders the amount as a fixed-point decimal string in currency's precision.
func (a Amount) Format(currency string) string {
	exp := Exponent(currency)
	return decimal.New(int64(a), -exp).StringFixed(exp)
}

// Add returns a+b and false if the sum overflows int64.
func Add(a, b Amount) (Amount, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

// Sub returns a-b and false if the difference overflows int64.
func Sub(a, b Amount) (Amount, bool) {
	diff := a - b
	if (b > 0 && diff > a) || (b < 0 && diff < a) {
		return 0, false
	}
	return diff, true
}

// Abs returns the magnitude of a.
func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}
