package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var (
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidAmount   = errors.New("invalid amount")
)

// maxAmount bounds amounts to 15 integer digits, which fits NUMERIC(19,4) storage and
// keeps the minor units of every currency within int64.
var maxAmount = decimal.New(1, 15)

// Money is an exact amount in a single ISO-4217 currency.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// New validates the amount and currency and returns a Money value.
// The amount must be positive, below 10^15 and must not carry more fraction digits
// than the currency allows.
func New(amount decimal.Decimal, code string) (Money, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	unit, err := currency.ParseISO(code)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}

	if !amount.IsPositive() {
		return Money{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}

	if amount.GreaterThanOrEqual(maxAmount) {
		return Money{}, fmt.Errorf("%w: must be less than %s", ErrInvalidAmount, maxAmount)
	}

	scale := Scale(unit.String())
	if !amount.Equal(amount.Truncate(scale)) {
		return Money{}, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount, scale)
	}

	return Money{Amount: amount, Currency: unit.String()}, nil
}

// Parse is New for a string amount such as "50.00".
func Parse(amount, code string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}

	return New(d, code)
}

// MustParse is Parse that panics on error. Intended for tests and constants.
func MustParse(amount, code string) Money {
	m, err := Parse(amount, code)
	if err != nil {
		panic(err)
	}

	return m
}

// Scale returns the number of minor-unit digits for the currency (2 for USD, 0 for JPY).
// Unknown codes fall back to 2.
func Scale(code string) int32 {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}

	scale, _ := currency.Standard.Rounding(unit)

	return int32(scale)
}

// MinorUnits converts the amount into the smallest currency unit, e.g. 10.50 USD -> 1050.
func (m Money) MinorUnits() int64 {
	return m.Amount.Shift(Scale(m.Currency)).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(minor int64, code string) Money {
	code = strings.ToUpper(code)

	return Money{
		Amount:   decimal.New(minor, -Scale(code)),
		Currency: code,
	}
}

// GreaterThan reports whether the amount exceeds limit, ignoring currency.
func (m Money) GreaterThan(limit decimal.Decimal) bool {
	return m.Amount.GreaterThan(limit)
}

// String renders the amount with the currency's scale, e.g. "50.00 USD".
func (m Money) String() string {
	return m.Amount.StringFixed(Scale(m.Currency)) + " " + m.Currency
}
