// Package money provides exact decimal currency amounts and the rounding
// policy applied to every ledger computation.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
)

// Policy describes how amounts in a currency are rounded. Every currency
// rounds half-to-even at its minor-unit scale.
type Policy struct {
	Currency string
	Scale    int32
}

var policies = map[string]Policy{
	"USD": {Currency: "USD", Scale: 2},
	"EUR": {Currency: "EUR", Scale: 2},
	"GBP": {Currency: "GBP", Scale: 2},
	"CAD": {Currency: "CAD", Scale: 2},
	"AUD": {Currency: "AUD", Scale: 2},
	"JPY": {Currency: "JPY", Scale: 0},
}

var hundred = decimal.NewFromInt(100)

// PolicyFor returns the rounding policy for the currency.
func PolicyFor(currency string) (Policy, bool) {
	p, ok := policies[NormalizeCurrency(currency)]
	return p, ok
}

// NormalizeCurrency upper-cases and trims an ISO currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// IsSupported reports whether the currency has a rounding policy.
func IsSupported(currency string) bool {
	_, ok := PolicyFor(currency)
	return ok
}

// Money is an exact amount in a single currency.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// New builds Money from an exact amount. Amounts finer than the currency's
// minor unit are rejected; computed values go through Rounded.
func New(amount decimal.Decimal, currency string) (Money, error) {
	policy, err := lookup(currency)
	if err != nil {
		return Money{}, err
	}
	if !amount.Equal(amount.Truncate(policy.Scale)) {
		return Money{}, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("amount %s has more than %d decimal places for %s", amount.String(), policy.Scale, policy.Currency))
	}
	return Money{Amount: amount, Currency: policy.Currency}, nil
}

// Rounded builds Money from a computed or configured amount, rounding it
// half-to-even to the currency scale.
func Rounded(amount decimal.Decimal, currency string) (Money, error) {
	policy, err := lookup(currency)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: amount.RoundBank(policy.Scale), Currency: policy.Currency}, nil
}

func lookup(currency string) (Policy, error) {
	policy, ok := PolicyFor(currency)
	if !ok {
		return Policy{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", currency))
	}
	return policy, nil
}

// Parse reads a decimal string such as "12.50".
func Parse(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid amount %q", amount))
	}
	return New(d, currency)
}

// MustParse is Parse for constants and tests.
func MustParse(amount, currency string) Money {
	m, err := Parse(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the currency.
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: NormalizeCurrency(currency)}
}

func (m Money) scale() int32 {
	if p, ok := PolicyFor(m.Currency); ok {
		return p.Scale
	}
	return 2
}

// Round applies the currency rounding policy.
func (m Money) Round() Money {
	return Money{Amount: m.Amount.RoundBank(m.scale()), Currency: m.Currency}
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("currency mismatch: %s vs %s", m.Currency, other.Currency))
	}
	return nil
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Mul multiplies by an integer quantity.
func (m Money) Mul(qty int64) Money {
	return Money{Amount: m.Amount.Mul(decimal.NewFromInt(qty)), Currency: m.Currency}
}

// Percent returns round(m * rate / 100) under the currency policy.
func (m Money) Percent(rate decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(rate).Div(hundred), Currency: m.Currency}.Round()
}

// Neg flips the sign.
func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

// Cmp compares amounts; currencies must already match.
func (m Money) Cmp(other Money) int {
	return m.Amount.Cmp(other.Amount)
}

// Equal reports equal currency and amount.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// String renders the amount at the currency scale, e.g. "89.00 USD".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixedBank(m.scale()), m.Currency)
}

// Fixed renders the amount alone at the currency scale, e.g. "89.00".
func (m Money) Fixed() string {
	return m.Amount.StringFixedBank(m.scale())
}

// Format renders a stored decimal at the currency scale.
func Format(amount decimal.Decimal, currency string) string {
	return Money{Amount: amount, Currency: NormalizeCurrency(currency)}.Fixed()
}

// Sum adds amounts that share the currency. An empty slice sums to zero.
func Sum(currency string, amounts ...Money) (Money, error) {
	total := Zero(currency)
	for _, a := range amounts {
		var err error
		total, err = total.Add(a)
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}
