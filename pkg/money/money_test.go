package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
)

func TestRoundedIsHalfToEven(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1.005", "1.00"},
		{"1.015", "1.02"},
		{"2.125", "2.12"},
		{"2.135", "2.14"},
		{"10", "10.00"},
	}
	for _, tc := range cases {
		m, err := Rounded(decimal.RequireFromString(tc.in), "usd")
		require.NoError(t, err)
		assert.Equal(t, tc.want, m.Amount.StringFixed(2), tc.in)
		assert.Equal(t, "USD", m.Currency)
	}
}

func TestParseRejectsAmountsFinerThanMinorUnit(t *testing.T) {
	for _, tc := range []struct{ amount, currency string }{
		{"19.995", "USD"},
		{"20.004", "EUR"},
		{"100.5", "JPY"},
	} {
		_, err := Parse(tc.amount, tc.currency)
		require.Error(t, err, tc.amount)
		assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
	}

	m, err := Parse("12.50", "usd")
	require.NoError(t, err)
	assert.Equal(t, "12.50 USD", m.String())

	// trailing zeros are not extra precision
	yen, err := New(decimal.RequireFromString("1200.00"), "JPY")
	require.NoError(t, err)
	assert.True(t, yen.Amount.Equal(decimal.NewFromInt(1200)))
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse("abc", "USD")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = Parse("1.00", "XXX")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestPercentUsesCurrencyScale(t *testing.T) {
	gross := MustParse("100.00", "USD")
	assert.Equal(t, "10.00", gross.Percent(decimal.NewFromInt(10)).Amount.StringFixed(2))

	odd := MustParse("0.25", "USD")
	// 0.025 rounds to the even neighbour
	assert.Equal(t, "0.02", odd.Percent(decimal.NewFromInt(10)).Amount.StringFixed(2))

	yen := MustParse("1005", "JPY")
	assert.True(t, yen.Percent(decimal.NewFromInt(10)).Amount.Equal(decimal.NewFromInt(100)))
}

func TestArithmeticRequiresSameCurrency(t *testing.T) {
	usd := MustParse("5.00", "USD")
	eur := MustParse("5.00", "EUR")

	_, err := usd.Add(eur)
	require.Error(t, err)

	diff, err := usd.Sub(MustParse("7.50", "USD"))
	require.NoError(t, err)
	assert.True(t, diff.IsNegative())
	assert.Equal(t, "-2.50 USD", diff.String())
}

func TestSum(t *testing.T) {
	total, err := Sum("USD", MustParse("89.00", "USD"), MustParse("48.00", "USD"))
	require.NoError(t, err)
	assert.True(t, total.Equal(MustParse("137.00", "USD")))

	empty, err := Sum("USD")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func TestMul(t *testing.T) {
	line := MustParse("19.99", "USD").Mul(3)
	assert.Equal(t, "59.97 USD", line.String())
}
