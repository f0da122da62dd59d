package commissions

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/money"
)

var maxRate = decimal.NewFromInt(100)

// Breakdown splits a gross line amount into platform commission, platform
// fee and the net owed to the shop.
type Breakdown struct {
	Gross      money.Money
	Rate       decimal.Decimal
	Commission money.Money
	Fee        money.Money
	Net        money.Money
}

// Calculate applies rate (a percentage) to gross and subtracts the fee.
// The commission is rounded once under the currency policy and the net is
// derived from the rounded figures so gross = commission + fee + net.
func Calculate(gross money.Money, rate decimal.Decimal, fee money.Money) (Breakdown, error) {
	if err := ValidateRate(rate); err != nil {
		return Breakdown{}, err
	}
	gross = gross.Round()
	fee = fee.Round()
	if gross.IsNegative() {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "gross amount must not be negative")
	}
	if fee.IsNegative() {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "platform fee must not be negative")
	}
	commission := gross.Percent(rate)
	afterCommission, err := gross.Sub(commission)
	if err != nil {
		return Breakdown{}, err
	}
	net, err := afterCommission.Sub(fee)
	if err != nil {
		return Breakdown{}, err
	}
	if net.IsNegative() {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "commission and fee exceed gross amount").
			WithDetails(map[string]any{
				"gross":      gross.Amount.String(),
				"commission": commission.Amount.String(),
				"fee":        fee.Amount.String(),
			})
	}
	return Breakdown{
		Gross:      gross,
		Rate:       rate,
		Commission: commission,
		Fee:        fee,
		Net:        net,
	}, nil
}

// ValidateRate rejects rates outside [0, 100].
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(maxRate) {
		return pkgerrors.New(pkgerrors.CodeValidation, "commission rate must be between 0 and 100").
			WithReason(pkgerrors.ReasonInvalidRate)
	}
	return nil
}
