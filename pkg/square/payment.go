package square

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/settlement-ledger/pkg/money"
)

// PaymentStatus is the Square payment lifecycle value.
type PaymentStatus string

const (
	PaymentApproved  PaymentStatus = "APPROVED"
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentCanceled  PaymentStatus = "CANCELED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Terminal reports whether Square will not move the payment again.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentCanceled || s == PaymentFailed
}

// Payment is the ledger's view of a Square payment.
type Payment struct {
	ID       string
	Status   PaymentStatus
	Amount   decimal.Decimal
	Currency string
	Raw      json.RawMessage
}

func fromSquarePayment(p *sq.Payment) (*Payment, error) {
	if p == nil {
		return nil, errors.New("payment missing from response")
	}
	out := &Payment{
		ID:     stringValue(p.GetID()),
		Status: PaymentStatus(strings.ToUpper(stringValue(p.GetStatus()))),
	}
	if amount := p.GetAmountMoney(); amount != nil {
		currency := ""
		if amount.GetCurrency() != nil {
			currency = string(*amount.GetCurrency())
		}
		minor := int64(0)
		if amount.GetAmount() != nil {
			minor = *amount.GetAmount()
		}
		value, err := fromMinorUnits(minor, currency)
		if err != nil {
			return nil, err
		}
		out.Amount = value
		out.Currency = money.NormalizeCurrency(currency)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payment: %w", err)
	}
	out.Raw = raw
	return out, nil
}

// fromMinorUnits converts Square's integer amount to a decimal at the
// currency's scale.
func fromMinorUnits(minor int64, currency string) (decimal.Decimal, error) {
	policy, ok := money.PolicyFor(currency)
	if !ok {
		return decimal.Zero, fmt.Errorf("unsupported currency %q", currency)
	}
	return decimal.New(minor, -policy.Scale), nil
}
