package enums

import "fmt"

// WalletEntryType classifies a per-user wallet ledger entry.
type WalletEntryType string

const (
	WalletEntryDeposit      WalletEntryType = "deposit"
	WalletEntryWithdrawal   WalletEntryType = "withdrawal"
	WalletEntryPayment      WalletEntryType = "payment"
	WalletEntryRefundCredit WalletEntryType = "refund_credit"
)

var validWalletEntryTypes = []WalletEntryType{
	WalletEntryDeposit,
	WalletEntryWithdrawal,
	WalletEntryPayment,
	WalletEntryRefundCredit,
}

// IsValid reports whether the value is a known WalletEntryType.
func (t WalletEntryType) IsValid() bool {
	for _, candidate := range validWalletEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsDebit reports whether the entry reduces the balance.
func (t WalletEntryType) IsDebit() bool {
	return t == WalletEntryWithdrawal || t == WalletEntryPayment
}

// LedgerType maps the wallet entry onto the global transaction ledger.
func (t WalletEntryType) LedgerType() TransactionType {
	if t.IsDebit() {
		return TransactionTypeWalletWithdrawal
	}
	return TransactionTypeWalletDeposit
}

// ParseWalletEntryType converts raw input into a WalletEntryType.
func ParseWalletEntryType(value string) (WalletEntryType, error) {
	for _, candidate := range validWalletEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet entry type %q", value)
}
