package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

// WalletTransaction is one entry in a user's wallet log. Sequence is dense
// per user and BalanceAfter is the running balance after this entry.
type WalletTransaction struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	UserID         uuid.UUID             `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_wallet_transactions_user_seq"`
	Sequence       int64                 `gorm:"column:sequence;not null;uniqueIndex:ux_wallet_transactions_user_seq"`
	Type           enums.WalletEntryType `gorm:"column:type;type:text;not null"`
	Amount         decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency       string                `gorm:"column:currency;type:char(3);not null"`
	BalanceAfter   decimal.Decimal       `gorm:"column:balance_after;type:numeric(12,2);not null"`
	TransactionID  *uuid.UUID            `gorm:"column:transaction_id;type:uuid"`
	IdempotencyKey *string               `gorm:"column:idempotency_key;uniqueIndex:ux_wallet_transactions_idempotency_key"`
	Description    string                `gorm:"column:description"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

func (w *WalletTransaction) BeforeCreate(*gorm.DB) error {
	assignID(&w.ID)
	return nil
}

// SignedAmount is the balance delta of the entry.
func (w WalletTransaction) SignedAmount() decimal.Decimal {
	if w.Type.IsDebit() {
		return w.Amount.Neg()
	}
	return w.Amount
}
