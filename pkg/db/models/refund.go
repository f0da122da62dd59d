package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Refund records a RefundIssued request and the ledger rows it produced.
type Refund struct {
	ID                  uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID             uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	OrderItemID         *uuid.UUID      `gorm:"column:order_item_id;type:uuid"`
	Amount              decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency            string          `gorm:"column:currency;type:char(3);not null"`
	Reason              string          `gorm:"column:reason;not null"`
	CreditWallet        bool            `gorm:"column:credit_wallet;not null"`
	TransactionID       uuid.UUID       `gorm:"column:transaction_id;type:uuid;not null"`
	WalletTransactionID *uuid.UUID      `gorm:"column:wallet_transaction_id;type:uuid"`
	IdempotencyKey      string          `gorm:"column:idempotency_key;not null;uniqueIndex:ux_refunds_idempotency_key"`
	ActorID             uuid.UUID       `gorm:"column:actor_id;type:uuid;not null"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (Refund) TableName() string { return "refunds" }

func (r *Refund) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}
