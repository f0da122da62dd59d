package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

// Transaction is an append-only ledger entry. Once its status leaves pending
// the row is frozen.
type Transaction struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	Type            enums.TransactionType   `gorm:"column:type;type:text;not null;index:ix_transactions_order_type"`
	Status          enums.TransactionStatus `gorm:"column:status;type:text;not null"`
	Amount          decimal.Decimal         `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency        string                  `gorm:"column:currency;type:char(3);not null"`
	OrderID         *uuid.UUID              `gorm:"column:order_id;type:uuid;index:ix_transactions_order_type"`
	UserID          *uuid.UUID              `gorm:"column:user_id;type:uuid"`
	ShopID          *uuid.UUID              `gorm:"column:shop_id;type:uuid"`
	PayoutID        *uuid.UUID              `gorm:"column:payout_id;type:uuid"`
	GatewayRef      *string                 `gorm:"column:gateway_ref"`
	GatewayResponse json.RawMessage         `gorm:"column:gateway_response;type:jsonb"`
	FailureReason   *string                 `gorm:"column:failure_reason"`
	IdempotencyKey  *string                 `gorm:"column:idempotency_key;uniqueIndex:ux_transactions_idempotency_key"`
	Description     string                  `gorm:"column:description"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime"`
	ProcessedAt     *time.Time              `gorm:"column:processed_at"`
}

func (Transaction) TableName() string { return "transactions" }

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	assignID(&t.ID)
	return nil
}
