package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

// Payout batches a shop's cleared commissions into one gateway request.
type Payout struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ShopID          uuid.UUID          `gorm:"column:shop_id;type:uuid;not null;index"`
	Amount          decimal.Decimal    `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency        string             `gorm:"column:currency;type:char(3);not null"`
	Status          enums.PayoutStatus `gorm:"column:status;type:text;not null"`
	PayoutMethod    enums.PayoutMethod `gorm:"column:payout_method;type:text;not null"`
	Destination     json.RawMessage    `gorm:"column:destination;type:jsonb"`
	AttemptKey      *string            `gorm:"column:attempt_key"`
	ReferenceNumber *string            `gorm:"column:reference_number"`
	FailureReason   *string            `gorm:"column:failure_reason"`
	RequestedAt     time.Time          `gorm:"column:requested_at;not null"`
	ProcessingAt    *time.Time         `gorm:"column:processing_at"`
	ProcessedAt     *time.Time         `gorm:"column:processed_at"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payout) TableName() string { return "payouts" }

func (p *Payout) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}

// PayoutCommission links a commission to the payout that claims it. A link
// is live until ReleasedAt is set by a failed payout.
type PayoutCommission struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	PayoutID     uuid.UUID       `gorm:"column:payout_id;type:uuid;not null;uniqueIndex:ux_payout_commissions_pair"`
	CommissionID uuid.UUID       `gorm:"column:commission_id;type:uuid;not null;uniqueIndex:ux_payout_commissions_pair;uniqueIndex:ux_payout_commissions_live,where:released_at IS NULL"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	LinkedAt     time.Time       `gorm:"column:linked_at;not null"`
	ReleasedAt   *time.Time      `gorm:"column:released_at"`
}

func (PayoutCommission) TableName() string { return "payout_commissions" }

func (l *PayoutCommission) BeforeCreate(*gorm.DB) error {
	assignID(&l.ID)
	return nil
}
