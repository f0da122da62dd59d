package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

// Commission is the platform's cut of one order item and what the shop is
// owed for it. Amounts are immutable; only the status advances.
type Commission struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrderItemID      uuid.UUID              `gorm:"column:order_item_id;type:uuid;not null;uniqueIndex:ux_commissions_order_item"`
	OrderID          uuid.UUID              `gorm:"column:order_id;type:uuid;not null;index"`
	ShopID           uuid.UUID              `gorm:"column:shop_id;type:uuid;not null;index:ix_commissions_shop_status"`
	GrossAmount      decimal.Decimal        `gorm:"column:gross_amount;type:numeric(12,2);not null"`
	CommissionRate   decimal.Decimal        `gorm:"column:commission_rate;type:numeric(5,2);not null"`
	CommissionAmount decimal.Decimal        `gorm:"column:commission_amount;type:numeric(12,2);not null"`
	PlatformFee      decimal.Decimal        `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	NetAmount        decimal.Decimal        `gorm:"column:net_amount;type:numeric(12,2);not null"`
	Currency         string                 `gorm:"column:currency;type:char(3);not null"`
	Status           enums.CommissionStatus `gorm:"column:status;type:text;not null;index:ix_commissions_shop_status"`
	CalculatedAt     time.Time              `gorm:"column:calculated_at;not null"`
	ClearedAt        *time.Time             `gorm:"column:cleared_at"`
	PaidOutAt        *time.Time             `gorm:"column:paid_out_at"`
	DisputedAt       *time.Time             `gorm:"column:disputed_at"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (Commission) TableName() string { return "commissions" }

func (c *Commission) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}
