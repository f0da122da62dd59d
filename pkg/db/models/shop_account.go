package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

// ShopAccount holds a shop's settlement terms. Its row doubles as the
// per-shop lock taken by payout batching.
type ShopAccount struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Name              string             `gorm:"column:name;not null"`
	CommissionRate    decimal.Decimal    `gorm:"column:commission_rate;type:numeric(5,2);not null"`
	PayoutMethod      enums.PayoutMethod `gorm:"column:payout_method;type:text;not null"`
	PayoutDestination json.RawMessage    `gorm:"column:payout_destination;type:jsonb"`
	Currency          string             `gorm:"column:currency;type:char(3);not null"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (ShopAccount) TableName() string { return "shop_accounts" }

// ShopCategoryRate overrides the shop rate for one category.
type ShopCategoryRate struct {
	ShopID         uuid.UUID       `gorm:"column:shop_id;type:uuid;primaryKey"`
	CategoryID     uuid.UUID       `gorm:"column:category_id;type:uuid;primaryKey"`
	CommissionRate decimal.Decimal `gorm:"column:commission_rate_override;type:numeric(5,2);not null"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (ShopCategoryRate) TableName() string { return "shop_category_rates" }
