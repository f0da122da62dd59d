package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

// Order is the customer-facing aggregate. Totals are fixed at creation.
type Order struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber    string            `gorm:"column:order_number;uniqueIndex:ux_orders_order_number;not null"`
	CustomerID     uuid.UUID         `gorm:"column:customer_id;type:uuid;not null;index"`
	Status         enums.OrderStatus `gorm:"column:status;type:text;not null"`
	Currency       string            `gorm:"column:currency;type:char(3);not null"`
	Subtotal       decimal.Decimal   `gorm:"column:subtotal;type:numeric(12,2);not null"`
	TaxAmount      decimal.Decimal   `gorm:"column:tax_amount;type:numeric(12,2);not null"`
	ShippingAmount decimal.Decimal   `gorm:"column:shipping_amount;type:numeric(12,2);not null"`
	DiscountAmount decimal.Decimal   `gorm:"column:discount_amount;type:numeric(12,2);not null"`
	TotalAmount    decimal.Decimal   `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Notes          *string           `gorm:"column:notes"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
	ProcessingAt   *time.Time        `gorm:"column:processing_at"`
	ShippedAt      *time.Time        `gorm:"column:shipped_at"`
	DeliveredAt    *time.Time        `gorm:"column:delivered_at"`
	CancelledAt    *time.Time        `gorm:"column:cancelled_at"`
	RefundedAt     *time.Time        `gorm:"column:refunded_at"`
	FailedAt       *time.Time        `gorm:"column:failed_at"`

	Items []OrderItem `gorm:"foreignKey:OrderID;references:ID"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// OrderItem is one shop's line on an order. Rate, commission and fee are
// captured when the item is created and never change.
type OrderItem struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID          uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	ShopID           uuid.UUID             `gorm:"column:shop_id;type:uuid;not null;index"`
	CategoryID       *uuid.UUID            `gorm:"column:category_id;type:uuid"`
	ProductRef       string                `gorm:"column:product_ref;not null"`
	ProductName      string                `gorm:"column:product_name;not null"`
	Quantity         int                   `gorm:"column:quantity;not null"`
	UnitPrice        decimal.Decimal       `gorm:"column:unit_price;type:numeric(12,2);not null"`
	LineTotal        decimal.Decimal       `gorm:"column:line_total;type:numeric(12,2);not null"`
	CommissionRate   decimal.Decimal       `gorm:"column:commission_rate;type:numeric(5,2);not null"`
	CommissionAmount decimal.Decimal       `gorm:"column:commission_amount;type:numeric(12,2);not null"`
	PlatformFee      decimal.Decimal       `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	Status           enums.OrderItemStatus `gorm:"column:status;type:text;not null"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (OrderItem) TableName() string { return "order_items" }

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}

// OrderStatusHistory is the append-only audit trail of order transitions.
type OrderStatusHistory struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	FromStatus *enums.OrderStatus `gorm:"column:from_status;type:text"`
	ToStatus   enums.OrderStatus  `gorm:"column:to_status;type:text;not null"`
	ActorID    uuid.UUID          `gorm:"column:actor_id;type:uuid;not null"`
	Notes      *string            `gorm:"column:notes"`
	ChangedAt  time.Time          `gorm:"column:changed_at;not null"`
}

func (OrderStatusHistory) TableName() string { return "order_status_history" }

func (h *OrderStatusHistory) BeforeCreate(*gorm.DB) error {
	assignID(&h.ID)
	return nil
}
