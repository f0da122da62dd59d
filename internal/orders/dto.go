package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

// CreateOrderInput is an OrderCreated message from order intake.
type CreateOrderInput struct {
	// OrderNumber is generated when empty.
	OrderNumber    string
	CustomerID     uuid.UUID
	Currency       string
	Subtotal       *decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal
	Notes          *string
	Items          []CreateItemInput
	Payment        *PaymentInput
	ActorID        uuid.UUID
}

// CreateItemInput is one shop line of a new order.
type CreateItemInput struct {
	ShopID      uuid.UUID
	CategoryID  *uuid.UUID
	ProductRef  string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	// PlatformFee overrides the configured flat fee for this line.
	PlatformFee *decimal.Decimal
}

// PaymentInput records a payment collected for an order.
type PaymentInput struct {
	Amount         decimal.Decimal
	GatewayRef     string
	IdempotencyKey string
	// Captured writes the payment as completed instead of pending.
	Captured bool
}

// TransitionInput is an OrderStatusRequested message.
type TransitionInput struct {
	OrderID uuid.UUID
	To      enums.OrderStatus
	ActorID uuid.UUID
	Notes   *string
}

// ListFilters narrows order listings.
type ListFilters struct {
	Status     *enums.OrderStatus
	CustomerID *uuid.UUID
	ShopID     *uuid.UUID
}

// OrderList is one cursor page of orders.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
