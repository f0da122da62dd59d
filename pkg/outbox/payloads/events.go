package payloads

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

// Amounts travel as fixed-scale decimal strings ("89.00").

// OrderStatusChangedEvent is emitted on every accepted order transition.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	CustomerID  uuid.UUID         `json:"customer_id"`
	From        enums.OrderStatus `json:"from"`
	To          enums.OrderStatus `json:"to"`
	ActorID     uuid.UUID         `json:"actor_id"`
	TotalAmount string            `json:"total_amount"`
	Currency    string            `json:"currency"`
	ChangedAt   time.Time         `json:"changed_at"`
}

// CommissionComputedEvent is emitted once per order item.
type CommissionComputedEvent struct {
	CommissionID     uuid.UUID `json:"commission_id"`
	OrderID          uuid.UUID `json:"order_id"`
	OrderItemID      uuid.UUID `json:"order_item_id"`
	ShopID           uuid.UUID `json:"shop_id"`
	GrossAmount      string    `json:"gross_amount"`
	CommissionRate   string    `json:"commission_rate"`
	CommissionAmount string    `json:"commission_amount"`
	PlatformFee      string    `json:"platform_fee"`
	NetAmount        string    `json:"net_amount"`
	Currency         string    `json:"currency"`
	CalculatedAt     time.Time `json:"calculated_at"`
}

// CommissionClearedEvent is emitted when a commission becomes payable.
type CommissionClearedEvent struct {
	CommissionID uuid.UUID `json:"commission_id"`
	ShopID       uuid.UUID `json:"shop_id"`
	NetAmount    string    `json:"net_amount"`
	Currency     string    `json:"currency"`
	ClearedAt    time.Time `json:"cleared_at"`
}

// RefundIssuedEvent records a compensating refund.
type RefundIssuedEvent struct {
	RefundID       uuid.UUID   `json:"refund_id"`
	OrderID        uuid.UUID   `json:"order_id"`
	OrderItemID    *uuid.UUID  `json:"order_item_id,omitempty"`
	TransactionID  uuid.UUID   `json:"transaction_id"`
	Amount         string      `json:"amount"`
	Currency       string      `json:"currency"`
	Reason         string      `json:"reason"`
	DisputedIDs    []uuid.UUID `json:"disputed_commission_ids,omitempty"`
	WalletCredited bool        `json:"wallet_credited"`
	AfterPayout    bool        `json:"after_payout"`
	IssuedAt       time.Time   `json:"issued_at"`
}

// PayoutCreatedEvent is emitted when batching claims commissions.
type PayoutCreatedEvent struct {
	PayoutID      uuid.UUID   `json:"payout_id"`
	ShopID        uuid.UUID   `json:"shop_id"`
	Amount        string      `json:"amount"`
	Currency      string      `json:"currency"`
	CommissionIDs []uuid.UUID `json:"commission_ids"`
	RequestedAt   time.Time   `json:"requested_at"`
}

// PayoutRequestEvent is the instruction sent to the payment gateway.
type PayoutRequestEvent struct {
	PayoutID       uuid.UUID          `json:"payout_id"`
	ShopID         uuid.UUID          `json:"shop_id"`
	Amount         string             `json:"amount"`
	Currency       string             `json:"currency"`
	Method         enums.PayoutMethod `json:"method"`
	Destination    json.RawMessage    `json:"destination,omitempty"`
	IdempotencyKey string             `json:"idempotency_key"`
}

// PayoutResultEvent is the gateway reply consumed by the worker.
type PayoutResultEvent struct {
	PayoutID       uuid.UUID `json:"payout_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Success        bool      `json:"success"`
	Reference      string    `json:"reference,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
}

// PayoutSettledEvent is emitted when a payout completes or fails.
type PayoutSettledEvent struct {
	PayoutID      uuid.UUID          `json:"payout_id"`
	ShopID        uuid.UUID          `json:"shop_id"`
	Status        enums.PayoutStatus `json:"status"`
	Amount        string             `json:"amount"`
	Currency      string             `json:"currency"`
	Reference     string             `json:"reference,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty"`
	CommissionIDs []uuid.UUID        `json:"commission_ids"`
	SettledAt     time.Time          `json:"settled_at"`
}

// WalletEntryAppliedEvent is emitted for every wallet ledger append.
type WalletEntryAppliedEvent struct {
	EntryID      uuid.UUID             `json:"entry_id"`
	UserID       uuid.UUID             `json:"user_id"`
	Sequence     int64                 `json:"sequence"`
	Type         enums.WalletEntryType `json:"type"`
	Amount       string                `json:"amount"`
	BalanceAfter string                `json:"balance_after"`
	Currency     string                `json:"currency"`
}

// IntegrityViolationEvent is the operator alert for a failed reconciliation.
type IntegrityViolationEvent struct {
	FlagID     uuid.UUID                 `json:"flag_id"`
	EntityType enums.IntegrityEntityType `json:"entity_type"`
	EntityID   uuid.UUID                 `json:"entity_id"`
	Kind       enums.IntegrityFlagKind   `json:"kind"`
	Details    json.RawMessage           `json:"details,omitempty"`
	DetectedAt time.Time                 `json:"detected_at"`
}

// InvoiceStatusEvent is emitted when an invoice is generated or changes status.
type InvoiceStatusEvent struct {
	InvoiceID     uuid.UUID           `json:"invoice_id"`
	ShopID        uuid.UUID           `json:"shop_id"`
	InvoiceNumber string              `json:"invoice_number"`
	Status        enums.InvoiceStatus `json:"status"`
	TotalAmount   string              `json:"total_amount"`
	Currency      string              `json:"currency"`
	DueDate       *time.Time          `json:"due_date,omitempty"`
	ChangedAt     time.Time           `json:"changed_at"`
}
