package ledger

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/money"
)

// RecordInput captures the immutable data a ledger transaction requires.
type RecordInput struct {
	Type           enums.TransactionType
	Amount         money.Money
	OrderID        *uuid.UUID
	UserID         *uuid.UUID
	ShopID         *uuid.UUID
	PayoutID       *uuid.UUID
	GatewayRef     *string
	IdempotencyKey string
	Description    string
	// Settled writes the row directly as completed. Only in-process
	// bookkeeping (commission, payout, wallet entries) uses it.
	Settled bool
}

// ListFilters narrows ledger listings.
type ListFilters struct {
	Type    *enums.TransactionType
	Status  *enums.TransactionStatus
	ShopID  *uuid.UUID
	OrderID *uuid.UUID
}

// TransactionList is one cursor page of ledger rows.
type TransactionList struct {
	Transactions []models.Transaction `json:"transactions"`
	NextCursor   string               `json:"next_cursor,omitempty"`
}
