package models

import "github.com/google/uuid"

// assignID gives a row a client-side UUID so inserts work on every driver.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// AllModels lists every ledger table in dependency order.
func AllModels() []any {
	return []any{
		&ShopAccount{},
		&ShopCategoryRate{},
		&Order{},
		&OrderItem{},
		&OrderStatusHistory{},
		&Commission{},
		&Transaction{},
		&Payout{},
		&PayoutCommission{},
		&WalletTransaction{},
		&Refund{},
		&IntegrityFlag{},
		&Invoice{},
		&FinancialReport{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
