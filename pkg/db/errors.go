package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// sqliteUniqueColumns maps ledger index names to the column list sqlite puts
// in its constraint error, which never names the index.
var sqliteUniqueColumns = map[string]string{
	"ux_orders_order_number":                 "orders.order_number",
	"ux_commissions_order_item":              "commissions.order_item_id",
	"ux_transactions_idempotency_key":        "transactions.idempotency_key",
	"ux_payout_commissions_pair":             "payout_commissions.payout_id, payout_commissions.commission_id",
	"ux_payout_commissions_live":             "payout_commissions.commission_id",
	"ux_wallet_transactions_user_seq":        "wallet_transactions.user_id, wallet_transactions.sequence",
	"ux_wallet_transactions_idempotency_key": "wallet_transactions.idempotency_key",
	"ux_refunds_idempotency_key":             "refunds.idempotency_key",
	"ux_integrity_flags_open":                "integrity_flags.entity_type, integrity_flags.entity_id, integrity_flags.kind",
	"ux_invoices_number":                     "invoices.invoice_number",
	"ux_invoices_shop_period_live":           "invoices.shop_id, invoices.period_start, invoices.currency",
}

// IsUniqueViolation reports whether err is a unique constraint violation on
// Postgres (pgx or lib/pq) or sqlite. When constraintName is provided the
// violated constraint must match it.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) && constraintName == "" {
		return true
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) && pgxErr.Code == pgUniqueViolation {
		return constraintName == "" || pgxErr.ConstraintName == constraintName
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
		return constraintName == "" || pqErr.Constraint == constraintName
	}

	msg := err.Error()
	unique := strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
	if !unique {
		return false
	}
	if constraintName == "" || strings.Contains(msg, constraintName) {
		return true
	}
	if columns, ok := sqliteUniqueColumns[constraintName]; ok {
		return strings.HasSuffix(strings.TrimSpace(msg), "failed: "+columns)
	}
	return false
}

// IsNotFound reports gorm's record-not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
