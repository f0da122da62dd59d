// Package views maps persisted ledger rows into API response bodies.
// Amounts are rendered as fixed-scale strings in their own currency.
package views

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-ledger/internal/reconciliation"
	"github.com/angelmondragon/settlement-ledger/internal/wallet"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/money"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

type Order struct {
	ID             uuid.UUID         `json:"id"`
	OrderNumber    string            `json:"order_number"`
	CustomerID     uuid.UUID         `json:"customer_id"`
	Status         enums.OrderStatus `json:"status"`
	Currency       string            `json:"currency"`
	Subtotal       string            `json:"subtotal"`
	TaxAmount      string            `json:"tax_amount"`
	ShippingAmount string            `json:"shipping_amount"`
	DiscountAmount string            `json:"discount_amount"`
	TotalAmount    string            `json:"total_amount"`
	Notes          *string           `json:"notes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	ProcessingAt   *time.Time        `json:"processing_at,omitempty"`
	ShippedAt      *time.Time        `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time        `json:"delivered_at,omitempty"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
	RefundedAt     *time.Time        `json:"refunded_at,omitempty"`
	FailedAt       *time.Time        `json:"failed_at,omitempty"`
	Items          []OrderItem       `json:"items,omitempty"`
}

type OrderItem struct {
	ID               uuid.UUID             `json:"id"`
	ShopID           uuid.UUID             `json:"shop_id"`
	CategoryID       *uuid.UUID            `json:"category_id,omitempty"`
	ProductRef       string                `json:"product_ref"`
	ProductName      string                `json:"product_name"`
	Quantity         int                   `json:"quantity"`
	UnitPrice        string                `json:"unit_price"`
	LineTotal        string                `json:"line_total"`
	CommissionRate   string                `json:"commission_rate"`
	CommissionAmount string                `json:"commission_amount"`
	PlatformFee      string                `json:"platform_fee"`
	Status           enums.OrderItemStatus `json:"status"`
}

func FromOrder(o *models.Order) Order {
	out := Order{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		CustomerID:     o.CustomerID,
		Status:         o.Status,
		Currency:       o.Currency,
		Subtotal:       money.Format(o.Subtotal, o.Currency),
		TaxAmount:      money.Format(o.TaxAmount, o.Currency),
		ShippingAmount: money.Format(o.ShippingAmount, o.Currency),
		DiscountAmount: money.Format(o.DiscountAmount, o.Currency),
		TotalAmount:    money.Format(o.TotalAmount, o.Currency),
		Notes:          o.Notes,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		ProcessingAt:   o.ProcessingAt,
		ShippedAt:      o.ShippedAt,
		DeliveredAt:    o.DeliveredAt,
		CancelledAt:    o.CancelledAt,
		RefundedAt:     o.RefundedAt,
		FailedAt:       o.FailedAt,
	}
	for _, item := range o.Items {
		out.Items = append(out.Items, OrderItem{
			ID:               item.ID,
			ShopID:           item.ShopID,
			CategoryID:       item.CategoryID,
			ProductRef:       item.ProductRef,
			ProductName:      item.ProductName,
			Quantity:         item.Quantity,
			UnitPrice:        money.Format(item.UnitPrice, o.Currency),
			LineTotal:        money.Format(item.LineTotal, o.Currency),
			CommissionRate:   rate(item.CommissionRate),
			CommissionAmount: money.Format(item.CommissionAmount, o.Currency),
			PlatformFee:      money.Format(item.PlatformFee, o.Currency),
			Status:           item.Status,
		})
	}
	return out
}

func FromOrders(rows []models.Order) []Order {
	out := make([]Order, 0, len(rows))
	for i := range rows {
		out = append(out, FromOrder(&rows[i]))
	}
	return out
}

type StatusChange struct {
	ID         uuid.UUID          `json:"id"`
	FromStatus *enums.OrderStatus `json:"from_status,omitempty"`
	ToStatus   enums.OrderStatus  `json:"to_status"`
	ActorID    uuid.UUID          `json:"actor_id"`
	Notes      *string            `json:"notes,omitempty"`
	ChangedAt  time.Time          `json:"changed_at"`
}

func FromHistory(rows []models.OrderStatusHistory) []StatusChange {
	out := make([]StatusChange, 0, len(rows))
	for _, row := range rows {
		out = append(out, StatusChange{
			ID:         row.ID,
			FromStatus: row.FromStatus,
			ToStatus:   row.ToStatus,
			ActorID:    row.ActorID,
			Notes:      row.Notes,
			ChangedAt:  row.ChangedAt,
		})
	}
	return out
}

type Transaction struct {
	ID              uuid.UUID               `json:"id"`
	Type            enums.TransactionType   `json:"type"`
	Status          enums.TransactionStatus `json:"status"`
	Amount          string                  `json:"amount"`
	Currency        string                  `json:"currency"`
	OrderID         *uuid.UUID              `json:"order_id,omitempty"`
	UserID          *uuid.UUID              `json:"user_id,omitempty"`
	ShopID          *uuid.UUID              `json:"shop_id,omitempty"`
	PayoutID        *uuid.UUID              `json:"payout_id,omitempty"`
	GatewayRef      *string                 `json:"gateway_ref,omitempty"`
	GatewayResponse json.RawMessage         `json:"gateway_response,omitempty"`
	FailureReason   *string                 `json:"failure_reason,omitempty"`
	Description     string                  `json:"description,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	ProcessedAt     *time.Time              `json:"processed_at,omitempty"`
}

func FromTransaction(t *models.Transaction) Transaction {
	return Transaction{
		ID:              t.ID,
		Type:            t.Type,
		Status:          t.Status,
		Amount:          money.Format(t.Amount, t.Currency),
		Currency:        t.Currency,
		OrderID:         t.OrderID,
		UserID:          t.UserID,
		ShopID:          t.ShopID,
		PayoutID:        t.PayoutID,
		GatewayRef:      t.GatewayRef,
		GatewayResponse: t.GatewayResponse,
		FailureReason:   t.FailureReason,
		Description:     t.Description,
		CreatedAt:       t.CreatedAt,
		ProcessedAt:     t.ProcessedAt,
	}
}

func FromTransactions(rows []models.Transaction) []Transaction {
	out := make([]Transaction, 0, len(rows))
	for i := range rows {
		out = append(out, FromTransaction(&rows[i]))
	}
	return out
}

type Commission struct {
	ID               uuid.UUID              `json:"id"`
	OrderItemID      uuid.UUID              `json:"order_item_id"`
	OrderID          uuid.UUID              `json:"order_id"`
	ShopID           uuid.UUID              `json:"shop_id"`
	GrossAmount      string                 `json:"gross_amount"`
	CommissionRate   string                 `json:"commission_rate"`
	CommissionAmount string                 `json:"commission_amount"`
	PlatformFee      string                 `json:"platform_fee"`
	NetAmount        string                 `json:"net_amount"`
	Currency         string                 `json:"currency"`
	Status           enums.CommissionStatus `json:"status"`
	CalculatedAt     time.Time              `json:"calculated_at"`
	ClearedAt        *time.Time             `json:"cleared_at,omitempty"`
	PaidOutAt        *time.Time             `json:"paid_out_at,omitempty"`
	DisputedAt       *time.Time             `json:"disputed_at,omitempty"`
}

func FromCommission(c *models.Commission) Commission {
	return Commission{
		ID:               c.ID,
		OrderItemID:      c.OrderItemID,
		OrderID:          c.OrderID,
		ShopID:           c.ShopID,
		GrossAmount:      money.Format(c.GrossAmount, c.Currency),
		CommissionRate:   rate(c.CommissionRate),
		CommissionAmount: money.Format(c.CommissionAmount, c.Currency),
		PlatformFee:      money.Format(c.PlatformFee, c.Currency),
		NetAmount:        money.Format(c.NetAmount, c.Currency),
		Currency:         c.Currency,
		Status:           c.Status,
		CalculatedAt:     c.CalculatedAt,
		ClearedAt:        c.ClearedAt,
		PaidOutAt:        c.PaidOutAt,
		DisputedAt:       c.DisputedAt,
	}
}

func FromCommissions(rows []models.Commission) []Commission {
	out := make([]Commission, 0, len(rows))
	for i := range rows {
		out = append(out, FromCommission(&rows[i]))
	}
	return out
}

type Payout struct {
	ID              uuid.UUID          `json:"id"`
	ShopID          uuid.UUID          `json:"shop_id"`
	Amount          string             `json:"amount"`
	Currency        string             `json:"currency"`
	Status          enums.PayoutStatus `json:"status"`
	PayoutMethod    enums.PayoutMethod `json:"payout_method"`
	AttemptKey      *string            `json:"attempt_key,omitempty"`
	ReferenceNumber *string            `json:"reference_number,omitempty"`
	FailureReason   *string            `json:"failure_reason,omitempty"`
	RequestedAt     time.Time          `json:"requested_at"`
	ProcessingAt    *time.Time         `json:"processing_at,omitempty"`
	ProcessedAt     *time.Time         `json:"processed_at,omitempty"`
	Commissions     []PayoutLink       `json:"commissions,omitempty"`
}

// PayoutLink is one commission carried by a payout.
type PayoutLink struct {
	CommissionID uuid.UUID  `json:"commission_id"`
	Amount       string     `json:"amount"`
	LinkedAt     time.Time  `json:"linked_at"`
	ReleasedAt   *time.Time `json:"released_at,omitempty"`
}

func FromPayout(p *models.Payout, links []models.PayoutCommission) Payout {
	out := Payout{
		ID:              p.ID,
		ShopID:          p.ShopID,
		Amount:          money.Format(p.Amount, p.Currency),
		Currency:        p.Currency,
		Status:          p.Status,
		PayoutMethod:    p.PayoutMethod,
		AttemptKey:      p.AttemptKey,
		ReferenceNumber: p.ReferenceNumber,
		FailureReason:   p.FailureReason,
		RequestedAt:     p.RequestedAt,
		ProcessingAt:    p.ProcessingAt,
		ProcessedAt:     p.ProcessedAt,
	}
	for _, link := range links {
		out.Commissions = append(out.Commissions, PayoutLink{
			CommissionID: link.CommissionID,
			Amount:       money.Format(link.Amount, p.Currency),
			LinkedAt:     link.LinkedAt,
			ReleasedAt:   link.ReleasedAt,
		})
	}
	return out
}

func FromPayouts(rows []models.Payout) []Payout {
	out := make([]Payout, 0, len(rows))
	for i := range rows {
		out = append(out, FromPayout(&rows[i], nil))
	}
	return out
}

type WalletEntry struct {
	ID            uuid.UUID             `json:"id"`
	Sequence      int64                 `json:"sequence"`
	Type          enums.WalletEntryType `json:"type"`
	Amount        string                `json:"amount"`
	Currency      string                `json:"currency"`
	BalanceAfter  string                `json:"balance_after"`
	TransactionID *uuid.UUID            `json:"transaction_id,omitempty"`
	Description   string                `json:"description,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
}

func FromWalletEntry(e *models.WalletTransaction) WalletEntry {
	return WalletEntry{
		ID:            e.ID,
		Sequence:      e.Sequence,
		Type:          e.Type,
		Amount:        money.Format(e.Amount, e.Currency),
		Currency:      e.Currency,
		BalanceAfter:  money.Format(e.BalanceAfter, e.Currency),
		TransactionID: e.TransactionID,
		Description:   e.Description,
		CreatedAt:     e.CreatedAt,
	}
}

func FromWalletEntries(rows []models.WalletTransaction) []WalletEntry {
	out := make([]WalletEntry, 0, len(rows))
	for i := range rows {
		out = append(out, FromWalletEntry(&rows[i]))
	}
	return out
}

// Wallet is a balance plus one page of its history.
type Wallet struct {
	UserID   uuid.UUID           `json:"user_id"`
	Balance  string              `json:"balance"`
	Currency string              `json:"currency,omitempty"`
	Sequence int64               `json:"sequence"`
	History  PageOf[WalletEntry] `json:"history"`
}

func FromWallet(b *wallet.Balance, history PageOf[WalletEntry]) Wallet {
	return Wallet{
		UserID:   b.UserID,
		Balance:  money.Format(b.Amount, b.Currency),
		Currency: b.Currency,
		Sequence: b.Sequence,
		History:  history,
	}
}

type Refund struct {
	ID                  uuid.UUID  `json:"id"`
	OrderID             uuid.UUID  `json:"order_id"`
	OrderItemID         *uuid.UUID `json:"order_item_id,omitempty"`
	Amount              string     `json:"amount"`
	Currency            string     `json:"currency"`
	Reason              string     `json:"reason"`
	CreditWallet        bool       `json:"credit_wallet"`
	TransactionID       uuid.UUID  `json:"transaction_id"`
	WalletTransactionID *uuid.UUID `json:"wallet_transaction_id,omitempty"`
	ActorID             uuid.UUID  `json:"actor_id"`
	CreatedAt           time.Time  `json:"created_at"`
}

func FromRefund(r *models.Refund) Refund {
	return Refund{
		ID:                  r.ID,
		OrderID:             r.OrderID,
		OrderItemID:         r.OrderItemID,
		Amount:              money.Format(r.Amount, r.Currency),
		Currency:            r.Currency,
		Reason:              r.Reason,
		CreditWallet:        r.CreditWallet,
		TransactionID:       r.TransactionID,
		WalletTransactionID: r.WalletTransactionID,
		ActorID:             r.ActorID,
		CreatedAt:           r.CreatedAt,
	}
}

type Flag struct {
	ID         uuid.UUID                 `json:"id"`
	EntityType enums.IntegrityEntityType `json:"entity_type"`
	EntityID   uuid.UUID                 `json:"entity_id"`
	Kind       enums.IntegrityFlagKind   `json:"kind"`
	Details    json.RawMessage           `json:"details,omitempty"`
	Status     enums.IntegrityFlagStatus `json:"status"`
	CreatedAt  time.Time                 `json:"created_at"`
	ResolvedAt *time.Time                `json:"resolved_at,omitempty"`
	ResolvedBy *uuid.UUID                `json:"resolved_by,omitempty"`
}

func FromFlag(f *models.IntegrityFlag) Flag {
	return Flag{
		ID:         f.ID,
		EntityType: f.EntityType,
		EntityID:   f.EntityID,
		Kind:       f.Kind,
		Details:    f.Details,
		Status:     f.Status,
		CreatedAt:  f.CreatedAt,
		ResolvedAt: f.ResolvedAt,
		ResolvedBy: f.ResolvedBy,
	}
}

func FromFlags(rows []models.IntegrityFlag) []Flag {
	out := make([]Flag, 0, len(rows))
	for i := range rows {
		out = append(out, FromFlag(&rows[i]))
	}
	return out
}

// Report is a reconciliation outcome.
type Report struct {
	EntityType enums.IntegrityEntityType `json:"entity_type"`
	EntityID   uuid.UUID                 `json:"entity_id"`
	Consistent bool                      `json:"consistent"`
	Flags      []Flag                    `json:"flags"`
}

func FromReport(r *reconciliation.Report) Report {
	return Report{
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Consistent: r.Consistent,
		Flags:      FromFlags(r.Flags),
	}
}

// PageOf is an offset page of rows.
type PageOf[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

func NewPage[T any](items []T, total int64, page pagination.Page) PageOf[T] {
	page = page.Normalize()
	if items == nil {
		items = []T{}
	}
	return PageOf[T]{Items: items, Total: total, Page: page.Page, Limit: page.Limit}
}

// CursorOf is a keyset page of rows.
type CursorOf[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

func rate(r decimal.Decimal) string {
	return r.StringFixed(2)
}

// DeadLetter is an outbox event the publisher stopped retrying.
type DeadLetter struct {
	EventID       uuid.UUID                  `json:"event_id"`
	EventType     enums.OutboxEventType      `json:"event_type"`
	AggregateType enums.OutboxAggregateType  `json:"aggregate_type"`
	AggregateID   uuid.UUID                  `json:"aggregate_id"`
	Reason        enums.OutboxDLQErrorReason `json:"reason"`
	Error         *string                    `json:"error,omitempty"`
	Attempts      int                        `json:"attempts"`
	FailedAt      time.Time                  `json:"failed_at"`
}

func FromDeadLetters(rows []models.OutboxDLQ) []DeadLetter {
	out := make([]DeadLetter, 0, len(rows))
	for _, row := range rows {
		out = append(out, DeadLetter{
			EventID:       row.EventID,
			EventType:     row.EventType,
			AggregateType: row.AggregateType,
			AggregateID:   row.AggregateID,
			Reason:        row.ErrorReason,
			Error:         row.ErrorMessage,
			Attempts:      row.AttemptCount,
			FailedAt:      row.FailedAt,
		})
	}
	return out
}

type Invoice struct {
	ID            uuid.UUID           `json:"id"`
	ShopID        uuid.UUID           `json:"shop_id"`
	InvoiceNumber string              `json:"invoice_number"`
	PeriodStart   time.Time           `json:"period_start"`
	PeriodEnd     time.Time           `json:"period_end"`
	Currency      string              `json:"currency"`
	Subtotal      string              `json:"subtotal"`
	TaxAmount     string              `json:"tax_amount"`
	TotalAmount   string              `json:"total_amount"`
	Commissions   int                 `json:"commission_count"`
	Status        enums.InvoiceStatus `json:"status"`
	GeneratedAt   time.Time           `json:"generated_at"`
	SentAt        *time.Time          `json:"sent_at,omitempty"`
	DueDate       *time.Time          `json:"due_date,omitempty"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	VoidedAt      *time.Time          `json:"voided_at,omitempty"`
}

func FromInvoice(i *models.Invoice) Invoice {
	return Invoice{
		ID:            i.ID,
		ShopID:        i.ShopID,
		InvoiceNumber: i.InvoiceNumber,
		PeriodStart:   i.PeriodStart,
		PeriodEnd:     i.PeriodEnd,
		Currency:      i.Currency,
		Subtotal:      money.Format(i.Subtotal, i.Currency),
		TaxAmount:     money.Format(i.TaxAmount, i.Currency),
		TotalAmount:   money.Format(i.TotalAmount, i.Currency),
		Commissions:   i.Commissions,
		Status:        i.Status,
		GeneratedAt:   i.GeneratedAt,
		SentAt:        i.SentAt,
		DueDate:       i.DueDate,
		PaidAt:        i.PaidAt,
		VoidedAt:      i.VoidedAt,
	}
}

func FromInvoices(rows []models.Invoice) []Invoice {
	out := make([]Invoice, 0, len(rows))
	for i := range rows {
		out = append(out, FromInvoice(&rows[i]))
	}
	return out
}

// FinancialReport is a stored report snapshot. Data is the report body as
// generated.
type FinancialReport struct {
	ID          uuid.UUID        `json:"id"`
	ReportType  enums.ReportType `json:"report_type"`
	ShopID      *uuid.UUID       `json:"shop_id,omitempty"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
	Data        json.RawMessage  `json:"data"`
	GeneratedAt time.Time        `json:"generated_at"`
}

func FromFinancialReport(r *models.FinancialReport) FinancialReport {
	return FinancialReport{
		ID:          r.ID,
		ReportType:  r.ReportType,
		ShopID:      r.ShopID,
		PeriodStart: r.PeriodStart,
		PeriodEnd:   r.PeriodEnd,
		Data:        r.Data,
		GeneratedAt: r.GeneratedAt,
	}
}

// FromFinancialReports lists reports without their bodies.
func FromFinancialReports(rows []models.FinancialReport) []FinancialReport {
	out := make([]FinancialReport, 0, len(rows))
	for i := range rows {
		row := FromFinancialReport(&rows[i])
		row.Data = nil
		out = append(out, row)
	}
	return out
}
