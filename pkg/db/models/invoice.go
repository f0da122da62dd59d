package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

// Invoice bills a shop for the platform commission and fees earned on its
// sales in one billing period. Only one non-void invoice exists per shop,
// period and currency.
type Invoice struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ShopID        uuid.UUID           `gorm:"column:shop_id;type:uuid;not null;uniqueIndex:ux_invoices_shop_period_live,where:status <> 'void'"`
	InvoiceNumber string              `gorm:"column:invoice_number;not null;uniqueIndex:ux_invoices_number"`
	PeriodStart   time.Time           `gorm:"column:period_start;not null;uniqueIndex:ux_invoices_shop_period_live,where:status <> 'void'"`
	PeriodEnd     time.Time           `gorm:"column:period_end;not null"`
	Currency      string              `gorm:"column:currency;type:char(3);not null;uniqueIndex:ux_invoices_shop_period_live,where:status <> 'void'"`
	Subtotal      decimal.Decimal     `gorm:"column:subtotal;type:numeric(12,2);not null"`
	TaxAmount     decimal.Decimal     `gorm:"column:tax_amount;type:numeric(12,2);not null"`
	TotalAmount   decimal.Decimal     `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Commissions   int                 `gorm:"column:commission_count;not null"`
	Status        enums.InvoiceStatus `gorm:"column:status;type:text;not null;index"`
	GeneratedAt   time.Time           `gorm:"column:generated_at;not null"`
	SentAt        *time.Time          `gorm:"column:sent_at"`
	DueDate       *time.Time          `gorm:"column:due_date"`
	PaidAt        *time.Time          `gorm:"column:paid_at"`
	VoidedAt      *time.Time          `gorm:"column:voided_at"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Invoice) TableName() string { return "invoices" }

func (i *Invoice) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}

// FinancialReport is a stored snapshot of a report over one period. ShopID
// is nil for platform-wide reports.
type FinancialReport struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	ReportType  enums.ReportType `gorm:"column:report_type;type:text;not null;index:ix_financial_reports_type_period"`
	ShopID      *uuid.UUID       `gorm:"column:shop_id;type:uuid;index"`
	PeriodStart time.Time        `gorm:"column:period_start;not null;index:ix_financial_reports_type_period"`
	PeriodEnd   time.Time        `gorm:"column:period_end;not null"`
	Data        json.RawMessage  `gorm:"column:report_data;type:jsonb;not null"`
	GeneratedAt time.Time        `gorm:"column:generated_at;not null"`
}

func (FinancialReport) TableName() string { return "financial_reports" }

func (r *FinancialReport) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}
