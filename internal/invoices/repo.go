package invoices

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

// charge is what one commission contributes to an invoice.
type charge struct {
	CommissionAmount decimal.Decimal
	PlatformFee      decimal.Decimal
}

// Repository persists invoices.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindShop(ctx context.Context, shopID uuid.UUID) (*models.ShopAccount, error)
	PeriodCharges(ctx context.Context, shopID uuid.UUID, currency string, start, end time.Time) ([]charge, error)
	FindLive(ctx context.Context, shopID uuid.UUID, start time.Time, currency string) (*models.Invoice, error)
	Create(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.InvoiceStatus, updates map[string]any) (int64, error)
	ListByShop(ctx context.Context, shopID uuid.UUID, status *enums.InvoiceStatus, page pagination.Page) ([]models.Invoice, int64, error)
	ListPastDueIDs(ctx context.Context, asOf time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the invoice repository to the provided DB handle.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindShop(ctx context.Context, shopID uuid.UUID) (*models.ShopAccount, error) {
	var shop models.ShopAccount
	if err := r.db.WithContext(ctx).First(&shop, "id = ?", shopID).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

// PeriodCharges returns the platform take of every commission calculated in
// [start, end). Disputed commissions are not billed.
func (r *repository) PeriodCharges(ctx context.Context, shopID uuid.UUID, currency string, start, end time.Time) ([]charge, error) {
	var rows []charge
	if err := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Select("commission_amount, platform_fee").
		Where("shop_id = ? AND currency = ?", shopID, currency).
		Where("calculated_at >= ? AND calculated_at < ?", start, end).
		Where("status <> ?", enums.CommissionStatusDisputed).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindLive(ctx context.Context, shopID uuid.UUID, start time.Time, currency string) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Where("shop_id = ? AND period_start = ? AND currency = ? AND status <> ?", shopID, start, currency, enums.InvoiceStatusVoid).
		First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).First(&invoice, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&invoice, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.InvoiceStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) ListByShop(ctx context.Context, shopID uuid.UUID, status *enums.InvoiceStatus, page pagination.Page) ([]models.Invoice, int64, error) {
	page = page.Normalize()
	scoped := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&models.Invoice{}).Where("shop_id = ?", shopID)
		if status != nil {
			query = query.Where("status = ?", *status)
		}
		return query
	}
	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.Invoice
	if err := scoped().
		Order("period_start DESC").
		Order("id DESC").
		Limit(page.Limit).
		Offset(page.Offset()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ListPastDueIDs returns sent invoices whose due date passed, oldest first.
func (r *repository) ListPastDueIDs(ctx context.Context, asOf time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("status = ? AND due_date < ?", enums.InvoiceStatusSent, asOf).
		Order("due_date ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
