package reporting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

// commissionAmount is one commission's contribution to a balance bucket.
type commissionAmount struct {
	Status    enums.CommissionStatus
	Currency  string
	NetAmount decimal.Decimal
}

type payoutAmount struct {
	Status   enums.PayoutStatus
	Currency string
	Amount   decimal.Decimal
}

// periodCommission is one commission calculated inside a report period.
type periodCommission struct {
	Status           enums.CommissionStatus
	Currency         string
	GrossAmount      decimal.Decimal
	CommissionAmount decimal.Decimal
	PlatformFee      decimal.Decimal
	NetAmount        decimal.Decimal
}

type periodRefund struct {
	Currency string
	Amount   decimal.Decimal
}

// Repository reads the aggregates behind operator reports.
type Repository interface {
	FindShop(ctx context.Context, shopID uuid.UUID) (*models.ShopAccount, error)
	CommissionAmounts(ctx context.Context, shopID uuid.UUID) ([]commissionAmount, error)
	PayoutAmounts(ctx context.Context, shopID uuid.UUID) ([]payoutAmount, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	OrderTransactions(ctx context.Context, orderID uuid.UUID, page pagination.Page) ([]models.Transaction, int64, error)
	PeriodCommissions(ctx context.Context, shopID *uuid.UUID, start, end time.Time) ([]periodCommission, error)
	PeriodRefunds(ctx context.Context, start, end time.Time) ([]periodRefund, error)
	CreateReport(ctx context.Context, report *models.FinancialReport) error
	FindReport(ctx context.Context, id uuid.UUID) (*models.FinancialReport, error)
	ListReports(ctx context.Context, filter ReportFilter, page pagination.Page) ([]models.FinancialReport, int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the reporting repository to the provided DB handle.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindShop(ctx context.Context, shopID uuid.UUID) (*models.ShopAccount, error) {
	var shop models.ShopAccount
	if err := r.db.WithContext(ctx).First(&shop, "id = ?", shopID).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

func (r *repository) CommissionAmounts(ctx context.Context, shopID uuid.UUID) ([]commissionAmount, error) {
	var rows []commissionAmount
	if err := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Select("status, currency, net_amount").
		Where("shop_id = ?", shopID).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) PayoutAmounts(ctx context.Context, shopID uuid.UUID) ([]payoutAmount, error) {
	var rows []payoutAmount
	if err := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Select("status, currency, amount").
		Where("shop_id = ? AND status <> ?", shopID, enums.PayoutStatusFailed).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) OrderTransactions(ctx context.Context, orderID uuid.UUID, page pagination.Page) ([]models.Transaction, int64, error) {
	page = page.Normalize()
	query := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("order_id = ?", orderID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.Transaction
	if err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(page.Limit).
		Offset(page.Offset()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *repository) PeriodCommissions(ctx context.Context, shopID *uuid.UUID, start, end time.Time) ([]periodCommission, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Select("status, currency, gross_amount, commission_amount, platform_fee, net_amount").
		Where("calculated_at >= ? AND calculated_at < ?", start, end)
	if shopID != nil {
		query = query.Where("shop_id = ?", *shopID)
	}
	var rows []periodCommission
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// PeriodRefunds reads the refund ledger rows of the period. Refunds are
// recorded per order, so they only appear in platform reports.
func (r *repository) PeriodRefunds(ctx context.Context, start, end time.Time) ([]periodRefund, error) {
	var rows []periodRefund
	if err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("currency, amount").
		Where("type = ? AND created_at >= ? AND created_at < ?", enums.TransactionTypeRefund, start, end).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CreateReport(ctx context.Context, report *models.FinancialReport) error {
	return r.db.WithContext(ctx).Create(report).Error
}

func (r *repository) FindReport(ctx context.Context, id uuid.UUID) (*models.FinancialReport, error) {
	var report models.FinancialReport
	if err := r.db.WithContext(ctx).First(&report, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *repository) ListReports(ctx context.Context, filter ReportFilter, page pagination.Page) ([]models.FinancialReport, int64, error) {
	page = page.Normalize()
	scoped := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&models.FinancialReport{})
		if filter.Type != nil {
			query = query.Where("report_type = ?", *filter.Type)
		}
		if filter.ShopID != nil {
			query = query.Where("shop_id = ?", *filter.ShopID)
		}
		return query
	}
	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.FinancialReport
	if err := scoped().
		Order("generated_at DESC").
		Order("id DESC").
		Limit(page.Limit).
		Offset(page.Offset()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
