package reconciliation

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

// Repository reads ledger state for the checks and stores integrity flags.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateFlag(ctx context.Context, flag *models.IntegrityFlag) error
	FindOpenFlag(ctx context.Context, entityType enums.IntegrityEntityType, entityID uuid.UUID, kind enums.IntegrityFlagKind) (*models.IntegrityFlag, error)
	FindFlag(ctx context.Context, id uuid.UUID) (*models.IntegrityFlag, error)
	ResolveFlag(ctx context.Context, id uuid.UUID, resolvedBy uuid.UUID, at time.Time) (int64, error)
	ListFlags(ctx context.Context, status enums.IntegrityFlagStatus, entityType *enums.IntegrityEntityType, page pagination.Page) ([]models.IntegrityFlag, int64, error)

	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	LiveLinkAmounts(ctx context.Context, payoutID uuid.UUID) ([]decimal.Decimal, error)
	LinkedCommissionStatuses(ctx context.Context, payoutID uuid.UUID) ([]enums.CommissionStatus, error)
	CompletedPayoutAmounts(ctx context.Context, shopID uuid.UUID) ([]decimal.Decimal, error)
	EntitledNetAmounts(ctx context.Context, shopID uuid.UUID) ([]decimal.Decimal, error)

	RecentOrderIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
	RecentPayouts(ctx context.Context, since time.Time, limit int) ([]models.Payout, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the reconciliation repository to the provided DB handle.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateFlag(ctx context.Context, flag *models.IntegrityFlag) error {
	return r.db.WithContext(ctx).Create(flag).Error
}

func (r *repository) FindOpenFlag(ctx context.Context, entityType enums.IntegrityEntityType, entityID uuid.UUID, kind enums.IntegrityFlagKind) (*models.IntegrityFlag, error) {
	var flag models.IntegrityFlag
	if err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND kind = ? AND status = ?", entityType, entityID, kind, enums.IntegrityFlagOpen).
		Take(&flag).Error; err != nil {
		return nil, err
	}
	return &flag, nil
}

func (r *repository) FindFlag(ctx context.Context, id uuid.UUID) (*models.IntegrityFlag, error) {
	var flag models.IntegrityFlag
	if err := r.db.WithContext(ctx).First(&flag, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &flag, nil
}

func (r *repository) ResolveFlag(ctx context.Context, id uuid.UUID, resolvedBy uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.IntegrityFlag{}).
		Where("id = ? AND status = ?", id, enums.IntegrityFlagOpen).
		Updates(map[string]any{
			"status":      enums.IntegrityFlagResolved,
			"resolved_at": at,
			"resolved_by": resolvedBy,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ListFlags(ctx context.Context, status enums.IntegrityFlagStatus, entityType *enums.IntegrityEntityType, page pagination.Page) ([]models.IntegrityFlag, int64, error) {
	page = page.Normalize()
	scoped := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&models.IntegrityFlag{}).Where("status = ?", status)
		if entityType != nil {
			query = query.Where("entity_type = ?", *entityType)
		}
		return query
	}
	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.IntegrityFlag
	if err := scoped().
		Order("created_at DESC").
		Order("id DESC").
		Limit(page.Limit).
		Offset(page.Offset()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	if err := r.db.WithContext(ctx).First(&payout, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) LiveLinkAmounts(ctx context.Context, payoutID uuid.UUID) ([]decimal.Decimal, error) {
	var amounts []decimal.Decimal
	if err := r.db.WithContext(ctx).
		Model(&models.PayoutCommission{}).
		Where("payout_id = ? AND released_at IS NULL", payoutID).
		Pluck("amount", &amounts).Error; err != nil {
		return nil, err
	}
	return amounts, nil
}

func (r *repository) LinkedCommissionStatuses(ctx context.Context, payoutID uuid.UUID) ([]enums.CommissionStatus, error) {
	var statuses []enums.CommissionStatus
	if err := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Joins("JOIN payout_commissions pc ON pc.commission_id = commissions.id").
		Where("pc.payout_id = ? AND pc.released_at IS NULL", payoutID).
		Pluck("commissions.status", &statuses).Error; err != nil {
		return nil, err
	}
	return statuses, nil
}

func (r *repository) CompletedPayoutAmounts(ctx context.Context, shopID uuid.UUID) ([]decimal.Decimal, error) {
	var amounts []decimal.Decimal
	if err := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("shop_id = ? AND status = ?", shopID, enums.PayoutStatusCompleted).
		Pluck("amount", &amounts).Error; err != nil {
		return nil, err
	}
	return amounts, nil
}

// EntitledNetAmounts returns the net of every commission the shop may still
// keep: not disputed and not on a refunded or cancelled item.
func (r *repository) EntitledNetAmounts(ctx context.Context, shopID uuid.UUID) ([]decimal.Decimal, error) {
	var amounts []decimal.Decimal
	if err := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Joins("JOIN order_items oi ON oi.id = commissions.order_item_id").
		Where("commissions.shop_id = ? AND commissions.status <> ?", shopID, enums.CommissionStatusDisputed).
		Where("oi.status NOT IN ?", []enums.OrderItemStatus{enums.OrderItemStatusRefunded, enums.OrderItemStatusCancelled}).
		Pluck("commissions.net_amount", &amounts).Error; err != nil {
		return nil, err
	}
	return amounts, nil
}

func (r *repository) RecentOrderIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("updated_at >= ?", since).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) RecentPayouts(ctx context.Context, since time.Time, limit int) ([]models.Payout, error) {
	var rows []models.Payout
	if err := r.db.WithContext(ctx).
		Where("updated_at >= ?", since).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
