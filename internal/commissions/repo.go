package commissions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

// Repository persists commissions and reads the rate sources.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, commission *models.Commission) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Commission, error)
	FindByOrderItemID(ctx context.Context, orderItemID uuid.UUID) (*models.Commission, error)
	FindByOrderItemIDForUpdate(ctx context.Context, orderItemID uuid.UUID) (*models.Commission, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Commission, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Commission, error)
	ListByShop(ctx context.Context, shopID uuid.UUID, status *enums.CommissionStatus, page pagination.Page) ([]models.Commission, int64, error)
	ListClearableIDs(ctx context.Context, deliveredBefore time.Time, limit int) ([]uuid.UUID, error)
	TransitionStatus(ctx context.Context, ids []uuid.UUID, from []enums.CommissionStatus, updates map[string]any) (int64, error)
	FindLivePayoutID(ctx context.Context, commissionID uuid.UUID) (*uuid.UUID, error)
	FindShopAccount(ctx context.Context, shopID uuid.UUID) (*models.ShopAccount, error)
	FindCategoryRate(ctx context.Context, shopID, categoryID uuid.UUID) (*models.ShopCategoryRate, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the commission repository to a database handle.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, commission *models.Commission) error {
	return r.db.WithContext(ctx).Create(commission).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	var commission models.Commission
	if err := r.db.WithContext(ctx).First(&commission, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &commission, nil
}

func (r *repository) FindByOrderItemID(ctx context.Context, orderItemID uuid.UUID) (*models.Commission, error) {
	var commission models.Commission
	if err := r.db.WithContext(ctx).First(&commission, "order_item_id = ?", orderItemID).Error; err != nil {
		return nil, err
	}
	return &commission, nil
}

func (r *repository) FindByOrderItemIDForUpdate(ctx context.Context, orderItemID uuid.UUID) (*models.Commission, error) {
	var commission models.Commission
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&commission, "order_item_id = ?", orderItemID).Error; err != nil {
		return nil, err
	}
	return &commission, nil
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Commission, error) {
	var rows []models.Commission
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("calculated_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Commission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Commission
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByShop(ctx context.Context, shopID uuid.UUID, status *enums.CommissionStatus, page pagination.Page) ([]models.Commission, int64, error) {
	page = page.Normalize()
	scoped := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&models.Commission{}).Where("shop_id = ?", shopID)
		if status != nil {
			query = query.Where("status = ?", *status)
		}
		return query
	}
	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.Commission
	if err := scoped().
		Order("calculated_at DESC").
		Order("id DESC").
		Limit(page.Limit).
		Offset(page.Offset()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ListClearableIDs returns pending commissions whose order was delivered at
// or before the cutoff.
func (r *repository) ListClearableIDs(ctx context.Context, deliveredBefore time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Joins("JOIN orders ON orders.id = commissions.order_id").
		Where("commissions.status = ?", enums.CommissionStatusPending).
		Where("orders.status = ? AND orders.delivered_at <= ?", enums.OrderStatusDelivered, deliveredBefore).
		Order("commissions.calculated_at ASC").
		Limit(limit).
		Pluck("commissions.id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// TransitionStatus applies updates to the rows still in one of the from
// statuses and reports how many moved.
func (r *repository) TransitionStatus(ctx context.Context, ids []uuid.UUID, from []enums.CommissionStatus, updates map[string]any) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Where("id IN ? AND status IN ?", ids, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// FindLivePayoutID returns the payout still holding the commission, or nil
// when no unreleased link exists.
func (r *repository) FindLivePayoutID(ctx context.Context, commissionID uuid.UUID) (*uuid.UUID, error) {
	var link models.PayoutCommission
	err := r.db.WithContext(ctx).
		Where("commission_id = ? AND released_at IS NULL", commissionID).
		Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link.PayoutID, nil
}

func (r *repository) FindShopAccount(ctx context.Context, shopID uuid.UUID) (*models.ShopAccount, error) {
	var shop models.ShopAccount
	if err := r.db.WithContext(ctx).First(&shop, "id = ?", shopID).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

func (r *repository) FindCategoryRate(ctx context.Context, shopID, categoryID uuid.UUID) (*models.ShopCategoryRate, error) {
	var rate models.ShopCategoryRate
	if err := r.db.WithContext(ctx).
		First(&rate, "shop_id = ? AND category_id = ?", shopID, categoryID).Error; err != nil {
		return nil, err
	}
	return &rate, nil
}
