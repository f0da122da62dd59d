package shops

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

// Repository handles shop settlement account persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to shop account operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByID loads a shop account by its UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ShopAccount, error) {
	var shop models.ShopAccount
	if err := r.db.WithContext(ctx).First(&shop, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

// Upsert inserts the account or replaces its mutable columns.
func (r *Repository) Upsert(ctx context.Context, shop *models.ShopAccount) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "commission_rate", "payout_method", "payout_destination", "currency", "updated_at"}),
		}).
		Create(shop).Error
}

// List returns shop accounts ordered by name.
func (r *Repository) List(ctx context.Context, page pagination.Page) ([]models.ShopAccount, int64, error) {
	page = page.Normalize()
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.ShopAccount{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.ShopAccount
	if err := r.db.WithContext(ctx).
		Order("name ASC").
		Order("id ASC").
		Limit(page.Limit).
		Offset(page.Offset()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// UpsertCategoryRate stores or replaces one category override.
func (r *Repository) UpsertCategoryRate(ctx context.Context, rate *models.ShopCategoryRate) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "shop_id"}, {Name: "category_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"commission_rate_override", "updated_at"}),
		}).
		Create(rate).Error
}

// DeleteCategoryRate removes an override and reports whether one existed.
func (r *Repository) DeleteCategoryRate(ctx context.Context, shopID, categoryID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("shop_id = ? AND category_id = ?", shopID, categoryID).
		Delete(&models.ShopCategoryRate{})
	return res.RowsAffected > 0, res.Error
}

// ListCategoryRates returns every override for the shop.
func (r *Repository) ListCategoryRates(ctx context.Context, shopID uuid.UUID) ([]models.ShopCategoryRate, error) {
	var rows []models.ShopCategoryRate
	if err := r.db.WithContext(ctx).
		Where("shop_id = ?", shopID).
		Order("category_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
