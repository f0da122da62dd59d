package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

// Repository persists the per-user wallet log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Latest(ctx context.Context, userID uuid.UUID) (*models.WalletTransaction, error)
	Create(ctx context.Context, entry *models.WalletTransaction) error
	FindByIdempotencyKey(ctx context.Context, key string) (*models.WalletTransaction, error)
	List(ctx context.Context, userID uuid.UUID, page pagination.Page) ([]models.WalletTransaction, int64, error)
	ListAll(ctx context.Context, userID uuid.UUID) ([]models.WalletTransaction, error)
	ListActiveUserIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the wallet repository to the provided DB handle.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Latest returns the highest-sequence entry, or nil for an empty wallet.
func (r *repository) Latest(ctx context.Context, userID uuid.UUID) (*models.WalletTransaction, error) {
	var entry models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sequence DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) Create(ctx context.Context, entry *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.WalletTransaction, error) {
	var entry models.WalletTransaction
	if err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		Take(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) List(ctx context.Context, userID uuid.UUID, page pagination.Page) ([]models.WalletTransaction, int64, error) {
	page = page.Normalize()
	scoped := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.WalletTransaction{}).Where("user_id = ?", userID)
	}
	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.WalletTransaction
	if err := scoped().
		Order("sequence DESC").
		Limit(page.Limit).
		Offset(page.Offset()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ListAll returns the whole log in sequence order.
func (r *repository) ListAll(ctx context.Context, userID uuid.UUID) ([]models.WalletTransaction, error) {
	var rows []models.WalletTransaction
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListActiveUserIDs returns users with wallet entries created since the
// cutoff.
func (r *repository) ListActiveUserIDs(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("created_at >= ?", since).
		Distinct("user_id").
		Limit(limit).
		Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
