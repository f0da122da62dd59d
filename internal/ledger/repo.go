package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

// Repository manages persistence for ledger transactions. It exposes no
// path that rewrites amount or type.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error)
	TransitionPending(ctx context.Context, id uuid.UUID, updates map[string]any) (int64, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error)
	ListCompletedForOrder(ctx context.Context, orderID uuid.UUID, types ...enums.TransactionType) ([]models.Transaction, error)
	List(ctx context.Context, filters ListFilters, params pagination.Params) ([]models.Transaction, error)
	ListPendingWithGatewayRef(ctx context.Context, txnType enums.TransactionType, createdBefore time.Time, limit int) ([]models.Transaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// TransitionPending applies updates only while the row is still pending and
// reports how many rows changed.
func (r *repository) TransitionPending(ctx context.Context, id uuid.UUID, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, enums.TransactionStatusPending).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error) {
	var rows []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListCompletedForOrder(ctx context.Context, orderID uuid.UUID, types ...enums.TransactionType) ([]models.Transaction, error) {
	var rows []models.Transaction
	query := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.TransactionStatusCompleted)
	if len(types) > 0 {
		query = query.Where("type IN ?", types)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) List(ctx context.Context, filters ListFilters, params pagination.Params) ([]models.Transaction, error) {
	query := r.db.WithContext(ctx).Model(&models.Transaction{})
	if filters.Type != nil {
		query = query.Where("type = ?", *filters.Type)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.ShopID != nil {
		query = query.Where("shop_id = ?", *filters.ShopID)
	}
	if filters.OrderID != nil {
		query = query.Where("order_id = ?", *filters.OrderID)
	}
	page, err := pagination.Keyset(params)
	if err != nil {
		return nil, err
	}
	var rows []models.Transaction
	if err := query.Scopes(page).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListPendingWithGatewayRef(ctx context.Context, txnType enums.TransactionType, createdBefore time.Time, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("type = ? AND status = ? AND gateway_ref IS NOT NULL AND created_at <= ?", txnType, enums.TransactionStatusPending, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
