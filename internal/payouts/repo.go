package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

// Repository persists payouts and their commission links.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockShop(ctx context.Context, shopID uuid.UUID) (*models.ShopAccount, error)
	ListEligibleCommissions(ctx context.Context, shopID uuid.UUID, currency string, asOf time.Time) ([]models.Commission, error)
	ListShopsWithEligible(ctx context.Context, asOf time.Time) ([]uuid.UUID, error)
	CreatePayout(ctx context.Context, payout *models.Payout) error
	CreateLinks(ctx context.Context, links []models.PayoutCommission) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.PayoutStatus, updates map[string]any) (int64, error)
	ListLinks(ctx context.Context, payoutID uuid.UUID, liveOnly bool) ([]models.PayoutCommission, error)
	LockLinkedCommissions(ctx context.Context, payoutID uuid.UUID) ([]models.Commission, error)
	ReleaseLinks(ctx context.Context, payoutID uuid.UUID, at time.Time) (int64, error)
	ListByShop(ctx context.Context, shopID uuid.UUID, status *enums.PayoutStatus, page pagination.Page) ([]models.Payout, int64, error)
	ListPendingIDs(ctx context.Context, requestedBefore time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the payout repository to the provided DB handle.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LockShop takes the per-shop batching lock.
func (r *repository) LockShop(ctx context.Context, shopID uuid.UUID) (*models.ShopAccount, error) {
	var shop models.ShopAccount
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&shop, "id = ?", shopID).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

func eligibleScope(db *gorm.DB, asOf time.Time) *gorm.DB {
	return db.Model(&models.Commission{}).
		Where("commissions.status = ?", enums.CommissionStatusCleared).
		Where("commissions.cleared_at <= ?", asOf).
		Where("NOT EXISTS (SELECT 1 FROM payout_commissions pc WHERE pc.commission_id = commissions.id AND pc.released_at IS NULL)")
}

// ListEligibleCommissions locks cleared commissions without a live payout
// link, oldest first.
func (r *repository) ListEligibleCommissions(ctx context.Context, shopID uuid.UUID, currency string, asOf time.Time) ([]models.Commission, error) {
	var rows []models.Commission
	if err := eligibleScope(r.db.WithContext(ctx), asOf).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("commissions.shop_id = ? AND commissions.currency = ?", shopID, currency).
		Order("commissions.cleared_at ASC").
		Order("commissions.id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListShopsWithEligible skips shops without a settlement account; their
// commissions wait until the shop registers a payout destination.
func (r *repository) ListShopsWithEligible(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := eligibleScope(r.db.WithContext(ctx), asOf).
		Where("EXISTS (SELECT 1 FROM shop_accounts sa WHERE sa.id = commissions.shop_id)").
		Distinct("commissions.shop_id").
		Pluck("commissions.shop_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) CreatePayout(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Create(payout).Error
}

func (r *repository) CreateLinks(ctx context.Context, links []models.PayoutCommission) error {
	if len(links) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&links).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	if err := r.db.WithContext(ctx).First(&payout, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&payout, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.PayoutStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) ListLinks(ctx context.Context, payoutID uuid.UUID, liveOnly bool) ([]models.PayoutCommission, error) {
	query := r.db.WithContext(ctx).Where("payout_id = ?", payoutID)
	if liveOnly {
		query = query.Where("released_at IS NULL")
	}
	var links []models.PayoutCommission
	if err := query.Order("linked_at ASC").Order("id ASC").Find(&links).Error; err != nil {
		return nil, err
	}
	return links, nil
}

// LockLinkedCommissions locks the commissions behind the payout's live links.
func (r *repository) LockLinkedCommissions(ctx context.Context, payoutID uuid.UUID) ([]models.Commission, error) {
	var rows []models.Commission
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN (SELECT commission_id FROM payout_commissions WHERE payout_id = ? AND released_at IS NULL)", payoutID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ReleaseLinks(ctx context.Context, payoutID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PayoutCommission{}).
		Where("payout_id = ? AND released_at IS NULL", payoutID).
		Update("released_at", at)
	return res.RowsAffected, res.Error
}

func (r *repository) ListByShop(ctx context.Context, shopID uuid.UUID, status *enums.PayoutStatus, page pagination.Page) ([]models.Payout, int64, error) {
	page = page.Normalize()
	scoped := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&models.Payout{}).Where("shop_id = ?", shopID)
		if status != nil {
			query = query.Where("status = ?", *status)
		}
		return query
	}
	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.Payout
	if err := scoped().
		Order("requested_at DESC").
		Order("id DESC").
		Limit(page.Limit).
		Offset(page.Offset()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ListPendingIDs returns payouts waiting for dispatch, oldest first.
func (r *repository) ListPendingIDs(ctx context.Context, requestedBefore time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("status = ? AND requested_at <= ?", enums.PayoutStatusPending, requestedBefore).
		Order("requested_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
