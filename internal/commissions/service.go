package commissions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/internal/ledger"
	dbpkg "github.com/angelmondragon/settlement-ledger/pkg/db"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/metrics"
	"github.com/angelmondragon/settlement-ledger/pkg/money"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox/payloads"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

const (
	orderItemIndex = "ux_commissions_order_item"
	clearBatchSize = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledgerRecorder interface {
	RecordTx(ctx context.Context, tx *gorm.DB, input ledger.RecordInput) (*models.Transaction, error)
}

// Service computes commissions and owns their status machine.
type Service interface {
	ResolveRate(ctx context.Context, shopID uuid.UUID, categoryID *uuid.UUID) (decimal.Decimal, error)
	Terms(ctx context.Context, shopID uuid.UUID, categoryID *uuid.UUID, gross money.Money) (Breakdown, error)
	ComputeCommission(ctx context.Context, tx *gorm.DB, order models.Order, item models.OrderItem) (*models.Commission, error)
	Clear(ctx context.Context, id uuid.UUID) (*models.Commission, error)
	ClearEligible(ctx context.Context, deliveredBefore time.Time) (int, error)
	DisputeForItem(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID) (DisputeResult, error)
	MarkPaidOutTx(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*models.Commission, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Commission, error)
	ListByShop(ctx context.Context, shopID uuid.UUID, status *enums.CommissionStatus, page pagination.Page) ([]models.Commission, int64, error)
}

// DisputeResult reports what a dispute did to an item's commission.
type DisputeResult struct {
	Commission *models.Commission
	Disputed   bool
	// PaidOut is set when the commission already left in a payout. The row is
	// left untouched and the caller raises an integrity flag.
	PaidOut bool
	// PayoutID names the pending or processing payout still holding a cleared
	// commission. The row stays cleared so the gateway result can settle it,
	// and the caller flags it like a paid-out one.
	PayoutID *uuid.UUID
}

// AfterPayout reports whether the commission's money left, or is leaving,
// in a payout.
func (r DisputeResult) AfterPayout() bool {
	return r.PaidOut || r.PayoutID != nil
}

// ServiceParams wires the commission engine.
type ServiceParams struct {
	Repo        Repository
	DB          txRunner
	Ledger      ledgerRecorder
	Outbox      outbox.Emitter
	Logger      *logger.Logger
	Metrics     *metrics.LedgerMetrics
	DefaultRate decimal.Decimal
	PlatformFee decimal.Decimal
}

type service struct {
	repo        Repository
	tx          txRunner
	ledger      ledgerRecorder
	outbox      outbox.Emitter
	logg        *logger.Logger
	metrics     *metrics.LedgerMetrics
	defaultRate decimal.Decimal
	platformFee decimal.Decimal
	now         func() time.Time
}

// NewService builds the commission engine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("commissions repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger recorder required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateRate(params.DefaultRate); err != nil {
		return nil, fmt.Errorf("default commission rate: %w", err)
	}
	if params.PlatformFee.IsNegative() {
		return nil, fmt.Errorf("platform fee must not be negative")
	}
	return &service{
		repo:        params.Repo,
		tx:          params.DB,
		ledger:      params.Ledger,
		outbox:      params.Outbox,
		logg:        params.Logger,
		metrics:     params.Metrics,
		defaultRate: params.DefaultRate,
		platformFee: params.PlatformFee,
		now:         time.Now,
	}, nil
}

// ResolveRate picks the category override, then the shop rate, then the
// platform default.
func (s *service) ResolveRate(ctx context.Context, shopID uuid.UUID, categoryID *uuid.UUID) (decimal.Decimal, error) {
	if categoryID != nil && *categoryID != uuid.Nil {
		override, err := s.repo.FindCategoryRate(ctx, shopID, *categoryID)
		switch {
		case err == nil:
			return override.CommissionRate, nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load category rate")
		}
	}
	shop, err := s.repo.FindShopAccount(ctx, shopID)
	switch {
	case err == nil:
		return shop.CommissionRate, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop account")
	}
	return s.defaultRate, nil
}

// Terms resolves the rate for a new order item and freezes its breakdown
// with the configured flat platform fee.
func (s *service) Terms(ctx context.Context, shopID uuid.UUID, categoryID *uuid.UUID, gross money.Money) (Breakdown, error) {
	rate, err := s.ResolveRate(ctx, shopID, categoryID)
	if err != nil {
		return Breakdown{}, err
	}
	fee, err := money.Rounded(s.platformFee, gross.Currency)
	if err != nil {
		return Breakdown{}, err
	}
	return Calculate(gross, rate, fee)
}

func (s *service) ComputeCommission(ctx context.Context, tx *gorm.DB, order models.Order, item models.OrderItem) (*models.Commission, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	repo := s.repo.WithTx(tx)
	if _, err := repo.FindByOrderItemID(ctx, item.ID); err == nil {
		return nil, pkgerrors.Conflict(pkgerrors.ReasonAlreadyComputed, "commission already computed for order item")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing commission")
	}

	gross, err := money.New(item.LineTotal, order.Currency)
	if err != nil {
		return nil, err
	}
	fee, err := money.New(item.PlatformFee, order.Currency)
	if err != nil {
		return nil, err
	}
	breakdown, err := Calculate(gross, item.CommissionRate, fee)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	commission := &models.Commission{
		OrderItemID:      item.ID,
		OrderID:          order.ID,
		ShopID:           item.ShopID,
		GrossAmount:      breakdown.Gross.Amount,
		CommissionRate:   breakdown.Rate,
		CommissionAmount: breakdown.Commission.Amount,
		PlatformFee:      breakdown.Fee.Amount,
		NetAmount:        breakdown.Net.Amount,
		Currency:         breakdown.Gross.Currency,
		Status:           enums.CommissionStatusPending,
		CalculatedAt:     now,
	}
	if err := repo.Create(ctx, commission); err != nil {
		if dbpkg.IsUniqueViolation(err, orderItemIndex) {
			return nil, pkgerrors.Conflict(pkgerrors.ReasonAlreadyComputed, "commission already computed for order item")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create commission")
	}

	revenue, err := breakdown.Commission.Add(breakdown.Fee)
	if err != nil {
		return nil, err
	}
	if revenue.IsPositive() {
		orderID, shopID := order.ID, item.ShopID
		if _, err := s.ledger.RecordTx(ctx, tx, ledger.RecordInput{
			Type:           enums.TransactionTypeCommission,
			Amount:         revenue,
			OrderID:        &orderID,
			ShopID:         &shopID,
			IdempotencyKey: "commission:" + item.ID.String(),
			Description:    fmt.Sprintf("platform commission for %s", order.OrderNumber),
			Settled:        true,
		}); err != nil {
			return nil, err
		}
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventCommissionComputed,
		AggregateType: enums.AggregateCommission,
		AggregateID:   commission.ID,
		OccurredAt:    now,
		Data: payloads.CommissionComputedEvent{
			CommissionID:     commission.ID,
			OrderID:          order.ID,
			OrderItemID:      item.ID,
			ShopID:           item.ShopID,
			GrossAmount:      breakdown.Gross.Fixed(),
			CommissionRate:   breakdown.Rate.StringFixed(2),
			CommissionAmount: breakdown.Commission.Fixed(),
			PlatformFee:      breakdown.Fee.Fixed(),
			NetAmount:        breakdown.Net.Fixed(),
			Currency:         commission.Currency,
			CalculatedAt:     now,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit commission computed")
	}
	s.metrics.CommissionTransition(string(enums.CommissionStatusPending))
	return commission, nil
}

func (s *service) Clear(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "commission id required")
	}
	var cleared *models.Commission
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		commission, err := s.clearTx(ctx, tx, id)
		if err != nil {
			return err
		}
		cleared = commission
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.CommissionTransition(string(enums.CommissionStatusCleared))
	return cleared, nil
}

func (s *service) clearTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Commission, error) {
	repo := s.repo.WithTx(tx)
	now := s.now().UTC()
	rows, err := repo.TransitionStatus(ctx, []uuid.UUID{id},
		[]enums.CommissionStatus{enums.CommissionStatusPending},
		map[string]any{"status": enums.CommissionStatusCleared, "cleared_at": now})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear commission")
	}
	commission, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "commission not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission")
	}
	if rows == 0 {
		return nil, pkgerrors.Conflict(pkgerrors.ReasonInvalidTransition,
			fmt.Sprintf("commission cannot move from %s to %s", commission.Status, enums.CommissionStatusCleared))
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventCommissionCleared,
		AggregateType: enums.AggregateCommission,
		AggregateID:   commission.ID,
		OccurredAt:    now,
		Data: payloads.CommissionClearedEvent{
			CommissionID: commission.ID,
			ShopID:       commission.ShopID,
			NetAmount:    money.Format(commission.NetAmount, commission.Currency),
			Currency:     commission.Currency,
			ClearedAt:    now,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit commission cleared")
	}
	return commission, nil
}

// ClearEligible clears pending commissions of orders delivered at or before
// the cutoff. Each commission clears in its own transaction; failures are
// collected and the rest still clear.
func (s *service) ClearEligible(ctx context.Context, deliveredBefore time.Time) (int, error) {
	ids, err := s.repo.ListClearableIDs(ctx, deliveredBefore.UTC(), clearBatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list clearable commissions")
	}
	cleared := 0
	var errs []error
	for _, id := range ids {
		if _, err := s.Clear(ctx, id); err != nil {
			if pkgerrors.HasReason(err, pkgerrors.ReasonInvalidTransition) {
				continue
			}
			errs = append(errs, fmt.Errorf("clear commission %s: %w", id, err))
			continue
		}
		cleared++
	}
	if cleared > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"cleared":          cleared,
			"delivered_before": deliveredBefore.UTC(),
		})
		s.logg.Info(logCtx, "commissions cleared")
	}
	return cleared, multierr.Combine(errs...)
}

// DisputeForItem moves the item's commission to disputed. Items without a
// commission and already disputed commissions are no-ops; commissions held
// by a live payout link are reported instead of moved.
func (s *service) DisputeForItem(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID) (DisputeResult, error) {
	if tx == nil {
		return DisputeResult{}, fmt.Errorf("transaction required")
	}
	repo := s.repo.WithTx(tx)
	commission, err := repo.FindByOrderItemIDForUpdate(ctx, orderItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DisputeResult{}, nil
		}
		return DisputeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission for dispute")
	}
	switch commission.Status {
	case enums.CommissionStatusPaidOut:
		return DisputeResult{Commission: commission, PaidOut: true}, nil
	case enums.CommissionStatusDisputed:
		return DisputeResult{Commission: commission}, nil
	case enums.CommissionStatusCleared:
		payoutID, err := repo.FindLivePayoutID(ctx, commission.ID)
		if err != nil {
			return DisputeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout link")
		}
		if payoutID != nil {
			return DisputeResult{Commission: commission, PayoutID: payoutID}, nil
		}
	}
	now := s.now().UTC()
	rows, err := repo.TransitionStatus(ctx, []uuid.UUID{commission.ID},
		[]enums.CommissionStatus{enums.CommissionStatusPending, enums.CommissionStatusCleared},
		map[string]any{"status": enums.CommissionStatusDisputed, "disputed_at": now})
	if err != nil {
		return DisputeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dispute commission")
	}
	if rows != 1 {
		return DisputeResult{}, pkgerrors.Conflict(pkgerrors.ReasonInvalidTransition, "commission changed during dispute")
	}
	commission.Status = enums.CommissionStatusDisputed
	commission.DisputedAt = &now
	s.metrics.CommissionTransition(string(enums.CommissionStatusDisputed))
	return DisputeResult{Commission: commission, Disputed: true}, nil
}

// MarkPaidOutTx moves every id from cleared to paid_out or fails the
// transaction.
func (s *service) MarkPaidOutTx(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	now := s.now().UTC()
	return s.transitionAll(ctx, tx, ids, enums.CommissionStatusCleared, map[string]any{
		"status":      enums.CommissionStatusPaidOut,
		"paid_out_at": now,
	})
}

func (s *service) transitionAll(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, from enums.CommissionStatus, updates map[string]any) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	if len(ids) == 0 {
		return nil
	}
	rows, err := s.repo.WithTx(tx).TransitionStatus(ctx, ids, []enums.CommissionStatus{from}, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update commission status")
	}
	if rows != int64(len(ids)) {
		return pkgerrors.Conflict(pkgerrors.ReasonInvalidTransition,
			fmt.Sprintf("expected %d %s commissions, moved %d", len(ids), from, rows))
	}
	to, _ := updates["status"].(enums.CommissionStatus)
	for range ids {
		s.metrics.CommissionTransition(string(to))
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	commission, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "commission not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission")
	}
	return commission, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Commission, error) {
	rows, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order commissions")
	}
	return rows, nil
}

func (s *service) ListByShop(ctx context.Context, shopID uuid.UUID, status *enums.CommissionStatus, page pagination.Page) ([]models.Commission, int64, error) {
	if status != nil && !status.IsValid() {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid commission status %q", *status))
	}
	rows, total, err := s.repo.ListByShop(ctx, shopID, status, page)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shop commissions")
	}
	return rows, total, nil
}
