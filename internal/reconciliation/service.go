package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/internal/wallet"
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
	openFlagIndex   = "ux_integrity_flags_open"
	recentScanLimit = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type collectionReader interface {
	OrderCollected(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error)
}

type walletVerifier interface {
	Verify(ctx context.Context, userID uuid.UUID) (*wallet.Verification, error)
	ActiveUsers(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
}

// FlagInput describes one failed check.
type FlagInput struct {
	EntityType enums.IntegrityEntityType
	EntityID   uuid.UUID
	Kind       enums.IntegrityFlagKind
	Details    map[string]any
}

// Report is the outcome of reconciling one entity.
type Report struct {
	EntityType enums.IntegrityEntityType `json:"entity_type"`
	EntityID   uuid.UUID                 `json:"entity_id"`
	Consistent bool                      `json:"consistent"`
	Flags      []models.IntegrityFlag    `json:"flags,omitempty"`
}

// Summary counts what a sweep looked at.
type Summary struct {
	Orders  int `json:"orders"`
	Payouts int `json:"payouts"`
	Shops   int `json:"shops"`
	Wallets int `json:"wallets"`
	Flagged int `json:"flagged"`
}

// Service runs integrity checks and manages the flags they raise.
type Service interface {
	Raise(ctx context.Context, input FlagInput) (*models.IntegrityFlag, error)
	RaiseTx(ctx context.Context, tx *gorm.DB, input FlagInput) (*models.IntegrityFlag, error)
	ReconcileOrder(ctx context.Context, orderID uuid.UUID) (*Report, error)
	ReconcilePayout(ctx context.Context, payoutID uuid.UUID) (*Report, error)
	ReconcileShop(ctx context.Context, shopID uuid.UUID) (*Report, error)
	ReconcileWallet(ctx context.Context, userID uuid.UUID) (*Report, error)
	ReconcileRecent(ctx context.Context, since time.Time) (Summary, error)
	ListOpenFlags(ctx context.Context, entityType *enums.IntegrityEntityType, page pagination.Page) ([]models.IntegrityFlag, int64, error)
	ResolveFlag(ctx context.Context, flagID, actorID uuid.UUID) (*models.IntegrityFlag, error)
}

// ServiceParams wires reconciliation.
type ServiceParams struct {
	Repo    Repository
	DB      txRunner
	Ledger  collectionReader
	Wallets walletVerifier
	Outbox  outbox.Emitter
	Logger  *logger.Logger
	Metrics *metrics.LedgerMetrics
}

type service struct {
	repo    Repository
	tx      txRunner
	ledger  collectionReader
	wallets walletVerifier
	outbox  outbox.Emitter
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
	now     func() time.Time
}

// NewService builds the reconciliation service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("reconciliation repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger reader required")
	}
	if params.Wallets == nil {
		return nil, fmt.Errorf("wallet verifier required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    params.Repo,
		tx:      params.DB,
		ledger:  params.Ledger,
		wallets: params.Wallets,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     time.Now,
	}, nil
}

// Raise records a flag in its own transaction.
func (s *service) Raise(ctx context.Context, input FlagInput) (*models.IntegrityFlag, error) {
	var flag *models.IntegrityFlag
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		raised, err := s.RaiseTx(ctx, tx, input)
		if err != nil {
			return err
		}
		flag = raised
		return nil
	})
	if err != nil && dbpkg.IsUniqueViolation(err, openFlagIndex) {
		return s.repo.FindOpenFlag(ctx, input.EntityType, input.EntityID, input.Kind)
	}
	return flag, err
}

// RaiseTx records a flag and queues the operator alert. An open flag for
// the same entity and kind is returned instead of a duplicate.
func (s *service) RaiseTx(ctx context.Context, tx *gorm.DB, input FlagInput) (*models.IntegrityFlag, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if input.EntityID == uuid.Nil || input.EntityType == "" || input.Kind == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "flag entity and kind required")
	}
	repo := s.repo.WithTx(tx)
	existing, err := repo.FindOpenFlag(ctx, input.EntityType, input.EntityID, input.Kind)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open flag")
	}

	var details json.RawMessage
	if len(input.Details) > 0 {
		if details, err = json.Marshal(input.Details); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode flag details")
		}
	}
	flag := &models.IntegrityFlag{
		EntityType: input.EntityType,
		EntityID:   input.EntityID,
		Kind:       input.Kind,
		Details:    details,
		Status:     enums.IntegrityFlagOpen,
	}
	if err := repo.CreateFlag(ctx, flag); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create integrity flag")
	}

	now := s.now().UTC()
	event := outbox.DomainEvent{
		EventType:     enums.EventIntegrityViolation,
		AggregateType: enums.AggregateIntegrityFlag,
		AggregateID:   flag.ID,
		OccurredAt:    now,
		Data: payloads.IntegrityViolationEvent{
			FlagID:     flag.ID,
			EntityType: flag.EntityType,
			EntityID:   flag.EntityID,
			Kind:       flag.Kind,
			Details:    details,
			DetectedAt: now,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit integrity violation")
	}
	s.metrics.IntegrityFlag(string(flag.Kind))

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"flag_id":     flag.ID.String(),
		"entity_type": flag.EntityType,
		"entity_id":   flag.EntityID.String(),
		"kind":        flag.Kind,
	})
	s.logg.Warn(logCtx, "integrity violation flagged")
	return flag, nil
}

// ReconcileOrder checks that the collected amount stays within [0, total].
func (s *service) ReconcileOrder(ctx context.Context, orderID uuid.UUID) (*Report, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	collected, err := s.ledger.OrderCollected(ctx, orderID)
	if err != nil {
		return nil, err
	}
	report := &Report{EntityType: enums.IntegrityEntityOrder, EntityID: orderID, Consistent: true}
	if collected.IsNegative() || collected.GreaterThan(order.TotalAmount) {
		err := s.flag(ctx, report, enums.IntegrityOrderCollectionMismatch, map[string]any{
			"collected": money.Format(collected, order.Currency),
			"total":     money.Format(order.TotalAmount, order.Currency),
		})
		if err != nil {
			return nil, err
		}
	}
	return report, nil
}

// ReconcilePayout checks the payout amount against its live links and, once
// completed, that every linked commission is paid out.
func (s *service) ReconcilePayout(ctx context.Context, payoutID uuid.UUID) (*Report, error) {
	payout, err := s.repo.FindPayout(ctx, payoutID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
	}
	return s.reconcilePayout(ctx, payout)
}

func (s *service) reconcilePayout(ctx context.Context, payout *models.Payout) (*Report, error) {
	report := &Report{EntityType: enums.IntegrityEntityPayout, EntityID: payout.ID, Consistent: true}
	if payout.Status == enums.PayoutStatusFailed {
		return report, nil
	}
	amounts, err := s.repo.LiveLinkAmounts(ctx, payout.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout links")
	}
	linked := sum(amounts)
	if !linked.Equal(payout.Amount) {
		err := s.flag(ctx, report, enums.IntegrityPayoutAmountMismatch, map[string]any{
			"amount": money.Format(payout.Amount, payout.Currency),
			"linked": money.Format(linked, payout.Currency),
			"links":  len(amounts),
		})
		if err != nil {
			return nil, err
		}
	}
	if payout.Status == enums.PayoutStatusCompleted {
		statuses, err := s.repo.LinkedCommissionStatuses(ctx, payout.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load linked commissions")
		}
		offending := 0
		for _, status := range statuses {
			if status != enums.CommissionStatusPaidOut {
				offending++
			}
		}
		if offending > 0 {
			if err := s.flag(ctx, report, enums.IntegrityPayoutCommissionState, map[string]any{
				"not_paid_out": offending,
			}); err != nil {
				return nil, err
			}
		}
	}
	return report, nil
}

// ReconcileShop checks that completed payouts never exceed what the shop is
// still entitled to after disputes and refunds.
func (s *service) ReconcileShop(ctx context.Context, shopID uuid.UUID) (*Report, error) {
	paidAmounts, err := s.repo.CompletedPayoutAmounts(ctx, shopID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load completed payouts")
	}
	entitledAmounts, err := s.repo.EntitledNetAmounts(ctx, shopID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load entitled commissions")
	}
	report := &Report{EntityType: enums.IntegrityEntityShop, EntityID: shopID, Consistent: true}
	paid, entitled := sum(paidAmounts), sum(entitledAmounts)
	if paid.GreaterThan(entitled) {
		err := s.flag(ctx, report, enums.IntegrityRefundAfterPayout, map[string]any{
			"paid_out":  paid.StringFixed(2),
			"entitled":  entitled.StringFixed(2),
			"overpaid":  paid.Sub(entitled).StringFixed(2),
			"detection": "reconciliation",
		})
		if err != nil {
			return nil, err
		}
	}
	return report, nil
}

// ReconcileWallet replays the user's wallet log.
func (s *service) ReconcileWallet(ctx context.Context, userID uuid.UUID) (*Report, error) {
	check, err := s.wallets.Verify(ctx, userID)
	if err != nil {
		return nil, err
	}
	report := &Report{EntityType: enums.IntegrityEntityWallet, EntityID: userID, Consistent: true}
	if !check.Consistent {
		details := map[string]any{
			"replayed": check.Replayed.String(),
			"stored":   check.Stored.String(),
			"entries":  check.Entries,
		}
		if check.FirstMismatch != nil {
			details["first_mismatch_sequence"] = *check.FirstMismatch
		}
		if err := s.flag(ctx, report, enums.IntegrityWalletBalanceDrift, details); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// ReconcileRecent checks every order, payout, shop and wallet touched since
// the cutoff. One failing check does not stop the sweep.
func (s *service) ReconcileRecent(ctx context.Context, since time.Time) (Summary, error) {
	since = since.UTC()
	var summary Summary
	var errs []error
	record := func(report *Report, err error, label string, id uuid.UUID) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", label, id, err))
			return
		}
		summary.Flagged += len(report.Flags)
	}

	orderIDs, err := s.repo.RecentOrderIDs(ctx, since, recentScanLimit)
	if err != nil {
		errs = append(errs, fmt.Errorf("list recent orders: %w", err))
	}
	for _, id := range orderIDs {
		report, err := s.ReconcileOrder(ctx, id)
		record(report, err, "order", id)
		summary.Orders++
	}

	payouts, err := s.repo.RecentPayouts(ctx, since, recentScanLimit)
	if err != nil {
		errs = append(errs, fmt.Errorf("list recent payouts: %w", err))
	}
	shops := map[uuid.UUID]struct{}{}
	for i := range payouts {
		report, err := s.reconcilePayout(ctx, &payouts[i])
		record(report, err, "payout", payouts[i].ID)
		summary.Payouts++
		shops[payouts[i].ShopID] = struct{}{}
	}
	for shopID := range shops {
		report, err := s.ReconcileShop(ctx, shopID)
		record(report, err, "shop", shopID)
		summary.Shops++
	}

	users, err := s.wallets.ActiveUsers(ctx, since, recentScanLimit)
	if err != nil {
		errs = append(errs, fmt.Errorf("list active wallets: %w", err))
	}
	for _, userID := range users {
		report, err := s.ReconcileWallet(ctx, userID)
		record(report, err, "wallet", userID)
		summary.Wallets++
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"since":   since,
		"orders":  summary.Orders,
		"payouts": summary.Payouts,
		"shops":   summary.Shops,
		"wallets": summary.Wallets,
		"flagged": summary.Flagged,
	})
	s.logg.Info(logCtx, "reconciliation sweep finished")
	return summary, multierr.Combine(errs...)
}

func (s *service) ListOpenFlags(ctx context.Context, entityType *enums.IntegrityEntityType, page pagination.Page) ([]models.IntegrityFlag, int64, error) {
	rows, total, err := s.repo.ListFlags(ctx, enums.IntegrityFlagOpen, entityType, page)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list integrity flags")
	}
	return rows, total, nil
}

// ResolveFlag closes an open flag after operator review.
func (s *service) ResolveFlag(ctx context.Context, flagID, actorID uuid.UUID) (*models.IntegrityFlag, error) {
	if flagID == uuid.Nil || actorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "flag id and actor id required")
	}
	var resolved *models.IntegrityFlag
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.ResolveFlag(ctx, flagID, actorID, s.now().UTC())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve integrity flag")
		}
		flag, err := repo.FindFlag(ctx, flagID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "integrity flag not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load integrity flag")
		}
		if rows == 0 {
			return pkgerrors.Conflict(pkgerrors.ReasonAlreadyTerminal, "integrity flag already resolved")
		}
		resolved = flag
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func (s *service) flag(ctx context.Context, report *Report, kind enums.IntegrityFlagKind, details map[string]any) error {
	flag, err := s.Raise(ctx, FlagInput{
		EntityType: report.EntityType,
		EntityID:   report.EntityID,
		Kind:       kind,
		Details:    details,
	})
	if err != nil {
		return err
	}
	report.Consistent = false
	report.Flags = append(report.Flags, *flag)
	return nil
}

func sum(amounts []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	return total
}
