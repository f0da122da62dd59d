package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/internal/ledger"
	"github.com/angelmondragon/settlement-ledger/internal/reconciliation"
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
	liveLinkIndex     = "ux_payout_commissions_live"
	dispatchBatchSize = 100
)

// ErrNoEligibleCommissions means the shop has nothing to pay out. Callers
// treat it as a no-op.
var ErrNoEligibleCommissions = pkgerrors.Conflict(pkgerrors.ReasonNoEligibleCommissions, "no eligible commissions for payout")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type commissionSettler interface {
	MarkPaidOutTx(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
}

type flagRaiser interface {
	RaiseTx(ctx context.Context, tx *gorm.DB, input reconciliation.FlagInput) (*models.IntegrityFlag, error)
}

type ledgerRecorder interface {
	RecordTx(ctx context.Context, tx *gorm.DB, input ledger.RecordInput) (*models.Transaction, error)
}

// Service batches cleared commissions into payouts and applies gateway
// results.
type Service interface {
	CreatePayout(ctx context.Context, shopID uuid.UUID, asOf time.Time) (*models.Payout, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, attemptKey, reference string) (*models.Payout, error)
	MarkFailed(ctx context.Context, id uuid.UUID, attemptKey, reason string) (*models.Payout, error)
	BatchAll(ctx context.Context, asOf time.Time) (int, error)
	DispatchPending(ctx context.Context, requestedBefore time.Time) (int, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	ListByShop(ctx context.Context, shopID uuid.UUID, status *enums.PayoutStatus, page pagination.Page) ([]models.Payout, int64, error)
	Commissions(ctx context.Context, payoutID uuid.UUID) ([]models.PayoutCommission, error)
}

// ServiceParams wires the payout service.
type ServiceParams struct {
	Repo        Repository
	DB          txRunner
	Commissions commissionSettler
	Ledger      ledgerRecorder
	Flags       flagRaiser
	Outbox      outbox.Emitter
	Logger      *logger.Logger
	Metrics     *metrics.LedgerMetrics
	// Minimum is the smallest batch worth a gateway call.
	Minimum decimal.Decimal
}

type service struct {
	repo        Repository
	tx          txRunner
	commissions commissionSettler
	ledger      ledgerRecorder
	flags       flagRaiser
	outbox      outbox.Emitter
	logg        *logger.Logger
	metrics     *metrics.LedgerMetrics
	minimum     decimal.Decimal
	now         func() time.Time
}

// NewService builds the payout batching service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payouts repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Commissions == nil {
		return nil, fmt.Errorf("commission settler required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger recorder required")
	}
	if params.Flags == nil {
		return nil, fmt.Errorf("flag raiser required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Minimum.IsNegative() {
		return nil, fmt.Errorf("payout minimum must not be negative")
	}
	return &service{
		repo:        params.Repo,
		tx:          params.DB,
		commissions: params.Commissions,
		ledger:      params.Ledger,
		flags:       params.Flags,
		outbox:      params.Outbox,
		logg:        params.Logger,
		metrics:     params.Metrics,
		minimum:     params.Minimum,
		now:         time.Now,
	}, nil
}

// CreatePayout claims every eligible commission of the shop under the shop
// row lock and creates one pending payout for their net total.
func (s *service) CreatePayout(ctx context.Context, shopID uuid.UUID, asOf time.Time) (*models.Payout, error) {
	if shopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id required")
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = asOf.UTC()

	var created *models.Payout
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		shop, err := repo.LockShop(ctx, shopID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "shop account not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock shop account")
		}
		eligible, err := repo.ListEligibleCommissions(ctx, shop.ID, shop.Currency, asOf)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list eligible commissions")
		}
		if len(eligible) == 0 {
			return ErrNoEligibleCommissions
		}

		nets := make([]money.Money, 0, len(eligible))
		for _, commission := range eligible {
			nets = append(nets, money.Money{Amount: commission.NetAmount, Currency: commission.Currency})
		}
		total, err := money.Sum(shop.Currency, nets...)
		if err != nil {
			return err
		}
		if total.Amount.LessThan(s.minimum) || !total.IsPositive() {
			return ErrNoEligibleCommissions
		}

		now := s.now().UTC()
		payout := &models.Payout{
			ShopID:       shop.ID,
			Amount:       total.Amount,
			Currency:     shop.Currency,
			Status:       enums.PayoutStatusPending,
			PayoutMethod: shop.PayoutMethod,
			Destination:  shop.PayoutDestination,
			RequestedAt:  now,
		}
		if err := repo.CreatePayout(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout")
		}
		links := make([]models.PayoutCommission, 0, len(eligible))
		ids := make([]uuid.UUID, 0, len(eligible))
		for _, commission := range eligible {
			links = append(links, models.PayoutCommission{
				PayoutID:     payout.ID,
				CommissionID: commission.ID,
				Amount:       commission.NetAmount,
				LinkedAt:     now,
			})
			ids = append(ids, commission.ID)
		}
		if err := repo.CreateLinks(ctx, links); err != nil {
			if dbpkg.IsUniqueViolation(err, liveLinkIndex) {
				return pkgerrors.Conflict(pkgerrors.ReasonAlreadyLinked, "commission already linked to a live payout")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link payout commissions")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventPayoutCreated,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			OccurredAt:    now,
			Data: payloads.PayoutCreatedEvent{
				PayoutID:      payout.ID,
				ShopID:        shop.ID,
				Amount:        total.Fixed(),
				Currency:      payout.Currency,
				CommissionIDs: ids,
				RequestedAt:   now,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payout created")
		}
		created = payout
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.PayoutTransition(string(enums.PayoutStatusPending))
	logCtx := s.logg.WithEntity(s.logg.WithEntity(ctx, "shop", shopID), "payout", created.ID)
	logCtx = s.logg.WithField(logCtx, "amount", money.Format(created.Amount, created.Currency))
	s.logg.Info(logCtx, "payout created")
	return created, nil
}

// MarkProcessing hands a pending payout to the gateway with a fresh attempt
// key.
func (s *service) MarkProcessing(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout id required")
	}
	var result *models.Payout
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payout, err := s.lockPayout(ctx, repo, id)
		if err != nil {
			return err
		}
		if payout.Status != enums.PayoutStatusPending {
			return pkgerrors.Conflict(pkgerrors.ReasonInvalidTransition,
				fmt.Sprintf("payout cannot move from %s to %s", payout.Status, enums.PayoutStatusProcessing))
		}
		now := s.now().UTC()
		attemptKey := newAttemptKey(payout.ID)
		if _, err := repo.TransitionStatus(ctx, payout.ID, []enums.PayoutStatus{enums.PayoutStatusPending}, map[string]any{
			"status":        enums.PayoutStatusProcessing,
			"attempt_key":   attemptKey,
			"processing_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payout processing")
		}
		payout.Status = enums.PayoutStatusProcessing
		payout.AttemptKey = &attemptKey
		payout.ProcessingAt = &now

		event := outbox.DomainEvent{
			EventType:     enums.EventPayoutRequested,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			OccurredAt:    now,
			Data: payloads.PayoutRequestEvent{
				PayoutID:       payout.ID,
				ShopID:         payout.ShopID,
				Amount:         money.Format(payout.Amount, payout.Currency),
				Currency:       payout.Currency,
				Method:         payout.PayoutMethod,
				Destination:    payout.Destination,
				IdempotencyKey: attemptKey,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payout requested")
		}
		result = payout
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.PayoutTransition(string(enums.PayoutStatusProcessing))
	return result, nil
}

// MarkCompleted applies a successful gateway result. Linked commissions that
// are still cleared move to paid_out in the same transaction. Any that left
// cleared while the payout was in flight are flagged on the payout, since the
// gateway already moved the money. Replaying the same attempt on a completed
// payout returns it unchanged.
func (s *service) MarkCompleted(ctx context.Context, id uuid.UUID, attemptKey, reference string) (*models.Payout, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout id required")
	}
	attemptKey = strings.TrimSpace(attemptKey)
	reference = strings.TrimSpace(reference)

	var result *models.Payout
	replayed := false
	var moved []models.Commission
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payout, err := s.lockPayout(ctx, repo, id)
		if err != nil {
			return err
		}
		switch payout.Status {
		case enums.PayoutStatusCompleted:
			if err := checkAttempt(payout, attemptKey); err != nil {
				return err
			}
			result, replayed = payout, true
			return nil
		case enums.PayoutStatusFailed:
			return pkgerrors.Conflict(pkgerrors.ReasonAlreadyTerminal, "payout already failed")
		}
		if err := checkAttempt(payout, attemptKey); err != nil {
			return err
		}

		linked, err := repo.LockLinkedCommissions(ctx, payout.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock linked commissions")
		}
		ids := make([]uuid.UUID, 0, len(linked))
		moved = moved[:0]
		for _, commission := range linked {
			if commission.Status == enums.CommissionStatusCleared {
				ids = append(ids, commission.ID)
				continue
			}
			moved = append(moved, commission)
		}
		if err := s.commissions.MarkPaidOutTx(ctx, tx, ids); err != nil {
			return err
		}
		if len(moved) > 0 {
			if _, err := s.flags.RaiseTx(ctx, tx, movedCommissions(payout, moved)); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		updates := map[string]any{
			"status":       enums.PayoutStatusCompleted,
			"processed_at": now,
		}
		if reference != "" {
			updates["reference_number"] = reference
			payout.ReferenceNumber = &reference
		}
		if payout.AttemptKey == nil && attemptKey != "" {
			updates["attempt_key"] = attemptKey
			payout.AttemptKey = &attemptKey
		}
		rows, err := repo.TransitionStatus(ctx, payout.ID,
			[]enums.PayoutStatus{enums.PayoutStatusPending, enums.PayoutStatusProcessing}, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payout completed")
		}
		if rows != 1 {
			return pkgerrors.Conflict(pkgerrors.ReasonInvalidTransition, "payout changed during completion")
		}
		payout.Status = enums.PayoutStatusCompleted
		payout.ProcessedAt = &now

		amount, err := money.New(payout.Amount, payout.Currency)
		if err != nil {
			return err
		}
		payoutID, shopID := payout.ID, payout.ShopID
		record := ledger.RecordInput{
			Type:           enums.TransactionTypePayout,
			Amount:         amount,
			ShopID:         &shopID,
			PayoutID:       &payoutID,
			IdempotencyKey: "payout:" + payout.ID.String(),
			Description:    fmt.Sprintf("payout of %d commissions", len(ids)),
			Settled:        true,
		}
		if reference != "" {
			record.GatewayRef = &reference
		}
		if _, err := s.ledger.RecordTx(ctx, tx, record); err != nil {
			return err
		}

		if err := s.emitSettled(ctx, tx, enums.EventPayoutCompleted, payout, ids, now); err != nil {
			return err
		}
		result = payout
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.metrics.PayoutTransition(string(enums.PayoutStatusCompleted))
		logCtx := s.logg.WithEntity(s.logg.WithEntity(ctx, "shop", result.ShopID), "payout", result.ID)
		logCtx = s.logg.WithField(logCtx, "amount", money.Format(result.Amount, result.Currency))
		if len(moved) > 0 {
			s.logg.Warn(s.logg.WithField(logCtx, "moved_commissions", len(moved)), "payout completed with commissions no longer cleared")
		}
		s.logg.Info(logCtx, "payout completed")
	}
	return result, nil
}

// MarkFailed applies a failed gateway result and releases the payout's
// commission links so the next batch can claim them again.
func (s *service) MarkFailed(ctx context.Context, id uuid.UUID, attemptKey, reason string) (*models.Payout, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout id required")
	}
	attemptKey = strings.TrimSpace(attemptKey)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "gateway reported failure"
	}

	var result *models.Payout
	replayed := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payout, err := s.lockPayout(ctx, repo, id)
		if err != nil {
			return err
		}
		switch payout.Status {
		case enums.PayoutStatusFailed:
			result, replayed = payout, true
			return nil
		case enums.PayoutStatusCompleted:
			return pkgerrors.Conflict(pkgerrors.ReasonAlreadyTerminal, "payout already completed")
		}
		if err := checkAttempt(payout, attemptKey); err != nil {
			return err
		}

		links, err := repo.ListLinks(ctx, payout.ID, true)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payout links")
		}
		now := s.now().UTC()
		rows, err := repo.TransitionStatus(ctx, payout.ID,
			[]enums.PayoutStatus{enums.PayoutStatusPending, enums.PayoutStatusProcessing},
			map[string]any{
				"status":         enums.PayoutStatusFailed,
				"failure_reason": reason,
				"processed_at":   now,
			})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payout failed")
		}
		if rows != 1 {
			return pkgerrors.Conflict(pkgerrors.ReasonInvalidTransition, "payout changed during failure")
		}
		if _, err := repo.ReleaseLinks(ctx, payout.ID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release payout links")
		}
		payout.Status = enums.PayoutStatusFailed
		payout.FailureReason = &reason
		payout.ProcessedAt = &now

		if err := s.emitSettled(ctx, tx, enums.EventPayoutFailed, payout, linkedIDs(links), now); err != nil {
			return err
		}
		result = payout
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.metrics.PayoutTransition(string(enums.PayoutStatusFailed))
		logCtx := s.logg.WithEntity(s.logg.WithEntity(ctx, "shop", result.ShopID), "payout", result.ID)
		logCtx = s.logg.WithField(logCtx, "reason", reason)
		s.logg.Warn(logCtx, "payout failed")
	}
	return result, nil
}

// BatchAll creates a payout for every shop with eligible commissions.
func (s *service) BatchAll(ctx context.Context, asOf time.Time) (int, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	shopIDs, err := s.repo.ListShopsWithEligible(ctx, asOf.UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shops with eligible commissions")
	}
	created := 0
	var errs []error
	for _, shopID := range shopIDs {
		if _, err := s.CreatePayout(ctx, shopID, asOf); err != nil {
			if errors.Is(err, ErrNoEligibleCommissions) {
				continue
			}
			errs = append(errs, fmt.Errorf("shop %s: %w", shopID, err))
			continue
		}
		created++
	}
	return created, multierr.Combine(errs...)
}

// DispatchPending moves pending payouts requested before the cutoff to
// processing.
func (s *service) DispatchPending(ctx context.Context, requestedBefore time.Time) (int, error) {
	ids, err := s.repo.ListPendingIDs(ctx, requestedBefore.UTC(), dispatchBatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending payouts")
	}
	dispatched := 0
	var errs []error
	for _, id := range ids {
		if _, err := s.MarkProcessing(ctx, id); err != nil {
			if pkgerrors.HasReason(err, pkgerrors.ReasonInvalidTransition) {
				continue
			}
			errs = append(errs, fmt.Errorf("payout %s: %w", id, err))
			continue
		}
		dispatched++
	}
	return dispatched, multierr.Combine(errs...)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	payout, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
	}
	return payout, nil
}

func (s *service) ListByShop(ctx context.Context, shopID uuid.UUID, status *enums.PayoutStatus, page pagination.Page) ([]models.Payout, int64, error) {
	if status != nil && !status.IsValid() {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payout status %q", *status))
	}
	rows, total, err := s.repo.ListByShop(ctx, shopID, status, page)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shop payouts")
	}
	return rows, total, nil
}

// Commissions returns every link of the payout, released ones included.
func (s *service) Commissions(ctx context.Context, payoutID uuid.UUID) ([]models.PayoutCommission, error) {
	if _, err := s.Get(ctx, payoutID); err != nil {
		return nil, err
	}
	links, err := s.repo.ListLinks(ctx, payoutID, false)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payout links")
	}
	return links, nil
}

func (s *service) lockPayout(ctx context.Context, repo Repository, id uuid.UUID) (*models.Payout, error) {
	payout, err := repo.FindForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
	}
	return payout, nil
}

func (s *service) emitSettled(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payout *models.Payout, ids []uuid.UUID, at time.Time) error {
	data := payloads.PayoutSettledEvent{
		PayoutID:      payout.ID,
		ShopID:        payout.ShopID,
		Status:        payout.Status,
		Amount:        money.Format(payout.Amount, payout.Currency),
		Currency:      payout.Currency,
		CommissionIDs: ids,
		SettledAt:     at,
	}
	if payout.ReferenceNumber != nil {
		data.Reference = *payout.ReferenceNumber
	}
	if payout.FailureReason != nil {
		data.FailureReason = *payout.FailureReason
	}
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayout,
		AggregateID:   payout.ID,
		OccurredAt:    at,
		Data:          data,
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit "+string(eventType))
	}
	return nil
}

// checkAttempt rejects results for an attempt other than the current one. A
// payout that was never dispatched accepts any key.
func checkAttempt(payout *models.Payout, attemptKey string) error {
	if payout.AttemptKey == nil || *payout.AttemptKey == "" {
		return nil
	}
	if attemptKey != *payout.AttemptKey {
		return pkgerrors.Conflict(pkgerrors.ReasonAttemptMismatch, "attempt key does not match the current payout attempt")
	}
	return nil
}

func movedCommissions(payout *models.Payout, moved []models.Commission) reconciliation.FlagInput {
	commissions := make([]map[string]any, 0, len(moved))
	for _, commission := range moved {
		commissions = append(commissions, map[string]any{
			"commission_id": commission.ID.String(),
			"status":        string(commission.Status),
			"net_amount":    money.Format(commission.NetAmount, commission.Currency),
		})
	}
	return reconciliation.FlagInput{
		EntityType: enums.IntegrityEntityPayout,
		EntityID:   payout.ID,
		Kind:       enums.IntegrityPayoutCommissionState,
		Details: map[string]any{
			"shop_id":      payout.ShopID.String(),
			"not_paid_out": len(moved),
			"commissions":  commissions,
		},
	}
}

func linkedIDs(links []models.PayoutCommission) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.CommissionID)
	}
	return ids
}

func newAttemptKey(payoutID uuid.UUID) string {
	return fmt.Sprintf("payout:%s:%s", payoutID, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
