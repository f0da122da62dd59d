package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/internal/commissions"
	"github.com/angelmondragon/settlement-ledger/internal/ledger"
	"github.com/angelmondragon/settlement-ledger/internal/reconciliation"
	"github.com/angelmondragon/settlement-ledger/internal/wallet"
	dbpkg "github.com/angelmondragon/settlement-ledger/pkg/db"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/money"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox/payloads"
)

const (
	refundIndex      = "ux_refunds_idempotency_key"
	maxRefundAttempt = 3
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledgerRecorder interface {
	RecordTx(ctx context.Context, tx *gorm.DB, input ledger.RecordInput) (*models.Transaction, error)
	OrderCollectedTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (decimal.Decimal, error)
}

type commissionDisputer interface {
	DisputeForItem(ctx context.Context, tx *gorm.DB, orderItemID uuid.UUID) (commissions.DisputeResult, error)
}

type walletCreditor interface {
	ApplyTx(ctx context.Context, tx *gorm.DB, input wallet.ApplyInput) (*models.WalletTransaction, error)
}

type flagRaiser interface {
	RaiseTx(ctx context.Context, tx *gorm.DB, input reconciliation.FlagInput) (*models.IntegrityFlag, error)
}

// RefundInput is a RefundIssued request. A nil ItemID refunds at order
// level.
type RefundInput struct {
	OrderID        uuid.UUID
	ItemID         *uuid.UUID
	Amount         decimal.Decimal
	Reason         string
	CreditWallet   bool
	IdempotencyKey string
	ActorID        uuid.UUID
}

// Service issues compensating refunds.
type Service interface {
	IssueRefund(ctx context.Context, input RefundInput) (*models.Refund, error)
	RefundOrderTx(ctx context.Context, tx *gorm.DB, order models.Order, actorID uuid.UUID) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error)
}

// ServiceParams wires the refund service.
type ServiceParams struct {
	Repo        Repository
	DB          txRunner
	Ledger      ledgerRecorder
	Commissions commissionDisputer
	Wallets     walletCreditor
	Flags       flagRaiser
	Outbox      outbox.Emitter
	Logger      *logger.Logger
}

type service struct {
	repo        Repository
	tx          txRunner
	ledger      ledgerRecorder
	commissions commissionDisputer
	wallets     walletCreditor
	flags       flagRaiser
	outbox      outbox.Emitter
	logg        *logger.Logger
	now         func() time.Time
}

// NewService builds the refund service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("refunds repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Commissions == nil {
		return nil, fmt.Errorf("commission service required")
	}
	if params.Wallets == nil {
		return nil, fmt.Errorf("wallet service required")
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
	return &service{
		repo:        params.Repo,
		tx:          params.DB,
		ledger:      params.Ledger,
		commissions: params.Commissions,
		wallets:     params.Wallets,
		flags:       params.Flags,
		outbox:      params.Outbox,
		logg:        params.Logger,
		now:         time.Now,
	}, nil
}

// settlement is one refund applied inside a transaction.
type settlement struct {
	order        *models.Order
	items        []models.OrderItem
	itemID       *uuid.UUID
	amount       money.Money
	reason       string
	creditWallet bool
	key          string
	actorID      uuid.UUID
}

// IssueRefund refunds part or all of what was collected for an order.
func (s *service) IssueRefund(ctx context.Context, input RefundInput) (*models.Refund, error) {
	if err := validateRefund(input); err != nil {
		return nil, err
	}
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)

	var (
		refund *models.Refund
		err    error
	)
	for attempt := 1; attempt <= maxRefundAttempt; attempt++ {
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			issued, err := s.issue(ctx, tx, input)
			if err != nil {
				return err
			}
			refund = issued
			return nil
		})
		if !errors.Is(err, wallet.ErrSequenceConflict) {
			break
		}
		s.logg.Debug(ctx, "refund wallet credit lost sequence race, retrying")
	}
	if err != nil {
		if dbpkg.IsUniqueViolation(err, refundIndex) {
			return s.replay(ctx, s.repo, input)
		}
		if errors.Is(err, wallet.ErrSequenceConflict) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "refund wallet credit retries exhausted")
		}
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"refund_id":     refund.ID.String(),
		"order_id":      refund.OrderID.String(),
		"amount":        refund.Amount.StringFixed(2),
		"credit_wallet": refund.CreditWallet,
		"actor_id":      input.ActorID.String(),
	})
	s.logg.Info(logCtx, "refund issued")
	return refund, nil
}

func (s *service) issue(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.Refund, error) {
	repo := s.repo.WithTx(tx)
	if existing, err := s.replay(ctx, repo, input); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	order, err := repo.FindOrderForUpdate(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	amount, err := money.New(input.Amount, order.Currency)
	if err != nil {
		return nil, err
	}

	items := openItems(order.Items)
	if input.ItemID != nil {
		item, ok := findItem(order.Items, *input.ItemID)
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}
		if item.Status == enums.OrderItemStatusCancelled {
			return nil, pkgerrors.Conflict(pkgerrors.ReasonInvalidTransition, "cancelled items cannot be refunded")
		}
		prior, err := repo.SumItemRefunds(ctx, item.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum item refunds")
		}
		if prior.Add(amount.Amount).GreaterThan(item.LineTotal) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds the item line total").
				WithDetails(map[string]any{
					"line_total": money.Format(item.LineTotal, order.Currency),
					"refunded":   money.Format(prior, order.Currency),
					"requested":  amount.Fixed(),
				})
		}
		items = []models.OrderItem{item}
	}

	collected, err := s.ledger.OrderCollectedTx(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if amount.Amount.GreaterThan(collected) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds the collected amount").
			WithDetails(map[string]any{
				"collected": money.Format(collected, order.Currency),
				"requested": amount.Fixed(),
			})
	}

	return s.settle(ctx, tx, settlement{
		order:        order,
		items:        items,
		itemID:       input.ItemID,
		amount:       amount,
		reason:       strings.TrimSpace(input.Reason),
		creditWallet: input.CreditWallet,
		key:          input.IdempotencyKey,
		actorID:      input.ActorID,
	})
}

// RefundOrderTx returns whatever is still collected when an order moves to
// refunded and disputes every commission that has not left in a payout.
func (s *service) RefundOrderTx(ctx context.Context, tx *gorm.DB, order models.Order, actorID uuid.UUID) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	collected, err := s.ledger.OrderCollectedTx(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	plan := settlement{
		order:   &order,
		items:   openItems(order.Items),
		reason:  "order refunded",
		key:     "order:" + order.ID.String() + ":refunded",
		actorID: actorID,
	}
	if !collected.IsPositive() {
		_, _, err := s.disputeItems(ctx, tx, plan)
		return err
	}
	plan.amount, err = money.New(collected, order.Currency)
	if err != nil {
		return err
	}
	_, err = s.settle(ctx, tx, plan)
	return err
}

func (s *service) settle(ctx context.Context, tx *gorm.DB, plan settlement) (*models.Refund, error) {
	repo := s.repo.WithTx(tx)
	orderID := plan.order.ID
	txn, err := s.ledger.RecordTx(ctx, tx, ledger.RecordInput{
		Type:           enums.TransactionTypeRefund,
		Amount:         plan.amount,
		OrderID:        &orderID,
		UserID:         &plan.order.CustomerID,
		IdempotencyKey: "refund:" + plan.key,
		Description:    plan.reason,
		Settled:        true,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(plan.items))
	for _, item := range plan.items {
		ids = append(ids, item.ID)
	}
	if _, err := repo.MarkItemsRefunded(ctx, ids); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark items refunded")
	}
	disputed, afterPayout, err := s.disputeItems(ctx, tx, plan)
	if err != nil {
		return nil, err
	}

	refund := &models.Refund{
		OrderID:        orderID,
		OrderItemID:    plan.itemID,
		Amount:         plan.amount.Amount,
		Currency:       plan.amount.Currency,
		Reason:         plan.reason,
		CreditWallet:   plan.creditWallet,
		TransactionID:  txn.ID,
		IdempotencyKey: plan.key,
		ActorID:        plan.actorID,
	}
	if plan.creditWallet {
		entry, err := s.wallets.ApplyTx(ctx, tx, wallet.ApplyInput{
			UserID:         plan.order.CustomerID,
			Type:           enums.WalletEntryRefundCredit,
			Amount:         plan.amount,
			IdempotencyKey: "refund:" + plan.key,
			Description:    "refund for order " + plan.order.OrderNumber,
			OrderID:        &orderID,
		})
		if err != nil {
			return nil, err
		}
		refund.WalletTransactionID = &entry.ID
	}
	if err := repo.Create(ctx, refund); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	event := outbox.DomainEvent{
		EventType:     enums.EventRefundIssued,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         &outbox.ActorRef{ActorID: plan.actorID},
		OccurredAt:    now,
		Data: payloads.RefundIssuedEvent{
			RefundID:       refund.ID,
			OrderID:        orderID,
			OrderItemID:    plan.itemID,
			TransactionID:  txn.ID,
			Amount:         plan.amount.Fixed(),
			Currency:       plan.amount.Currency,
			Reason:         plan.reason,
			DisputedIDs:    disputed,
			WalletCredited: plan.creditWallet,
			AfterPayout:    afterPayout,
			IssuedAt:       now,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit refund issued")
	}
	return refund, nil
}

// disputeItems disputes each item's commission. Commissions paid out or
// held by a live payout stay untouched and flag their shop.
func (s *service) disputeItems(ctx context.Context, tx *gorm.DB, plan settlement) ([]uuid.UUID, bool, error) {
	var disputed []uuid.UUID
	afterPayout := false
	for _, item := range plan.items {
		result, err := s.commissions.DisputeForItem(ctx, tx, item.ID)
		if err != nil {
			return nil, false, err
		}
		if result.Disputed {
			disputed = append(disputed, result.Commission.ID)
		}
		if !result.AfterPayout() {
			continue
		}
		afterPayout = true
		details := map[string]any{
			"order_id":      plan.order.ID.String(),
			"order_item_id": item.ID.String(),
			"commission_id": result.Commission.ID.String(),
			"net_amount":    money.Format(result.Commission.NetAmount, result.Commission.Currency),
		}
		if result.PayoutID != nil {
			details["payout_id"] = result.PayoutID.String()
		}
		_, err = s.flags.RaiseTx(ctx, tx, reconciliation.FlagInput{
			EntityType: enums.IntegrityEntityShop,
			EntityID:   result.Commission.ShopID,
			Kind:       enums.IntegrityRefundAfterPayout,
			Details:    details,
		})
		if err != nil {
			return nil, false, err
		}
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":      plan.order.ID.String(),
			"commission_id": result.Commission.ID.String(),
			"shop_id":       result.Commission.ShopID.String(),
		})
		s.logg.Warn(logCtx, "refund after payout")
	}
	return disputed, afterPayout, nil
}

// replay returns the refund stored under the input's key, or
// gorm.ErrRecordNotFound when the key is unused.
func (s *service) replay(ctx context.Context, repo Repository, input RefundInput) (*models.Refund, error) {
	existing, err := repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund by idempotency key")
	}
	if existing.OrderID != input.OrderID || !sameItem(existing.OrderItemID, input.ItemID) ||
		!existing.Amount.Equal(input.Amount) || existing.CreditWallet != input.CreditWallet {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for a different refund")
	}
	return existing, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refunds")
	}
	return rows, nil
}

func validateRefund(input RefundInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.ActorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if strings.TrimSpace(input.Reason) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund reason required")
	}
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	return nil
}

func openItems(items []models.OrderItem) []models.OrderItem {
	out := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		if item.Status != enums.OrderItemStatusCancelled {
			out = append(out, item)
		}
	}
	return out
}

func findItem(items []models.OrderItem, id uuid.UUID) (models.OrderItem, bool) {
	for _, item := range items {
		if item.ID == id {
			return item, true
		}
	}
	return models.OrderItem{}, false
}

func sameItem(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
