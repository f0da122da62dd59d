package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/settlement-ledger/pkg/db"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/money"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

const idempotencyIndex = "ux_transactions_idempotency_key"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the append-only transaction ledger.
type Service interface {
	Record(ctx context.Context, input RecordInput) (*models.Transaction, error)
	RecordTx(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.Transaction, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, gatewayResponse json.RawMessage) (*models.Transaction, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	OrderCollected(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error)
	OrderCollectedTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (decimal.Decimal, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error)
	List(ctx context.Context, filters ListFilters, params pagination.Params) (*TransactionList, error)
	PendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
}

type service struct {
	repo Repository
	tx   txRunner
	now  func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, now: time.Now}, nil
}

func (s *service) Record(ctx context.Context, input RecordInput) (*models.Transaction, error) {
	if err := validateRecord(input); err != nil {
		return nil, err
	}
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		existing, err := s.replay(ctx, s.repo, input)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	var created *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := s.insert(ctx, s.repo.WithTx(tx), input)
		if err != nil {
			return err
		}
		created = txn
		return nil
	})
	if err != nil {
		if input.IdempotencyKey != "" && dbpkg.IsUniqueViolation(err, idempotencyIndex) {
			// lost the insert race to a concurrent replay
			return s.replay(ctx, s.repo, input)
		}
		return nil, asLedgerError(err, "record transaction")
	}
	return created, nil
}

// RecordTx appends a row inside the caller's transaction.
func (s *service) RecordTx(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.Transaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if err := validateRecord(input); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	if strings.TrimSpace(input.IdempotencyKey) != "" {
		existing, err := s.replay(ctx, repo, input)
		if err != nil || existing != nil {
			return existing, err
		}
	}
	txn, err := s.insert(ctx, repo, input)
	if err != nil {
		return nil, asLedgerError(err, "record transaction")
	}
	return txn, nil
}

func (s *service) insert(ctx context.Context, repo Repository, input RecordInput) (*models.Transaction, error) {
	amount := input.Amount.Round()
	txn := &models.Transaction{
		Type:        input.Type,
		Status:      enums.TransactionStatusPending,
		Amount:      amount.Amount,
		Currency:    amount.Currency,
		OrderID:     input.OrderID,
		UserID:      input.UserID,
		ShopID:      input.ShopID,
		PayoutID:    input.PayoutID,
		GatewayRef:  input.GatewayRef,
		Description: input.Description,
	}
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		txn.IdempotencyKey = &key
	}
	if input.Settled {
		now := s.now().UTC()
		txn.Status = enums.TransactionStatusCompleted
		txn.ProcessedAt = &now
	}
	if err := repo.Create(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// replay returns the row stored under the idempotency key, nil when the key
// is unused, or IDEMPOTENCY_KEY_REUSED when the stored row differs.
func (s *service) replay(ctx context.Context, repo Repository, input RecordInput) (*models.Transaction, error) {
	existing, err := repo.FindByIdempotencyKey(ctx, strings.TrimSpace(input.IdempotencyKey))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction by idempotency key")
	}
	amount := input.Amount.Round()
	if existing.Type != input.Type || existing.Currency != amount.Currency || !existing.Amount.Equal(amount.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for a different transaction")
	}
	return existing, nil
}

func (s *service) MarkCompleted(ctx context.Context, id uuid.UUID, gatewayResponse json.RawMessage) (*models.Transaction, error) {
	updates := map[string]any{
		"status":       enums.TransactionStatusCompleted,
		"processed_at": s.now().UTC(),
	}
	if len(gatewayResponse) > 0 {
		if !json.Valid(gatewayResponse) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway response must be valid json")
		}
		updates["gateway_response"] = gatewayResponse
	}
	return s.terminate(ctx, id, updates)
}

func (s *service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error) {
	return s.terminate(ctx, id, map[string]any{
		"status":         enums.TransactionStatusFailed,
		"failure_reason": strings.TrimSpace(reason),
		"processed_at":   s.now().UTC(),
	})
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error) {
	return s.terminate(ctx, id, map[string]any{
		"status":         enums.TransactionStatusCancelled,
		"failure_reason": strings.TrimSpace(reason),
		"processed_at":   s.now().UTC(),
	})
}

// terminate moves a pending row to a terminal status exactly once.
func (s *service) terminate(ctx context.Context, id uuid.UUID, updates map[string]any) (*models.Transaction, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	var result *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.TransitionPending(ctx, id, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update transaction status")
		}
		txn, err := repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}
		if rows == 0 {
			return pkgerrors.Conflict(pkgerrors.ReasonAlreadyTerminal, fmt.Sprintf("transaction already %s", txn.Status))
		}
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return txn, nil
}

func (s *service) OrderCollected(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error) {
	return collected(ctx, s.repo, orderID)
}

func (s *service) OrderCollectedTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (decimal.Decimal, error) {
	return collected(ctx, s.repo.WithTx(tx), orderID)
}

// collected is Σ completed payments − Σ completed refunds for the order.
func collected(ctx context.Context, repo Repository, orderID uuid.UUID) (decimal.Decimal, error) {
	rows, err := repo.ListCompletedForOrder(ctx, orderID, enums.TransactionTypePayment, enums.TransactionTypeRefund)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum order collections")
	}
	total := decimal.Zero
	for _, row := range rows {
		switch row.Type {
		case enums.TransactionTypePayment:
			total = total.Add(row.Amount)
		case enums.TransactionTypeRefund:
			total = total.Sub(row.Amount)
		}
	}
	return total, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error) {
	rows, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order transactions")
	}
	return rows, nil
}

func (s *service) List(ctx context.Context, filters ListFilters, params pagination.Params) (*TransactionList, error) {
	rows, err := s.repo.List(ctx, filters, params)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	list := &TransactionList{}
	list.Transactions, list.NextCursor = pagination.Trim(rows, params.Limit, func(row models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return list, nil
}

func (s *service) PendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	return s.repo.ListPendingWithGatewayRef(ctx, enums.TransactionTypePayment, olderThan, limit)
}

func validateRecord(input RecordInput) error {
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction type %q", input.Type))
	}
	if !money.IsSupported(input.Amount.Currency) {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", input.Amount.Currency))
	}
	if !input.Amount.Amount.Equal(input.Amount.Round().Amount) {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount is finer than the currency minor unit")
	}
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}
	return nil
}

func asLedgerError(err error, op string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
