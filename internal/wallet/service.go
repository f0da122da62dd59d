package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
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
	maxAppendAttempts = 5
	sequenceIndex     = "ux_wallet_transactions_user_seq"
	idempotencyIndex  = "ux_wallet_transactions_idempotency_key"
)

// ErrSequenceConflict means another append took the next sequence number
// first. The enclosing transaction must be rolled back and retried.
var ErrSequenceConflict = errors.New("wallet sequence conflict")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledgerRecorder interface {
	RecordTx(ctx context.Context, tx *gorm.DB, input ledger.RecordInput) (*models.Transaction, error)
}

// Service appends to and reads the per-user wallet ledger.
type Service interface {
	ApplyWalletEntry(ctx context.Context, input ApplyInput) (*models.WalletTransaction, error)
	ApplyTx(ctx context.Context, tx *gorm.DB, input ApplyInput) (*models.WalletTransaction, error)
	Balance(ctx context.Context, userID uuid.UUID) (*Balance, error)
	History(ctx context.Context, userID uuid.UUID, page pagination.Page) ([]models.WalletTransaction, int64, error)
	Verify(ctx context.Context, userID uuid.UUID) (*Verification, error)
	ActiveUsers(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
}

// ApplyInput is one wallet movement request.
type ApplyInput struct {
	UserID         uuid.UUID
	Type           enums.WalletEntryType
	Amount         money.Money
	IdempotencyKey string
	Description    string
	OrderID        *uuid.UUID
}

// Balance is the wallet state after its latest entry.
type Balance struct {
	UserID   uuid.UUID       `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
	Sequence int64           `json:"sequence"`
}

// Verification is the result of replaying a wallet log.
type Verification struct {
	UserID        uuid.UUID       `json:"user_id"`
	Entries       int             `json:"entries"`
	Replayed      decimal.Decimal `json:"replayed_balance"`
	Stored        decimal.Decimal `json:"stored_balance"`
	Consistent    bool            `json:"consistent"`
	FirstMismatch *int64          `json:"first_mismatch_sequence,omitempty"`
}

type service struct {
	repo    Repository
	tx      txRunner
	ledger  ledgerRecorder
	outbox  outbox.Emitter
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
}

// NewService wires the wallet ledger.
func NewService(repo Repository, tx txRunner, ledgerSvc ledgerRecorder, emitter outbox.Emitter, logg *logger.Logger, m *metrics.LedgerMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger recorder required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tx: tx, ledger: ledgerSvc, outbox: emitter, logg: logg, metrics: m}, nil
}

// ApplyWalletEntry appends an entry in its own transaction, retrying when a
// concurrent append wins the sequence number.
func (s *service) ApplyWalletEntry(ctx context.Context, input ApplyInput) (*models.WalletTransaction, error) {
	if err := validateApply(input); err != nil {
		return nil, err
	}
	var lastErr error
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		var entry *models.WalletTransaction
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			applied, err := s.ApplyTx(ctx, tx, input)
			if err != nil {
				return err
			}
			entry = applied
			return nil
		})
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrSequenceConflict) {
			return nil, err
		}
		lastErr = err
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"user_id": input.UserID.String(),
			"attempt": attempt,
		})
		s.logg.Debug(logCtx, "wallet append lost sequence race, retrying")
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, lastErr, "wallet append retries exhausted")
}

// ApplyTx appends an entry inside the caller's transaction. It returns
// ErrSequenceConflict when the caller must retry the whole transaction.
func (s *service) ApplyTx(ctx context.Context, tx *gorm.DB, input ApplyInput) (*models.WalletTransaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if err := validateApply(input); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	amount := input.Amount.Round()
	key := strings.TrimSpace(input.IdempotencyKey)

	if key != "" {
		existing, err := repo.FindByIdempotencyKey(ctx, key)
		switch {
		case err == nil:
			if existing.UserID != input.UserID || existing.Type != input.Type ||
				existing.Currency != amount.Currency || !existing.Amount.Equal(amount.Amount) {
				return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for a different wallet entry")
			}
			return existing, nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet entry by idempotency key")
		}
	}

	latest, err := repo.Latest(ctx, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load latest wallet entry")
	}
	balance := money.Zero(amount.Currency)
	var sequence int64 = 1
	if latest != nil {
		if latest.Currency != amount.Currency {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("wallet is held in %s, entry is %s", latest.Currency, amount.Currency))
		}
		balance = money.Money{Amount: latest.BalanceAfter, Currency: latest.Currency}
		sequence = latest.Sequence + 1
	}

	after := balance
	if input.Type.IsDebit() {
		if amount.Amount.GreaterThan(balance.Amount) {
			return nil, pkgerrors.Conflict(pkgerrors.ReasonInsufficientFunds, "insufficient wallet balance").
				WithDetails(map[string]any{"balance": balance.Fixed(), "requested": amount.Fixed()})
		}
		after, err = balance.Sub(amount)
	} else {
		after, err = balance.Add(amount)
	}
	if err != nil {
		return nil, err
	}

	userID := input.UserID
	record := ledger.RecordInput{
		Type:        input.Type.LedgerType(),
		Amount:      amount,
		UserID:      &userID,
		OrderID:     input.OrderID,
		Description: describe(input),
		Settled:     true,
	}
	if key != "" {
		record.IdempotencyKey = "wallet:" + key
	}
	txn, err := s.ledger.RecordTx(ctx, tx, record)
	if err != nil {
		return nil, err
	}

	entry := &models.WalletTransaction{
		UserID:        input.UserID,
		Sequence:      sequence,
		Type:          input.Type,
		Amount:        amount.Amount,
		Currency:      amount.Currency,
		BalanceAfter:  after.Amount,
		TransactionID: &txn.ID,
		Description:   describe(input),
	}
	if key != "" {
		entry.IdempotencyKey = &key
	}
	if err := repo.Create(ctx, entry); err != nil {
		if dbpkg.IsUniqueViolation(err, sequenceIndex) || dbpkg.IsUniqueViolation(err, idempotencyIndex) {
			return nil, ErrSequenceConflict
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append wallet entry")
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventWalletEntryApplied,
		AggregateType: enums.AggregateWallet,
		AggregateID:   entry.UserID,
		OccurredAt:    entry.CreatedAt,
		Data: payloads.WalletEntryAppliedEvent{
			EntryID:      entry.ID,
			UserID:       entry.UserID,
			Sequence:     entry.Sequence,
			Type:         entry.Type,
			Amount:       amount.Fixed(),
			BalanceAfter: after.Fixed(),
			Currency:     entry.Currency,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit wallet entry applied")
	}
	s.metrics.WalletEntry(string(entry.Type))
	return entry, nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	latest, err := s.repo.Latest(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet balance")
	}
	if latest == nil {
		return &Balance{UserID: userID, Amount: decimal.Zero}, nil
	}
	return &Balance{
		UserID:   userID,
		Amount:   latest.BalanceAfter,
		Currency: latest.Currency,
		Sequence: latest.Sequence,
	}, nil
}

func (s *service) History(ctx context.Context, userID uuid.UUID, page pagination.Page) ([]models.WalletTransaction, int64, error) {
	if userID == uuid.Nil {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	rows, total, err := s.repo.List(ctx, userID, page)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallet entries")
	}
	return rows, total, nil
}

// Verify replays the signed amounts of the log and compares every running
// balance and sequence with what was stored.
func (s *service) Verify(ctx context.Context, userID uuid.UUID) (*Verification, error) {
	rows, err := s.repo.ListAll(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet log")
	}
	result := &Verification{UserID: userID, Entries: len(rows), Replayed: decimal.Zero, Stored: decimal.Zero, Consistent: true}
	for i, row := range rows {
		result.Replayed = result.Replayed.Add(row.SignedAmount())
		result.Stored = row.BalanceAfter
		if result.Consistent && (row.Sequence != int64(i+1) || !result.Replayed.Equal(row.BalanceAfter)) {
			seq := row.Sequence
			result.Consistent = false
			result.FirstMismatch = &seq
		}
	}
	return result, nil
}

func (s *service) ActiveUsers(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	ids, err := s.repo.ListActiveUserIDs(ctx, since.UTC(), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active wallets")
	}
	return ids, nil
}

func validateApply(input ApplyInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid wallet entry type %q", input.Type))
	}
	if !money.IsSupported(input.Amount.Currency) {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", input.Amount.Currency))
	}
	if !input.Amount.Round().IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}
	return nil
}

func describe(input ApplyInput) string {
	if d := strings.TrimSpace(input.Description); d != "" {
		return d
	}
	return "wallet " + strings.ReplaceAll(string(input.Type), "_", " ")
}
