package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/internal/ledger"
	"github.com/angelmondragon/settlement-ledger/pkg/db"
	"github.com/angelmondragon/settlement-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/money"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

// staleRepo hides the latest entry for a number of reads, which makes the
// next append collide on the sequence index.
type staleRepo struct {
	Repository
	remaining *int
}

func (r *staleRepo) WithTx(tx *gorm.DB) Repository {
	return &staleRepo{Repository: r.Repository.WithTx(tx), remaining: r.remaining}
}

func (r *staleRepo) Latest(ctx context.Context, userID uuid.UUID) (*models.WalletTransaction, error) {
	if *r.remaining > 0 {
		*r.remaining--
		return nil, nil
	}
	return r.Repository.Latest(ctx, userID)
}

func newTestService(t *testing.T, repo func(Repository) Repository) (Service, *db.Client) {
	t.Helper()
	client := dbtest.Open(t)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()), client)
	require.NoError(t, err)
	base := NewRepository(client.DB())
	if repo != nil {
		base = repo(base)
	}
	logg := dbtest.Logger()
	svc, err := NewService(base, client, ledgerSvc, outbox.NewService(outbox.NewRepository(client.DB()), logg), logg, nil)
	require.NoError(t, err)
	return svc, client
}

func entry(userID uuid.UUID, entryType enums.WalletEntryType, amount, key string) ApplyInput {
	return ApplyInput{
		UserID:         userID,
		Type:           entryType,
		Amount:         money.MustParse(amount, "USD"),
		IdempotencyKey: key,
	}
}

func TestApplyWalletEntry_RunningBalance(t *testing.T) {
	svc, client := newTestService(t, nil)
	ctx := context.Background()
	user := uuid.New()

	first, err := svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryDeposit, "50.00", ""))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Sequence)
	assert.True(t, first.BalanceAfter.Equal(decimal.NewFromInt(50)))
	require.NotNil(t, first.TransactionID)

	second, err := svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryPayment, "20.25", ""))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Sequence)
	assert.True(t, second.BalanceAfter.Equal(decimal.RequireFromString("29.75")))

	third, err := svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryRefundCredit, "0.25", ""))
	require.NoError(t, err)
	assert.True(t, third.BalanceAfter.Equal(decimal.NewFromInt(30)))

	balance, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.True(t, balance.Amount.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, int64(3), balance.Sequence)
	assert.Equal(t, "USD", balance.Currency)

	assert.Equal(t, int64(2), dbtest.Count(t, client, "transactions", "type = ?", enums.TransactionTypeWalletDeposit))
	assert.Equal(t, int64(1), dbtest.Count(t, client, "transactions", "type = ?", enums.TransactionTypeWalletWithdrawal))
	assert.Equal(t, int64(3), dbtest.Count(t, client, "outbox_events", "event_type = ?", enums.EventWalletEntryApplied))
}

func TestApplyWalletEntry_InsufficientFunds(t *testing.T) {
	svc, client := newTestService(t, nil)
	ctx := context.Background()
	user := uuid.New()

	_, err := svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryWithdrawal, "1.00", ""))
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInsufficientFunds))

	_, err = svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryDeposit, "10.00", ""))
	require.NoError(t, err)
	_, err = svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryPayment, "10.01", ""))
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInsufficientFunds))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	drained, err := svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryWithdrawal, "10.00", ""))
	require.NoError(t, err)
	assert.True(t, drained.BalanceAfter.IsZero())
	assert.Equal(t, int64(2), dbtest.Count(t, client, "wallet_transactions"))
}

func TestApplyWalletEntry_Validation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	user := uuid.New()

	cases := map[string]ApplyInput{
		"missing user":  entry(uuid.Nil, enums.WalletEntryDeposit, "1.00", ""),
		"unknown type":  entry(user, enums.WalletEntryType("bonus"), "1.00", ""),
		"zero amount":   entry(user, enums.WalletEntryDeposit, "0", ""),
		"negative":      entry(user, enums.WalletEntryDeposit, "-5", ""),
		"rounds to nil": entry(user, enums.WalletEntryDeposit, "0.001", ""),
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ApplyWalletEntry(ctx, input)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}

	_, err := svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryDeposit, "5.00", ""))
	require.NoError(t, err)
	eur := ApplyInput{UserID: user, Type: enums.WalletEntryDeposit, Amount: money.MustParse("5.00", "EUR")}
	_, err = svc.ApplyWalletEntry(ctx, eur)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestApplyWalletEntry_IdempotencyKey(t *testing.T) {
	svc, client := newTestService(t, nil)
	ctx := context.Background()
	user := uuid.New()

	first, err := svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryDeposit, "12.00", "topup-1"))
	require.NoError(t, err)
	again, err := svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryDeposit, "12.00", "topup-1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, int64(1), dbtest.Count(t, client, "wallet_transactions"))
	assert.Equal(t, int64(1), dbtest.Count(t, client, "transactions"))

	_, err = svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryDeposit, "13.00", "topup-1"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIdempotency))
}

func TestApplyWalletEntry_RetriesLostSequenceRace(t *testing.T) {
	remaining := 0
	svc, client := newTestService(t, func(base Repository) Repository {
		return &staleRepo{Repository: base, remaining: &remaining}
	})
	ctx := context.Background()
	user := uuid.New()

	_, err := svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryDeposit, "10.00", ""))
	require.NoError(t, err)

	remaining = 2
	second, err := svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryDeposit, "5.00", ""))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Sequence)
	assert.True(t, second.BalanceAfter.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, int64(2), dbtest.Count(t, client, "transactions"))

	remaining = maxAppendAttempts
	_, err = svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryDeposit, "1.00", ""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSequenceConflict))
	assert.Equal(t, int64(2), dbtest.Count(t, client, "wallet_transactions"))
}

func TestApplyWalletEntry_ConcurrentAppendsStayDense(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	user := uuid.New()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryDeposit, "1.50", ""))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	check, err := svc.Verify(ctx, user)
	require.NoError(t, err)
	assert.True(t, check.Consistent)
	assert.Equal(t, 8, check.Entries)
	assert.True(t, check.Stored.Equal(decimal.NewFromInt(12)))
}

func TestVerify_DetectsDrift(t *testing.T) {
	svc, client := newTestService(t, nil)
	ctx := context.Background()
	user := uuid.New()

	for _, amount := range []string{"10.00", "5.00", "2.50"} {
		_, err := svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryDeposit, amount, ""))
		require.NoError(t, err)
	}
	require.NoError(t, client.DB().Model(&models.WalletTransaction{}).
		Where("user_id = ? AND sequence = ?", user, 2).
		Update("balance_after", decimal.RequireFromString("16.00")).Error)

	check, err := svc.Verify(ctx, user)
	require.NoError(t, err)
	assert.False(t, check.Consistent)
	require.NotNil(t, check.FirstMismatch)
	assert.Equal(t, int64(2), *check.FirstMismatch)
	assert.True(t, check.Replayed.Equal(decimal.RequireFromString("17.50")))
}

func TestHistoryAndActiveUsers(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	user := uuid.New()
	for i := 0; i < 3; i++ {
		_, err := svc.ApplyWalletEntry(ctx, entry(user, enums.WalletEntryDeposit, "1.00", ""))
		require.NoError(t, err)
	}

	rows, total, err := svc.History(ctx, user, pagination.Page{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[0].Sequence)

	empty, err := svc.Balance(ctx, uuid.New())
	require.NoError(t, err)
	assert.True(t, empty.Amount.IsZero())

	users, err := svc.ActiveUsers(ctx, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{user}, users)
}
