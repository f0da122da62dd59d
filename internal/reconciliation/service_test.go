package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-ledger/internal/ledger"
	"github.com/angelmondragon/settlement-ledger/internal/wallet"
	"github.com/angelmondragon/settlement-ledger/pkg/db"
	"github.com/angelmondragon/settlement-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/money"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

type harness struct {
	client  *db.Client
	svc     Service
	ledger  ledger.Service
	wallets wallet.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Open(t)
	logg := dbtest.Logger()
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), logg)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()), client)
	require.NoError(t, err)
	wallets, err := wallet.NewService(wallet.NewRepository(client.DB()), client, ledgerSvc, emitter, logg, nil)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repo:    NewRepository(client.DB()),
		DB:      client,
		Ledger:  ledgerSvc,
		Wallets: wallets,
		Outbox:  emitter,
		Logger:  logg,
	})
	require.NoError(t, err)
	return &harness{client: client, svc: svc, ledger: ledgerSvc, wallets: wallets}
}

func (h *harness) collect(t *testing.T, orderID uuid.UUID, amount string) {
	t.Helper()
	_, err := h.ledger.Record(context.Background(), ledger.RecordInput{
		Type:    enums.TransactionTypePayment,
		Amount:  money.MustParse(amount, "USD"),
		OrderID: &orderID,
		Settled: true,
	})
	require.NoError(t, err)
}

// seedPayout stores a payout for the shop linked to one commission per net
// amount. Commissions are created with the given status.
func (h *harness) seedPayout(t *testing.T, shopID uuid.UUID, amount string, status enums.PayoutStatus, commissionStatus enums.CommissionStatus, nets ...string) models.Payout {
	t.Helper()
	now := time.Now().UTC()
	payout := models.Payout{
		ShopID:       shopID,
		Amount:       decimal.RequireFromString(amount),
		Currency:     "USD",
		Status:       status,
		PayoutMethod: enums.PayoutMethodBankTransfer,
		RequestedAt:  now,
	}
	require.NoError(t, h.client.DB().Create(&payout).Error)
	for _, net := range nets {
		order := dbtest.SeedOrder(t, h.client, enums.OrderStatusDelivered, dbtest.SeedItem{ShopID: shopID, UnitPrice: net})
		commission := models.Commission{
			OrderItemID:      order.Items[0].ID,
			OrderID:          order.ID,
			ShopID:           shopID,
			GrossAmount:      decimal.RequireFromString(net),
			CommissionRate:   decimal.Zero,
			CommissionAmount: decimal.Zero,
			PlatformFee:      decimal.Zero,
			NetAmount:        decimal.RequireFromString(net),
			Currency:         "USD",
			Status:           commissionStatus,
			CalculatedAt:     now,
		}
		require.NoError(t, h.client.DB().Create(&commission).Error)
		link := models.PayoutCommission{
			PayoutID:     payout.ID,
			CommissionID: commission.ID,
			Amount:       commission.NetAmount,
			LinkedAt:     now,
		}
		require.NoError(t, h.client.DB().Create(&link).Error)
	}
	return payout
}

func TestRaise_DeduplicatesOpenFlags(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	input := FlagInput{
		EntityType: enums.IntegrityEntityOrder,
		EntityID:   uuid.New(),
		Kind:       enums.IntegrityOrderCollectionMismatch,
		Details:    map[string]any{"collected": "12.00"},
	}

	first, err := h.svc.Raise(ctx, input)
	require.NoError(t, err)
	second, err := h.svc.Raise(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.JSONEq(t, `{"collected":"12.00"}`, string(first.Details))
	assert.Equal(t, int64(1), dbtest.Count(t, h.client, "integrity_flags"))
	assert.Equal(t, int64(1), dbtest.Count(t, h.client, "outbox_events", "event_type = ?", enums.EventIntegrityViolation))

	actor := uuid.New()
	resolved, err := h.svc.ResolveFlag(ctx, first.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, enums.IntegrityFlagResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, actor, *resolved.ResolvedBy)

	_, err = h.svc.ResolveFlag(ctx, first.ID, actor)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonAlreadyTerminal))

	reopened, err := h.svc.Raise(ctx, input)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, reopened.ID)
	assert.Equal(t, int64(2), dbtest.Count(t, h.client, "integrity_flags"))
}

func TestRaise_Validation(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Raise(context.Background(), FlagInput{EntityType: enums.IntegrityEntityOrder})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.ResolveFlag(context.Background(), uuid.New(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReconcileOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	shop := dbtest.SeedShop(t, h.client, "10")

	ok := dbtest.SeedOrder(t, h.client, enums.OrderStatusProcessing, dbtest.SeedItem{ShopID: shop.ID, UnitPrice: "100.00"})
	h.collect(t, ok.ID, "100.00")
	report, err := h.svc.ReconcileOrder(ctx, ok.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Empty(t, report.Flags)

	over := dbtest.SeedOrder(t, h.client, enums.OrderStatusProcessing, dbtest.SeedItem{ShopID: shop.ID, UnitPrice: "100.00"})
	h.collect(t, over.ID, "100.00")
	h.collect(t, over.ID, "20.00")
	report, err = h.svc.ReconcileOrder(ctx, over.ID)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	require.Len(t, report.Flags, 1)
	assert.Equal(t, enums.IntegrityOrderCollectionMismatch, report.Flags[0].Kind)
	assert.Equal(t, over.ID, report.Flags[0].EntityID)

	_, err = h.svc.ReconcileOrder(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReconcilePayout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	shop := dbtest.SeedShop(t, h.client, "10")

	clean := h.seedPayout(t, shop.ID, "30.00", enums.PayoutStatusCompleted, enums.CommissionStatusPaidOut, "10.00", "20.00")
	report, err := h.svc.ReconcilePayout(ctx, clean.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)

	broken := h.seedPayout(t, shop.ID, "50.00", enums.PayoutStatusCompleted, enums.CommissionStatusCleared, "40.00")
	report, err = h.svc.ReconcilePayout(ctx, broken.ID)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	require.Len(t, report.Flags, 2)
	assert.Equal(t, enums.IntegrityPayoutAmountMismatch, report.Flags[0].Kind)
	assert.Equal(t, enums.IntegrityPayoutCommissionState, report.Flags[1].Kind)

	failed := h.seedPayout(t, shop.ID, "99.00", enums.PayoutStatusFailed, enums.CommissionStatusCleared, "1.00")
	report, err = h.svc.ReconcilePayout(ctx, failed.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestReconcileShop_RefundAfterPayout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	shop := dbtest.SeedShop(t, h.client, "10")

	h.seedPayout(t, shop.ID, "30.00", enums.PayoutStatusCompleted, enums.CommissionStatusPaidOut, "10.00", "20.00")
	report, err := h.svc.ReconcileShop(ctx, shop.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)

	require.NoError(t, h.client.DB().Model(&models.Commission{}).
		Where("shop_id = ? AND net_amount = ?", shop.ID, decimal.RequireFromString("20.00")).
		Update("status", enums.CommissionStatusDisputed).Error)

	report, err = h.svc.ReconcileShop(ctx, shop.ID)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	require.Len(t, report.Flags, 1)
	assert.Equal(t, enums.IntegrityRefundAfterPayout, report.Flags[0].Kind)
	assert.Equal(t, enums.IntegrityEntityShop, report.Flags[0].EntityType)
	assert.Contains(t, string(report.Flags[0].Details), `"overpaid":"20.00"`)
}

func TestReconcileWallet_Drift(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := uuid.New()
	for _, amount := range []string{"10.00", "5.00"} {
		_, err := h.wallets.ApplyWalletEntry(ctx, wallet.ApplyInput{
			UserID: user,
			Type:   enums.WalletEntryDeposit,
			Amount: money.MustParse(amount, "USD"),
		})
		require.NoError(t, err)
	}

	report, err := h.svc.ReconcileWallet(ctx, user)
	require.NoError(t, err)
	assert.True(t, report.Consistent)

	require.NoError(t, h.client.DB().Model(&models.WalletTransaction{}).
		Where("user_id = ? AND sequence = ?", user, 2).
		Update("balance_after", decimal.RequireFromString("14.00")).Error)

	report, err = h.svc.ReconcileWallet(ctx, user)
	require.NoError(t, err)
	require.Len(t, report.Flags, 1)
	assert.Equal(t, enums.IntegrityWalletBalanceDrift, report.Flags[0].Kind)
	assert.Contains(t, string(report.Flags[0].Details), `"first_mismatch_sequence":2`)
}

func TestReconcileRecent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	since := time.Now().UTC().Add(-time.Minute)
	shop := dbtest.SeedShop(t, h.client, "10")

	order := dbtest.SeedOrder(t, h.client, enums.OrderStatusProcessing, dbtest.SeedItem{ShopID: shop.ID, UnitPrice: "10.00"})
	h.collect(t, order.ID, "25.00")
	h.seedPayout(t, shop.ID, "15.00", enums.PayoutStatusPending, enums.CommissionStatusCleared, "10.00")
	_, err := h.wallets.ApplyWalletEntry(ctx, wallet.ApplyInput{
		UserID: uuid.New(),
		Type:   enums.WalletEntryDeposit,
		Amount: money.MustParse("3.00", "USD"),
	})
	require.NoError(t, err)

	summary, err := h.svc.ReconcileRecent(ctx, since)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, summary.Orders, 2)
	assert.Equal(t, 1, summary.Payouts)
	assert.Equal(t, 1, summary.Shops)
	assert.Equal(t, 1, summary.Wallets)
	assert.Equal(t, 2, summary.Flagged)

	open, total, err := h.svc.ListOpenFlags(ctx, nil, pagination.Page{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, open, 2)

	payoutsOnly := enums.IntegrityEntityPayout
	open, total, err = h.svc.ListOpenFlags(ctx, &payoutsOnly, pagination.Page{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, enums.IntegrityPayoutAmountMismatch, open[0].Kind)

	again, err := h.svc.ReconcileRecent(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Flagged)
	assert.Equal(t, int64(2), dbtest.Count(t, h.client, "integrity_flags"))
}
