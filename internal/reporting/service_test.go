package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-ledger/pkg/db"
	"github.com/angelmondragon/settlement-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

func newTestService(t *testing.T) (Service, *db.Client) {
	t.Helper()
	client := dbtest.Open(t)
	svc, err := NewService(NewRepository(client.DB()), dbtest.Logger())
	require.NoError(t, err)
	return svc, client
}

func seedCommission(t *testing.T, client *db.Client, shopID uuid.UUID, net, currency string, status enums.CommissionStatus) {
	t.Helper()
	order := dbtest.SeedOrder(t, client, enums.OrderStatusDelivered, dbtest.SeedItem{ShopID: shopID, UnitPrice: net})
	row := models.Commission{
		OrderItemID:      order.Items[0].ID,
		OrderID:          order.ID,
		ShopID:           shopID,
		GrossAmount:      decimal.RequireFromString(net),
		CommissionRate:   decimal.Zero,
		CommissionAmount: decimal.Zero,
		PlatformFee:      decimal.Zero,
		NetAmount:        decimal.RequireFromString(net),
		Currency:         currency,
		Status:           status,
		CalculatedAt:     time.Now().UTC(),
	}
	require.NoError(t, client.DB().Create(&row).Error)
}

func seedPayout(t *testing.T, client *db.Client, shopID uuid.UUID, amount string, status enums.PayoutStatus) {
	t.Helper()
	row := models.Payout{
		ShopID:       shopID,
		Amount:       decimal.RequireFromString(amount),
		Currency:     "USD",
		Status:       status,
		PayoutMethod: enums.PayoutMethodBankTransfer,
		RequestedAt:  time.Now().UTC(),
	}
	require.NoError(t, client.DB().Create(&row).Error)
}

func TestShopBalance(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	shop := dbtest.SeedShop(t, client, "10")

	seedCommission(t, client, shop.ID, "10.00", "USD", enums.CommissionStatusPending)
	seedCommission(t, client, shop.ID, "5.50", "USD", enums.CommissionStatusPending)
	seedCommission(t, client, shop.ID, "20.00", "USD", enums.CommissionStatusCleared)
	seedCommission(t, client, shop.ID, "30.00", "USD", enums.CommissionStatusPaidOut)
	seedCommission(t, client, shop.ID, "7.25", "USD", enums.CommissionStatusDisputed)
	seedCommission(t, client, shop.ID, "12.00", "EUR", enums.CommissionStatusCleared)
	seedPayout(t, client, shop.ID, "30.00", enums.PayoutStatusCompleted)
	seedPayout(t, client, shop.ID, "20.00", enums.PayoutStatusProcessing)
	seedPayout(t, client, shop.ID, "99.00", enums.PayoutStatusFailed)

	other := dbtest.SeedShop(t, client, "10")
	seedCommission(t, client, other.ID, "1000.00", "USD", enums.CommissionStatusCleared)

	summary, err := svc.ShopBalance(ctx, shop.ID)
	require.NoError(t, err)
	assert.Equal(t, "USD", summary.Currency)
	require.Len(t, summary.Balances, 2)
	assert.Equal(t, CurrencyBalance{
		Currency:  "USD",
		Pending:   "15.50",
		Cleared:   "20.00",
		PaidOut:   "30.00",
		Disputed:  "7.25",
		InFlight:  "20.00",
		Completed: "30.00",
	}, summary.Balances[0])
	assert.Equal(t, "EUR", summary.Balances[1].Currency)
	assert.Equal(t, "12.00", summary.Balances[1].Cleared)
	assert.Equal(t, "0.00", summary.Balances[1].InFlight)
}

func TestShopBalance_EmptyAndMissing(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	shop := dbtest.SeedShop(t, client, "10")

	summary, err := svc.ShopBalance(ctx, shop.ID)
	require.NoError(t, err)
	require.Len(t, summary.Balances, 1)
	assert.Equal(t, "0.00", summary.Balances[0].Pending)

	_, err = svc.ShopBalance(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestOrderTransactions(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	shop := dbtest.SeedShop(t, client, "10")
	order := dbtest.SeedOrder(t, client, enums.OrderStatusProcessing, dbtest.SeedItem{ShopID: shop.ID, UnitPrice: "30.00"})

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		row := models.Transaction{
			Type:      enums.TransactionTypePayment,
			Status:    enums.TransactionStatusCompleted,
			Amount:    decimal.NewFromInt(10),
			Currency:  "USD",
			OrderID:   &order.ID,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, client.DB().Create(&row).Error)
	}

	page, err := svc.OrderTransactions(ctx, order.ID, pagination.Page{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 2)
	assert.True(t, page.Items[0].CreatedAt.Before(page.Items[1].CreatedAt))

	page, err = svc.OrderTransactions(ctx, order.ID, pagination.Page{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	_, err = svc.OrderTransactions(ctx, uuid.New(), pagination.Page{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
