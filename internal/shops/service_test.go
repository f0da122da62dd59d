package shops

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-ledger/internal/commissions"
	"github.com/angelmondragon/settlement-ledger/internal/ledger"
	"github.com/angelmondragon/settlement-ledger/pkg/db"
	"github.com/angelmondragon/settlement-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

func newTestService(t *testing.T) (Service, *db.Client) {
	t.Helper()
	client := dbtest.Open(t)
	svc, err := NewService(NewRepository(client.DB()), "usd", dbtest.Logger())
	require.NoError(t, err)
	return svc, client
}

func upsertInput(id uuid.UUID, rate string) UpsertInput {
	return UpsertInput{
		ShopID:            id,
		Name:              "Corner Books",
		CommissionRate:    decimal.RequireFromString(rate),
		PayoutMethod:      enums.PayoutMethodBankTransfer,
		PayoutDestination: json.RawMessage(`{"iban":"DE89370400440532013000"}`),
	}
}

func TestUpsert_CreatesThenReplaces(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	id := uuid.New()

	created, err := svc.Upsert(ctx, upsertInput(id, "12.5"))
	require.NoError(t, err)
	assert.Equal(t, "USD", created.Currency)
	assert.True(t, created.CommissionRate.Equal(decimal.RequireFromString("12.5")))
	assert.Empty(t, created.CategoryRates)

	input := upsertInput(id, "8")
	input.Name = "Corner Books & Co"
	input.PayoutMethod = enums.PayoutMethodPaypal
	updated, err := svc.Upsert(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, "Corner Books & Co", updated.Name)
	assert.Equal(t, enums.PayoutMethodPaypal, updated.PayoutMethod)
	assert.True(t, updated.CommissionRate.Equal(decimal.NewFromInt(8)))
	assert.Equal(t, int64(1), dbtest.Count(t, client, "shop_accounts"))

	rows, total, err := svc.List(ctx, pagination.Page{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, rows, 1)
}

func TestUpsert_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	overRate := upsertInput(uuid.New(), "100.01")
	_, err := svc.Upsert(ctx, overRate)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidRate))

	cases := map[string]func(*UpsertInput){
		"missing id":      func(in *UpsertInput) { in.ShopID = uuid.Nil },
		"blank name":      func(in *UpsertInput) { in.Name = "  " },
		"negative rate":   func(in *UpsertInput) { in.CommissionRate = decimal.NewFromInt(-1) },
		"unknown method":  func(in *UpsertInput) { in.PayoutMethod = enums.PayoutMethod("cheque") },
		"bad currency":    func(in *UpsertInput) { in.Currency = "XXX" },
		"bad destination": func(in *UpsertInput) { in.PayoutDestination = json.RawMessage(`{`) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			input := upsertInput(uuid.New(), "10")
			mutate(&input)
			_, err := svc.Upsert(ctx, input)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}
}

func TestCategoryRates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := uuid.New()
	category := uuid.New()

	_, err := svc.SetCategoryRate(ctx, id, category, decimal.NewFromInt(2))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.Upsert(ctx, upsertInput(id, "10"))
	require.NoError(t, err)

	shop, err := svc.SetCategoryRate(ctx, id, category, decimal.NewFromInt(2))
	require.NoError(t, err)
	require.Len(t, shop.CategoryRates, 1)
	assert.True(t, shop.CategoryRates[0].CommissionRate.Equal(decimal.NewFromInt(2)))

	shop, err = svc.SetCategoryRate(ctx, id, category, decimal.NewFromInt(3))
	require.NoError(t, err)
	require.Len(t, shop.CategoryRates, 1)
	assert.True(t, shop.CategoryRates[0].CommissionRate.Equal(decimal.NewFromInt(3)))

	_, err = svc.SetCategoryRate(ctx, id, category, decimal.NewFromInt(101))
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidRate))

	shop, err = svc.RemoveCategoryRate(ctx, id, category)
	require.NoError(t, err)
	assert.Empty(t, shop.CategoryRates)

	_, err = svc.RemoveCategoryRate(ctx, id, category)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRatesFeedTheResolver(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	logg := dbtest.Logger()
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()), client)
	require.NoError(t, err)
	engine, err := commissions.NewService(commissions.ServiceParams{
		Repo:        commissions.NewRepository(client.DB()),
		DB:          client,
		Ledger:      ledgerSvc,
		Outbox:      outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Logger:      logg,
		DefaultRate: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	id := uuid.New()
	category := uuid.New()
	_, err = svc.Upsert(ctx, upsertInput(id, "7"))
	require.NoError(t, err)
	_, err = svc.SetCategoryRate(ctx, id, category, decimal.NewFromInt(2))
	require.NoError(t, err)

	rate, err := engine.ResolveRate(ctx, id, nil)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(7)))
	rate, err = engine.ResolveRate(ctx, id, &category)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(2)))
	rate, err = engine.ResolveRate(ctx, uuid.New(), nil)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(10)))
}
