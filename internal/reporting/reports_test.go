package reporting

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

func reportPeriod() (time.Time, time.Time) {
	now := time.Now().UTC()
	return now.Add(-time.Hour), now.Add(time.Hour)
}

func TestGenerateReport_ShopStatement(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	shop := dbtest.SeedShop(t, client, "10")
	seedCommission(t, client, shop.ID, "10.00", "USD", enums.CommissionStatusCleared)
	seedCommission(t, client, shop.ID, "5.50", "USD", enums.CommissionStatusPending)
	seedCommission(t, client, shop.ID, "7.25", "USD", enums.CommissionStatusDisputed)
	other := dbtest.SeedShop(t, client, "10")
	seedCommission(t, client, other.ID, "1000.00", "USD", enums.CommissionStatusCleared)
	start, end := reportPeriod()

	report, err := svc.GenerateReport(ctx, ReportInput{
		Type:        enums.ReportShopStatement,
		ShopID:      &shop.ID,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ReportShopStatement, report.ReportType)

	stored, err := svc.GetReport(ctx, report.ID)
	require.NoError(t, err)
	var body ShopStatement
	require.NoError(t, json.Unmarshal(stored.Data, &body))
	require.Len(t, body.Period, 1)
	assert.Equal(t, 2, body.Period[0].Commissions)
	assert.Equal(t, "15.50", body.Period[0].Net)
	assert.Equal(t, "7.25", body.Period[0].Disputed)
	assert.Empty(t, body.Period[0].Refunded)
	require.NotNil(t, body.Balance)
	assert.Equal(t, shop.ID, body.Balance.ShopID)
}

func TestGenerateReport_PlatformRevenue(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	for _, rate := range []string{"10", "5"} {
		shop := dbtest.SeedShop(t, client, rate)
		order := dbtest.SeedOrder(t, client, enums.OrderStatusDelivered, dbtest.SeedItem{ShopID: shop.ID, UnitPrice: "100.00"})
		require.NoError(t, client.DB().Create(&models.Commission{
			OrderItemID:      order.Items[0].ID,
			OrderID:          order.ID,
			ShopID:           shop.ID,
			GrossAmount:      decimal.NewFromInt(100),
			CommissionRate:   decimal.RequireFromString(rate),
			CommissionAmount: decimal.RequireFromString(rate),
			PlatformFee:      decimal.NewFromInt(1),
			NetAmount:        decimal.NewFromInt(99).Sub(decimal.RequireFromString(rate)),
			Currency:         "USD",
			Status:           enums.CommissionStatusCleared,
			CalculatedAt:     time.Now().UTC(),
		}).Error)
	}
	require.NoError(t, client.DB().Create(&models.Transaction{
		Type:     enums.TransactionTypeRefund,
		Status:   enums.TransactionStatusCompleted,
		Amount:   decimal.RequireFromString("20.00"),
		Currency: "USD",
	}).Error)
	start, end := reportPeriod()

	report, err := svc.GenerateReport(ctx, ReportInput{Type: enums.ReportPlatformRevenue, PeriodStart: start, PeriodEnd: end})
	require.NoError(t, err)
	assert.Nil(t, report.ShopID)

	var body PlatformRevenue
	require.NoError(t, json.Unmarshal(report.Data, &body))
	require.Len(t, body.Period, 1)
	assert.Equal(t, PeriodTotals{
		Currency:    "USD",
		Commissions: 2,
		Gross:       "200.00",
		Commission:  "15.00",
		PlatformFee: "2.00",
		Net:         "183.00",
		Disputed:    "0.00",
		Refunded:    "20.00",
	}, body.Period[0])
}

func TestGenerateReport_Validation(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	shop := dbtest.SeedShop(t, client, "10")
	start, end := reportPeriod()
	missing := uuid.New()

	cases := map[string]ReportInput{
		"unknown type":           {Type: "weekly", PeriodStart: start, PeriodEnd: end},
		"missing period":         {Type: enums.ReportPlatformRevenue},
		"inverted period":        {Type: enums.ReportPlatformRevenue, PeriodStart: end, PeriodEnd: start},
		"statement without shop": {Type: enums.ReportShopStatement, PeriodStart: start, PeriodEnd: end},
		"platform with shop":     {Type: enums.ReportPlatformRevenue, ShopID: &shop.ID, PeriodStart: start, PeriodEnd: end},
	}
	for name, input := range cases {
		_, err := svc.GenerateReport(ctx, input)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), name)
	}

	_, err := svc.GenerateReport(ctx, ReportInput{Type: enums.ReportShopStatement, ShopID: &missing, PeriodStart: start, PeriodEnd: end})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	_, err = svc.GetReport(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Equal(t, int64(0), dbtest.Count(t, client, "financial_reports"))
}

func TestListReports(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	shop := dbtest.SeedShop(t, client, "10")
	start, end := reportPeriod()

	_, err := svc.GenerateReport(ctx, ReportInput{Type: enums.ReportShopStatement, ShopID: &shop.ID, PeriodStart: start, PeriodEnd: end})
	require.NoError(t, err)
	_, err = svc.GenerateReport(ctx, ReportInput{Type: enums.ReportPlatformRevenue, PeriodStart: start, PeriodEnd: end})
	require.NoError(t, err)

	rows, total, err := svc.ListReports(ctx, ReportFilter{}, pagination.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, rows, 2)

	statement := enums.ReportShopStatement
	rows, total, err = svc.ListReports(ctx, ReportFilter{Type: &statement, ShopID: &shop.ID}, pagination.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, enums.ReportShopStatement, rows[0].ReportType)

	bad := enums.ReportType("weekly")
	_, _, err = svc.ListReports(ctx, ReportFilter{Type: &bad}, pagination.Page{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
