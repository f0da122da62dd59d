// Package dbtest opens isolated in-memory sqlite databases with the ledger
// schema for package tests.
package dbtest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/settlement-ledger/pkg/db"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
)

// Open returns a migrated database private to the test. The pool is capped
// at one connection so concurrent transactions serialize the way row locks
// serialize them on Postgres.
func Open(t *testing.T) *db.Client {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_foreign_keys=on", name, uuid.NewString()[:8])
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	client := db.Wrap(conn)
	if err := client.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return client
}

// SeedShop inserts a shop settlement account with the given rate.
func SeedShop(t *testing.T, client *db.Client, rate string) models.ShopAccount {
	t.Helper()
	shop := models.ShopAccount{
		ID:             uuid.New(),
		Name:           "shop-" + uuid.NewString()[:6],
		CommissionRate: decimal.RequireFromString(rate),
		PayoutMethod:   enums.PayoutMethodBankTransfer,
		Currency:       "USD",
	}
	if err := client.DB().Create(&shop).Error; err != nil {
		t.Fatalf("seed shop: %v", err)
	}
	return shop
}

// SeedItem describes one order line for SeedOrder.
type SeedItem struct {
	ShopID     uuid.UUID
	UnitPrice  string
	Quantity   int
	Rate       string
	Commission string
	Fee        string
}

// SeedOrder inserts an order in the given status with frozen item terms.
// Totals are the plain sum of line totals.
func SeedOrder(t *testing.T, client *db.Client, status enums.OrderStatus, items ...SeedItem) models.Order {
	t.Helper()
	order := models.Order{
		OrderNumber:    "ORD-TEST-" + strings.ToUpper(uuid.NewString()[:8]),
		CustomerID:     uuid.New(),
		Status:         status,
		Currency:       "USD",
		TaxAmount:      decimal.Zero,
		ShippingAmount: decimal.Zero,
		DiscountAmount: decimal.Zero,
	}
	subtotal := decimal.Zero
	for _, item := range items {
		qty := item.Quantity
		if qty == 0 {
			qty = 1
		}
		unit := decimal.RequireFromString(item.UnitPrice)
		line := unit.Mul(decimal.NewFromInt(int64(qty)))
		subtotal = subtotal.Add(line)
		order.Items = append(order.Items, models.OrderItem{
			ShopID:           item.ShopID,
			ProductRef:       "sku-" + uuid.NewString()[:6],
			ProductName:      "item",
			Quantity:         qty,
			UnitPrice:        unit,
			LineTotal:        line,
			CommissionRate:   decimal.RequireFromString(orDefault(item.Rate, "0")),
			CommissionAmount: decimal.RequireFromString(orDefault(item.Commission, "0")),
			PlatformFee:      decimal.RequireFromString(orDefault(item.Fee, "0")),
			Status:           enums.OrderItemStatusPending,
		})
	}
	order.Subtotal = subtotal
	order.TotalAmount = subtotal
	if err := client.DB().Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

// SeedPayoutLink inserts a pending payout holding a live link to the
// commission.
func SeedPayoutLink(t *testing.T, client *db.Client, commission models.Commission) models.Payout {
	t.Helper()
	now := time.Now().UTC()
	payout := models.Payout{
		ShopID:       commission.ShopID,
		Amount:       commission.NetAmount,
		Currency:     commission.Currency,
		Status:       enums.PayoutStatusPending,
		PayoutMethod: enums.PayoutMethodBankTransfer,
		RequestedAt:  now,
	}
	if err := client.DB().Create(&payout).Error; err != nil {
		t.Fatalf("seed payout: %v", err)
	}
	link := models.PayoutCommission{
		PayoutID:     payout.ID,
		CommissionID: commission.ID,
		Amount:       commission.NetAmount,
		LinkedAt:     now,
	}
	if err := client.DB().Create(&link).Error; err != nil {
		t.Fatalf("seed payout link: %v", err)
	}
	return payout
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// Logger returns a logger that discards output.
func Logger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

// Count returns the number of rows in table matching the optional condition.
func Count(t *testing.T, client *db.Client, table string, conds ...any) int64 {
	t.Helper()
	query := client.DB().Table(table)
	if len(conds) > 0 {
		query = query.Where(conds[0], conds[1:]...)
	}
	var n int64
	if err := query.Count(&n).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
