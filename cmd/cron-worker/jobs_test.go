package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-ledger/internal/app"
	"github.com/angelmondragon/settlement-ledger/pkg/config"
	"github.com/angelmondragon/settlement-ledger/pkg/db/dbtest"
)

func TestBuildRegistryWithoutPaymentSync(t *testing.T) {
	client := dbtest.Open(t)
	cfg := &config.Config{
		Settlement: config.SettlementConfig{
			DefaultCommissionRate: "10",
			PlatformFeeFlat:       "0",
			DefaultCurrency:       "USD",
			PayoutMinimum:         "0.01",
			ReturnWindow:          14 * 24 * time.Hour,
			InvoiceTaxRate:        "0",
			InvoiceDueIn:          30 * 24 * time.Hour,
		},
		Cron:   config.CronConfig{ReconcileLookback: 48 * time.Hour},
		Outbox: config.OutboxConfig{Retention: 720 * time.Hour},
	}
	services, err := app.Build(cfg.Settlement, client, dbtest.Logger(), nil)
	require.NoError(t, err)

	registry, err := buildRegistry(cfg, services, nil, nil, dbtest.Logger())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"commission-clearing",
		"payout-batching",
		"payout-dispatch",
		"invoice-overdue",
		"reconciliation",
		"outbox-retention",
	}, registry.Names())
}

func TestLockNameDefaultsEnvironment(t *testing.T) {
	cfg := &config.Config{Cron: config.CronConfig{LockKey: "cron:settlement"}}
	assert.Equal(t, "cron:settlement:local", lockName(cfg))

	cfg.App.Env = "prod"
	assert.Equal(t, "cron:settlement:prod", lockName(cfg))
}
