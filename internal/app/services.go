// Package app assembles the settlement services shared by the api and the
// background workers.
package app

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/settlement-ledger/internal/commissions"
	"github.com/angelmondragon/settlement-ledger/internal/invoices"
	"github.com/angelmondragon/settlement-ledger/internal/ledger"
	"github.com/angelmondragon/settlement-ledger/internal/orders"
	"github.com/angelmondragon/settlement-ledger/internal/payouts"
	"github.com/angelmondragon/settlement-ledger/internal/reconciliation"
	"github.com/angelmondragon/settlement-ledger/internal/refunds"
	"github.com/angelmondragon/settlement-ledger/internal/reporting"
	"github.com/angelmondragon/settlement-ledger/internal/shops"
	"github.com/angelmondragon/settlement-ledger/internal/wallet"
	"github.com/angelmondragon/settlement-ledger/pkg/config"
	"github.com/angelmondragon/settlement-ledger/pkg/db"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/metrics"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox"
)

// Services holds one instance of every settlement service.
type Services struct {
	Outbox         *outbox.Service
	OutboxRepo     *outbox.Repository
	Ledger         ledger.Service
	Commissions    commissions.Service
	Wallets        wallet.Service
	Reconciliation reconciliation.Service
	Refunds        refunds.Service
	Orders         orders.Service
	Payouts        payouts.Service
	Shops          shops.Service
	Invoices       invoices.Service
	Reporting      reporting.Service
}

// Build wires the services over a single database client. m may be nil.
func Build(cfg config.SettlementConfig, client *db.Client, logg *logger.Logger, m *metrics.LedgerMetrics) (*Services, error) {
	if client == nil {
		return nil, errors.New("database client is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	gormDB := client.DB()

	s := &Services{OutboxRepo: outbox.NewRepository(gormDB)}
	s.Outbox = outbox.NewService(s.OutboxRepo, logg)

	var err error
	if s.Ledger, err = ledger.NewService(ledger.NewRepository(gormDB), client); err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	if s.Commissions, err = commissions.NewService(commissions.ServiceParams{
		Repo:        commissions.NewRepository(gormDB),
		DB:          client,
		Ledger:      s.Ledger,
		Outbox:      s.Outbox,
		Logger:      logg,
		Metrics:     m,
		DefaultRate: cfg.DefaultRate(),
		PlatformFee: cfg.PlatformFee(),
	}); err != nil {
		return nil, fmt.Errorf("commission service: %w", err)
	}
	if s.Wallets, err = wallet.NewService(wallet.NewRepository(gormDB), client, s.Ledger, s.Outbox, logg, m); err != nil {
		return nil, fmt.Errorf("wallet service: %w", err)
	}
	if s.Reconciliation, err = reconciliation.NewService(reconciliation.ServiceParams{
		Repo:    reconciliation.NewRepository(gormDB),
		DB:      client,
		Ledger:  s.Ledger,
		Wallets: s.Wallets,
		Outbox:  s.Outbox,
		Logger:  logg,
		Metrics: m,
	}); err != nil {
		return nil, fmt.Errorf("reconciliation service: %w", err)
	}
	if s.Refunds, err = refunds.NewService(refunds.ServiceParams{
		Repo:        refunds.NewRepository(gormDB),
		DB:          client,
		Ledger:      s.Ledger,
		Commissions: s.Commissions,
		Wallets:     s.Wallets,
		Flags:       s.Reconciliation,
		Outbox:      s.Outbox,
		Logger:      logg,
	}); err != nil {
		return nil, fmt.Errorf("refund service: %w", err)
	}
	if s.Orders, err = orders.NewService(orders.NewRepository(gormDB), client, s.Commissions, s.Ledger, s.Refunds, s.Outbox, logg); err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}
	if s.Payouts, err = payouts.NewService(payouts.ServiceParams{
		Repo:        payouts.NewRepository(gormDB),
		DB:          client,
		Commissions: s.Commissions,
		Ledger:      s.Ledger,
		Flags:       s.Reconciliation,
		Outbox:      s.Outbox,
		Logger:      logg,
		Metrics:     m,
		Minimum:     cfg.MinimumPayout(),
	}); err != nil {
		return nil, fmt.Errorf("payout service: %w", err)
	}
	if s.Shops, err = shops.NewService(shops.NewRepository(gormDB), cfg.DefaultCurrency, logg); err != nil {
		return nil, fmt.Errorf("shop service: %w", err)
	}
	if s.Invoices, err = invoices.NewService(invoices.ServiceParams{
		Repo:    invoices.NewRepository(gormDB),
		DB:      client,
		Outbox:  s.Outbox,
		Logger:  logg,
		TaxRate: cfg.TaxRate(),
		DueIn:   cfg.InvoiceDueIn,
	}); err != nil {
		return nil, fmt.Errorf("invoice service: %w", err)
	}
	if s.Reporting, err = reporting.NewService(reporting.NewRepository(gormDB), logg); err != nil {
		return nil, fmt.Errorf("reporting service: %w", err)
	}
	return s, nil
}
