package main

import (
	"fmt"

	"github.com/angelmondragon/settlement-ledger/internal/app"
	"github.com/angelmondragon/settlement-ledger/internal/cron"
	"github.com/angelmondragon/settlement-ledger/pkg/config"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/metrics"
	"github.com/angelmondragon/settlement-ledger/pkg/square"
)

// buildRegistry registers the settlement jobs in run order. Payment sync is
// only added when a Square client is configured.
func buildRegistry(cfg *config.Config, services *app.Services, gateway *square.Client, m *metrics.LedgerMetrics, logg *logger.Logger) (*cron.Registry, error) {
	registry := cron.NewRegistry()
	var jobs []cron.Job

	clearing, err := cron.NewCommissionClearingJob(cron.CommissionClearingJobParams{
		Logger:       logg,
		Commissions:  services.Commissions,
		ReturnWindow: cfg.Settlement.ReturnWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("commission clearing job: %w", err)
	}
	jobs = append(jobs, clearing)

	batching, err := cron.NewPayoutBatchingJob(cron.PayoutBatchingJobParams{Logger: logg, Payouts: services.Payouts})
	if err != nil {
		return nil, fmt.Errorf("payout batching job: %w", err)
	}
	jobs = append(jobs, batching)

	dispatch, err := cron.NewPayoutDispatchJob(cron.PayoutDispatchJobParams{Logger: logg, Payouts: services.Payouts})
	if err != nil {
		return nil, fmt.Errorf("payout dispatch job: %w", err)
	}
	jobs = append(jobs, dispatch)

	overdue, err := cron.NewInvoiceOverdueJob(cron.InvoiceOverdueJobParams{Logger: logg, Invoices: services.Invoices})
	if err != nil {
		return nil, fmt.Errorf("invoice overdue job: %w", err)
	}
	jobs = append(jobs, overdue)

	if gateway != nil {
		sync, err := cron.NewPaymentSyncJob(cron.PaymentSyncJobParams{
			Logger:  logg,
			Ledger:  services.Ledger,
			Gateway: gateway,
			Flags:   services.Reconciliation,
		})
		if err != nil {
			return nil, fmt.Errorf("payment sync job: %w", err)
		}
		jobs = append(jobs, sync)
	}

	reconcile, err := cron.NewReconciliationJob(cron.ReconciliationJobParams{
		Logger:     logg,
		Reconciler: services.Reconciliation,
		Lookback:   cfg.Cron.ReconcileLookback,
	})
	if err != nil {
		return nil, fmt.Errorf("reconciliation job: %w", err)
	}
	jobs = append(jobs, reconcile)

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		Repository:  services.OutboxRepo,
		Metrics:     m,
		Retention:   cfg.Outbox.Retention,
		BacklogWarn: cfg.Outbox.BacklogWarn,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	jobs = append(jobs, retention)

	for _, job := range jobs {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
