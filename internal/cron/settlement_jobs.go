package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/settlement-ledger/pkg/logger"
)

type commissionClearer interface {
	ClearEligible(ctx context.Context, deliveredBefore time.Time) (int, error)
}

type payoutBatcher interface {
	BatchAll(ctx context.Context, asOf time.Time) (int, error)
}

type payoutDispatcher interface {
	DispatchPending(ctx context.Context, requestedBefore time.Time) (int, error)
}

type invoiceAger interface {
	MarkOverdue(ctx context.Context, asOf time.Time) (int, error)
}

// CommissionClearingJobParams configure the return-window clearing job.
type CommissionClearingJobParams struct {
	Logger       *logger.Logger
	Commissions  commissionClearer
	ReturnWindow time.Duration
}

// NewCommissionClearingJob clears pending commissions whose order was
// delivered longer ago than the return window.
func NewCommissionClearingJob(params CommissionClearingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Commissions == nil {
		return nil, fmt.Errorf("commission service required")
	}
	if params.ReturnWindow < 0 {
		return nil, fmt.Errorf("return window must not be negative")
	}
	return &commissionClearingJob{
		logg:   params.Logger,
		svc:    params.Commissions,
		window: params.ReturnWindow,
		now:    time.Now,
	}, nil
}

type commissionClearingJob struct {
	logg   *logger.Logger
	svc    commissionClearer
	window time.Duration
	now    func() time.Time
}

func (j *commissionClearingJob) Name() string { return "commission-clearing" }

func (j *commissionClearingJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.window)
	cleared, err := j.svc.ClearEligible(ctx, cutoff)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"delivered_before": cutoff,
		"cleared":          cleared,
	})
	if err != nil {
		// partial progress is kept; the failed rows are retried next cycle
		j.logg.Warn(logCtx, "commission clearing incomplete")
		return fmt.Errorf("clear commissions: %w", err)
	}
	j.logg.Info(logCtx, "commission clearing complete")
	return nil
}

// PayoutBatchingJobParams configure the payout batching job.
type PayoutBatchingJobParams struct {
	Logger  *logger.Logger
	Payouts payoutBatcher
}

// NewPayoutBatchingJob creates payouts for every shop with cleared commissions.
func NewPayoutBatchingJob(params PayoutBatchingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout service required")
	}
	return &payoutBatchingJob{logg: params.Logger, svc: params.Payouts, now: time.Now}, nil
}

type payoutBatchingJob struct {
	logg *logger.Logger
	svc  payoutBatcher
	now  func() time.Time
}

func (j *payoutBatchingJob) Name() string { return "payout-batching" }

func (j *payoutBatchingJob) Run(ctx context.Context) error {
	asOf := j.now().UTC()
	created, err := j.svc.BatchAll(ctx, asOf)
	if err != nil {
		return fmt.Errorf("batch payouts: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{"as_of": asOf, "payouts_created": created}), "payout batching complete")
	return nil
}

// PayoutDispatchJobParams configure the job that hands pending payouts to
// the gateway.
type PayoutDispatchJobParams struct {
	Logger  *logger.Logger
	Payouts payoutDispatcher
}

// NewPayoutDispatchJob moves pending payouts to processing and requests them
// from the gateway.
func NewPayoutDispatchJob(params PayoutDispatchJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout service required")
	}
	return &payoutDispatchJob{logg: params.Logger, svc: params.Payouts, now: time.Now}, nil
}

type payoutDispatchJob struct {
	logg *logger.Logger
	svc  payoutDispatcher
	now  func() time.Time
}

func (j *payoutDispatchJob) Name() string { return "payout-dispatch" }

func (j *payoutDispatchJob) Run(ctx context.Context) error {
	before := j.now().UTC()
	dispatched, err := j.svc.DispatchPending(ctx, before)
	if err != nil {
		return fmt.Errorf("dispatch payouts: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "payouts_dispatched", dispatched), "payout dispatch complete")
	return nil
}

// InvoiceOverdueJobParams configure the invoice aging job.
type InvoiceOverdueJobParams struct {
	Logger   *logger.Logger
	Invoices invoiceAger
}

// NewInvoiceOverdueJob marks sent invoices past their due date overdue.
func NewInvoiceOverdueJob(params InvoiceOverdueJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice service required")
	}
	return &invoiceOverdueJob{logg: params.Logger, svc: params.Invoices, now: time.Now}, nil
}

type invoiceOverdueJob struct {
	logg *logger.Logger
	svc  invoiceAger
	now  func() time.Time
}

func (j *invoiceOverdueJob) Name() string { return "invoice-overdue" }

func (j *invoiceOverdueJob) Run(ctx context.Context) error {
	asOf := j.now().UTC()
	marked, err := j.svc.MarkOverdue(ctx, asOf)
	if err != nil {
		return fmt.Errorf("mark invoices overdue: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{"as_of": asOf, "invoices_overdue": marked}), "invoice aging complete")
	return nil
}
