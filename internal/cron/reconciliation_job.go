package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/settlement-ledger/internal/reconciliation"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
)

const defaultReconcileLookback = 48 * time.Hour

type recentReconciler interface {
	ReconcileRecent(ctx context.Context, since time.Time) (reconciliation.Summary, error)
}

// ReconciliationJobParams configure the periodic integrity sweep.
type ReconciliationJobParams struct {
	Logger     *logger.Logger
	Reconciler recentReconciler
	Lookback   time.Duration
}

// NewReconciliationJob checks orders, payouts, shops and wallets touched
// within the lookback window.
func NewReconciliationJob(params ReconciliationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciliation service required")
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	return &reconciliationJob{logg: params.Logger, svc: params.Reconciler, lookback: lookback, now: time.Now}, nil
}

type reconciliationJob struct {
	logg     *logger.Logger
	svc      recentReconciler
	lookback time.Duration
	now      func() time.Time
}

func (j *reconciliationJob) Name() string { return "reconciliation" }

func (j *reconciliationJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.lookback)
	summary, err := j.svc.ReconcileRecent(ctx, since)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"since":   since,
		"orders":  summary.Orders,
		"payouts": summary.Payouts,
		"shops":   summary.Shops,
		"wallets": summary.Wallets,
		"flagged": summary.Flagged,
	})
	if summary.Flagged > 0 {
		j.logg.Warn(logCtx, "reconciliation raised integrity flags")
	}
	if err != nil {
		return fmt.Errorf("reconcile recent: %w", err)
	}
	j.logg.Info(logCtx, "reconciliation complete")
	return nil
}
