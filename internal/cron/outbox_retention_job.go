package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/metrics"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	retentionDeleteBatch   = 1000
)

// OutboxRetentionJobParams configure the outbox maintenance job.
type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository outboxRetentionRepo
	Metrics    *metrics.LedgerMetrics
	Retention  time.Duration
	// BacklogWarn logs a warning once unpublished rows reach it. Zero
	// disables the warning.
	BacklogWarn int64
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error)
	PendingCount(ctx context.Context) (int64, error)
}

// NewOutboxRetentionJob trims published outbox rows past the retention window
// and samples the unpublished backlog.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{OutboxRetentionJobParams: params, now: time.Now}
	if job.Retention <= 0 {
		job.Retention = defaultOutboxRetention
	}
	return job, nil
}

type outboxRetentionJob struct {
	OutboxRetentionJobParams
	now func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.Retention)
	deleted, err := j.Repository.DeletePublishedBefore(ctx, cutoff, retentionDeleteBatch)
	logCtx := j.Logger.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}

	pending, err := j.Repository.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("outbox backlog: %w", err)
	}
	j.Metrics.OutboxBacklog(pending)
	logCtx = j.Logger.WithField(logCtx, "outbox_backlog", pending)
	if j.BacklogWarn > 0 && pending >= j.BacklogWarn {
		j.Logger.Warn(logCtx, "outbox backlog above threshold")
	}
	j.Logger.Info(logCtx, "outbox retention cleanup complete")
	return nil
}
