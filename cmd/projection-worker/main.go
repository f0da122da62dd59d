package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/settlement-ledger/internal/bootstrap"
	"github.com/angelmondragon/settlement-ledger/internal/projection"
	"github.com/angelmondragon/settlement-ledger/pkg/bigquery"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox/idempotency"
)

func main() {
	proc := bootstrap.Start("projection-worker")
	defer proc.Close()
	cfg, logg := proc.Cfg, proc.Logg
	ctx := context.Background()

	redisClient := proc.Redis(ctx)
	pubsubClient := proc.PubSub(ctx)

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg, projection.SettlementTable(cfg.BigQuery.SettlementTable))
	proc.Must("bigquery client", err)
	proc.OnClose("bigquery", bqClient.Close)

	subscription := pubsubClient.SettlementSubscription()
	if subscription == nil {
		proc.Must("settlement subscription", errors.New("subscription not configured"))
	}

	guard, err := idempotency.NewGuard(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	proc.Must("idempotency guard", err)

	writer, err := projection.NewBigQueryWriter(bqClient, projection.WriterConfig{Table: cfg.BigQuery.SettlementTable})
	proc.Must("settlement bigquery writer", err)

	projector, err := projection.NewProjector(writer, cfg.BigQuery.ProjectionSource, logg)
	proc.Must("settlement projector", err)

	worker, err := projection.NewWorker(subscription, projector, guard, logg)
	proc.Must("projection worker", err)

	runCtx, stop := proc.RunContext()
	defer stop()
	runCtx = logg.WithField(runCtx, "table", cfg.BigQuery.SettlementTable)
	logg.Info(runCtx, "projection worker ready")

	if err := worker.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Must("projection loop", err)
	}
}
