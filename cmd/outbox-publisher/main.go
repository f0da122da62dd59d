package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/settlement-ledger/internal/bootstrap"
	"github.com/angelmondragon/settlement-ledger/pkg/metrics"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox/registry"
)

func main() {
	proc := bootstrap.Start("outbox-publisher")
	defer proc.Close()
	cfg, logg := proc.Cfg, proc.Logg
	ctx := context.Background()

	dbClient := proc.Database(ctx)
	pubsubClient := proc.PubSub(ctx)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	proc.Must("event registry", err)

	relay, err := NewRelay(RelayParams{
		Outbox:        cfg.Outbox,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewLedgerMetrics(prometheus.DefaultRegisterer),
	})
	proc.Must("outbox relay", err)

	runCtx, stop := proc.RunContext()
	defer stop()
	logg.Info(logg.WithField(runCtx, "topics", eventRegistry.Topics()), "starting outbox publisher")

	if err := relay.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Must("outbox relay loop", err)
	}
	logg.Info(runCtx, "outbox publisher shutting down gracefully")
}
