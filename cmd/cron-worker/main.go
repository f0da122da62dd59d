package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/settlement-ledger/internal/app"
	"github.com/angelmondragon/settlement-ledger/internal/bootstrap"
	"github.com/angelmondragon/settlement-ledger/internal/cron"
	"github.com/angelmondragon/settlement-ledger/pkg/config"
	"github.com/angelmondragon/settlement-ledger/pkg/metrics"
	"github.com/angelmondragon/settlement-ledger/pkg/square"
)

func main() {
	proc := bootstrap.Start("cron-worker")
	defer proc.Close()
	cfg, logg := proc.Cfg, proc.Logg
	ctx := context.Background()

	dbClient := proc.Database(ctx)
	redisClient := proc.Redis(ctx)

	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)
	services, err := app.Build(cfg.Settlement, dbClient, logg, ledgerMetrics)
	proc.Must("settlement services", err)

	var gateway *square.Client
	if cfg.FeatureFlags.PaymentSync {
		gateway, err = square.NewClient(ctx, cfg.Square, logg)
		proc.Must("square client", err)
	}

	registry, err := buildRegistry(cfg, services, gateway, ledgerMetrics, logg)
	proc.Must("cron jobs", err)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg)), cfg.Cron.LockTTL)
	proc.Must("cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	proc.Must("cron service", err)

	runCtx, stop := proc.RunContext()
	defer stop()
	runCtx = logg.WithField(runCtx, "jobs", len(registry.Jobs()))
	logg.Info(runCtx, "starting cron worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Must("cron loop", err)
	}
	logg.Info(runCtx, "cron worker shutting down gracefully")
}

// lockName scopes the leader lock per environment so staging and prod never
// contend.
func lockName(cfg *config.Config) string {
	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("%s:%s", cfg.Cron.LockKey, env)
}
