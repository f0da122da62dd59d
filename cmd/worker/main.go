package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/settlement-ledger/internal/app"
	"github.com/angelmondragon/settlement-ledger/internal/bootstrap"
	"github.com/angelmondragon/settlement-ledger/internal/gateway"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox/idempotency"
)

func main() {
	proc := bootstrap.Start("worker")
	defer proc.Close()
	cfg, logg := proc.Cfg, proc.Logg
	ctx := context.Background()

	dbClient := proc.Database(ctx)
	redisClient := proc.Redis(ctx)
	pubsubClient := proc.PubSub(ctx)

	services, err := app.Build(cfg.Settlement, dbClient, logg, nil)
	proc.Must("settlement services", err)

	guard, err := idempotency.NewGuard(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	proc.Must("idempotency guard", err)

	consumer, err := gateway.NewConsumer(services.Payouts, guard, services.Reconciliation, logg)
	proc.Must("payout result consumer", err)

	subscription := pubsubClient.PayoutResultSubscription()
	if subscription == nil {
		proc.Must("payout result subscription", errors.New("subscription not configured"))
	}

	service, err := NewService(ServiceParams{
		Logger:       logg,
		DB:           dbClient,
		Redis:        redisClient,
		PubSub:       pubsubClient,
		Consumer:     consumer,
		Subscription: subscription,
	})
	proc.Must("worker service", err)

	runCtx, stop := proc.RunContext()
	defer stop()
	logg.Info(runCtx, "starting worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Must("payout result loop", err)
	}
	logg.Info(runCtx, "worker shutting down gracefully")
}
