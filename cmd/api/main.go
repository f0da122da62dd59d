package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/settlement-ledger/api/routes"
	"github.com/angelmondragon/settlement-ledger/internal/app"
	"github.com/angelmondragon/settlement-ledger/internal/bootstrap"
	"github.com/angelmondragon/settlement-ledger/pkg/auth"
	"github.com/angelmondragon/settlement-ledger/pkg/metrics"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox"
)

const shutdownTimeout = 20 * time.Second

func main() {
	proc := bootstrap.Start("api")
	defer proc.Close()
	cfg, logg := proc.Cfg, proc.Logg
	ctx := context.Background()

	dbClient := proc.Database(ctx)
	redisClient := proc.Redis(ctx)

	signer, err := auth.NewSigner(cfg.JWT)
	proc.Must("jwt signer", err)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	services, err := app.Build(cfg.Settlement, dbClient, logg, metrics.NewLedgerMetrics(registry))
	proc.Must("settlement services", err)

	addr := ":" + listenPort(cfg.App.Port)
	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Deps{
			DB:          dbClient,
			Redis:       redisClient,
			Idempotency: redisClient,
			Tokens:      signer,
			Metrics:     registry,
		}, routes.Services{
			Orders:         services.Orders,
			Refunds:        services.Refunds,
			Ledger:         services.Ledger,
			Commissions:    services.Commissions,
			Payouts:        services.Payouts,
			Wallets:        services.Wallets,
			Shops:          services.Shops,
			Invoices:       services.Invoices,
			Reconciliation: services.Reconciliation,
			Reporting:      services.Reporting,
			DeadLetters:    outbox.NewDLQRepository(dbClient.DB()),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := proc.RunContext()
	defer stop()
	runCtx = logg.WithField(runCtx, "addr", addr)
	go func() {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}()

	logg.Info(runCtx, "starting api server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		proc.Must("api server", err)
	}
	logg.Info(runCtx, "api server shut down gracefully")
}

// listenPort prefers the platform-injected PORT over the configured one.
func listenPort(configured string) string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return configured
}
