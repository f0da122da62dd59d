package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/settlement-ledger/api/controllers"
	commissioncontrollers "github.com/angelmondragon/settlement-ledger/api/controllers/commissions"
	"github.com/angelmondragon/settlement-ledger/api/controllers/deadletters"
	integritycontrollers "github.com/angelmondragon/settlement-ledger/api/controllers/integrity"
	invoicecontrollers "github.com/angelmondragon/settlement-ledger/api/controllers/invoices"
	ordercontrollers "github.com/angelmondragon/settlement-ledger/api/controllers/orders"
	payoutcontrollers "github.com/angelmondragon/settlement-ledger/api/controllers/payouts"
	reportcontrollers "github.com/angelmondragon/settlement-ledger/api/controllers/reports"
	shopcontrollers "github.com/angelmondragon/settlement-ledger/api/controllers/shops"
	transactioncontrollers "github.com/angelmondragon/settlement-ledger/api/controllers/transactions"
	walletcontrollers "github.com/angelmondragon/settlement-ledger/api/controllers/wallets"
	"github.com/angelmondragon/settlement-ledger/api/middleware"
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
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	pkgredis "github.com/angelmondragon/settlement-ledger/pkg/redis"
)

// Services are the domain services exposed over HTTP.
type Services struct {
	Orders         orders.Service
	Refunds        refunds.Service
	Ledger         ledger.Service
	Commissions    commissions.Service
	Payouts        payouts.Service
	Wallets        wallet.Service
	Shops          shops.Service
	Invoices       invoices.Service
	Reconciliation reconciliation.Service
	Reporting      reporting.Service
	DeadLetters    deadletters.Store
}

// Deps are the infrastructure handles the router needs besides services.
type Deps struct {
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency pkgredis.IdempotencyStore
	Tokens      middleware.TokenVerifier
	Metrics     prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps, svc Services) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}, logg))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	service := middleware.RequireRole(logg, enums.ActorRoleService)
	admin := middleware.RequireRole(logg, enums.ActorRoleAdmin)
	serviceOrAdmin := middleware.RequireRole(logg, enums.ActorRoleService, enums.ActorRoleAdmin)
	readers := middleware.RequireRole(logg, enums.ActorRoleAdmin, enums.ActorRoleReporting)
	anyRole := middleware.RequireRole(logg, enums.ActorRoleService, enums.ActorRoleAdmin, enums.ActorRoleReporting)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Tokens, logg))

		idem := middleware.Idempotency(deps.Idempotency, middleware.IdempotencyOptions{TTL: cfg.Eventing.HTTPIdempotencyTTL}, logg)
		idemRequired := middleware.Idempotency(deps.Idempotency, middleware.IdempotencyOptions{TTL: cfg.Eventing.HTTPIdempotencyTTL, Required: true}, logg)

		r.Route("/orders", func(r chi.Router) {
			r.With(service, idemRequired).Post("/", ordercontrollers.Create(svc.Orders, logg))
			r.With(readers).Get("/", ordercontrollers.List(svc.Orders, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.With(anyRole).Get("/", ordercontrollers.Get(svc.Orders, logg))
				r.With(anyRole).Get("/history", ordercontrollers.History(svc.Orders, logg))
				r.With(serviceOrAdmin, idem).Post("/status", ordercontrollers.Transition(svc.Orders, logg))
				r.With(serviceOrAdmin, idemRequired).Post("/refunds", ordercontrollers.IssueRefund(svc.Refunds, logg))
				r.With(service, idemRequired).Post("/payments", ordercontrollers.RecordPayment(svc.Orders, logg))
				r.With(readers).Get("/transactions", ordercontrollers.Transactions(svc.Reporting, logg))
			})
		})

		r.Route("/transactions", func(r chi.Router) {
			r.With(readers).Get("/", transactioncontrollers.List(svc.Ledger, logg))
			r.With(admin, idem).Post("/{id}/complete", transactioncontrollers.Complete(svc.Ledger, logg))
			r.With(admin, idem).Post("/{id}/fail", transactioncontrollers.Fail(svc.Ledger, logg))
		})

		r.With(admin, idem).Post("/commissions/{id}/clear", commissioncontrollers.Clear(svc.Commissions, logg))

		r.Route("/shops", func(r chi.Router) {
			r.With(readers).Get("/", shopcontrollers.List(svc.Shops, logg))
			r.Route("/{shopId}", func(r chi.Router) {
				r.With(readers).Get("/", shopcontrollers.Get(svc.Shops, logg))
				r.With(admin, idem).Put("/", shopcontrollers.Upsert(svc.Shops, logg))
				r.With(admin, idem).Put("/categories/{categoryId}/rate", shopcontrollers.SetCategoryRate(svc.Shops, logg))
				r.With(admin).Delete("/categories/{categoryId}/rate", shopcontrollers.RemoveCategoryRate(svc.Shops, logg))
				r.With(readers).Get("/balance", shopcontrollers.Balance(svc.Reporting, logg))
				r.With(readers).Get("/commissions", commissioncontrollers.ListByShop(svc.Commissions, logg))
				r.With(admin, idemRequired).Post("/payouts", payoutcontrollers.Create(svc.Payouts, logg))
				r.With(readers).Get("/payouts", payoutcontrollers.ListByShop(svc.Payouts, logg))
				r.With(admin, idem).Post("/invoices", invoicecontrollers.Generate(svc.Invoices, logg))
				r.With(readers).Get("/invoices", invoicecontrollers.ListByShop(svc.Invoices, logg))
			})
		})

		r.Route("/invoices/{invoiceId}", func(r chi.Router) {
			r.With(readers).Get("/", invoicecontrollers.Get(svc.Invoices, logg))
			r.With(admin, idem).Post("/send", invoicecontrollers.Send(svc.Invoices, logg))
			r.With(admin, idem).Post("/pay", invoicecontrollers.MarkPaid(svc.Invoices, logg))
			r.With(admin, idem).Post("/void", invoicecontrollers.Void(svc.Invoices, logg))
		})

		r.Route("/reports", func(r chi.Router) {
			r.With(admin, idem).Post("/", reportcontrollers.Generate(svc.Reporting, logg))
			r.With(readers).Get("/", reportcontrollers.List(svc.Reporting, logg))
			r.With(readers).Get("/{reportId}", reportcontrollers.Get(svc.Reporting, logg))
		})

		r.Route("/payouts/{payoutId}", func(r chi.Router) {
			r.With(readers).Get("/", payoutcontrollers.Get(svc.Payouts, logg))
			r.With(admin, idem).Post("/dispatch", payoutcontrollers.Dispatch(svc.Payouts, logg))
			r.With(serviceOrAdmin, idem).Post("/complete", payoutcontrollers.Complete(svc.Payouts, logg))
			r.With(serviceOrAdmin, idem).Post("/fail", payoutcontrollers.Fail(svc.Payouts, logg))
		})

		r.Route("/wallets/{userId}", func(r chi.Router) {
			r.With(anyRole).Get("/", walletcontrollers.Get(svc.Wallets, logg))
			r.With(serviceOrAdmin, idemRequired).Post("/entries", walletcontrollers.ApplyEntry(svc.Wallets, logg))
		})

		r.Route("/integrity", func(r chi.Router) {
			r.Use(admin)
			r.Get("/flags", integritycontrollers.ListOpenFlags(svc.Reconciliation, logg))
			r.With(idem).Post("/flags/{flagId}/resolve", integritycontrollers.ResolveFlag(svc.Reconciliation, logg))
			r.With(idem).Post("/reconcile/orders/{orderId}", integritycontrollers.ReconcileOrder(svc.Reconciliation, logg))
		})

		if svc.DeadLetters != nil {
			r.Route("/outbox/dead-letters", func(r chi.Router) {
				r.Use(admin)
				r.Get("/", deadletters.List(svc.DeadLetters, logg))
				r.With(idem).Post("/{eventId}/requeue", deadletters.Requeue(svc.DeadLetters, logg))
			})
		}
	})

	return r
}
