package integrity

import (
	"net/http"

	"github.com/angelmondragon/settlement-ledger/api/controllers/views"
	"github.com/angelmondragon/settlement-ledger/api/middleware"
	"github.com/angelmondragon/settlement-ledger/api/responses"
	"github.com/angelmondragon/settlement-ledger/api/validators"
	"github.com/angelmondragon/settlement-ledger/internal/reconciliation"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
)

// ListOpenFlags pages unresolved integrity flags, optionally for one
// entity type.
func ListOpenFlags(svc reconciliation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var entityType *enums.IntegrityEntityType
		if raw := validators.ParseQueryString(r, "entity_type"); raw != nil {
			parsed := enums.IntegrityEntityType(*raw)
			if !parsed.IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid entity_type"))
				return
			}
			entityType = &parsed
		}
		rows, total, err := svc.ListOpenFlags(r.Context(), entityType, page)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views.NewPage(views.FromFlags(rows), total, page))
	}
}

func ResolveFlag(svc reconciliation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flagID, err := validators.ParsePathUUID(r, "flagId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		flag, err := svc.ResolveFlag(r.Context(), flagID, middleware.ActorIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views.FromFlag(flag))
	}
}

// ReconcileOrder re-checks an order's collected total against its items.
func ReconcileOrder(svc reconciliation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.ReconcileOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views.FromReport(report))
	}
}
