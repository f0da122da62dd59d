package commissions

import (
	"net/http"

	"github.com/angelmondragon/settlement-ledger/api/controllers/views"
	"github.com/angelmondragon/settlement-ledger/api/responses"
	"github.com/angelmondragon/settlement-ledger/api/validators"
	internalcommissions "github.com/angelmondragon/settlement-ledger/internal/commissions"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
)

// Clear releases a pending commission ahead of the clearing job.
func Clear(svc internalcommissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		commission, err := svc.Clear(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views.FromCommission(commission))
	}
}

// ListByShop pages a shop's commissions, optionally by status.
func ListByShop(svc internalcommissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID, err := validators.ParsePathUUID(r, "shopId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var status *enums.CommissionStatus
		if raw := validators.ParseQueryString(r, "status"); raw != nil {
			parsed, err := enums.ParseCommissionStatus(*raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			status = &parsed
		}

		rows, total, err := svc.ListByShop(r.Context(), shopID, status, page)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views.NewPage(views.FromCommissions(rows), total, page))
	}
}
