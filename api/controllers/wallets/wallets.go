package wallets

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/settlement-ledger/api/controllers/views"
	"github.com/angelmondragon/settlement-ledger/api/middleware"
	"github.com/angelmondragon/settlement-ledger/api/responses"
	"github.com/angelmondragon/settlement-ledger/api/validators"
	"github.com/angelmondragon/settlement-ledger/internal/wallet"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/money"
)

type entryRequest struct {
	Type        string  `json:"type" validate:"required"`
	Amount      string  `json:"amount" validate:"required,positive_decimal"`
	Currency    string  `json:"currency" validate:"required,currency"`
	Description string  `json:"description" validate:"omitempty,max=255"`
	OrderID     *string `json:"order_id" validate:"omitempty,uuid"`
}

// ApplyEntry appends one entry to a user's wallet log.
func ApplyEntry(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := validators.ParsePathUUID(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req entryRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entryType, err := enums.ParseWalletEntryType(strings.TrimSpace(req.Type))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid type"))
			return
		}
		amount, err := money.Parse(req.Amount, req.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseOptionalUUID(req.OrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entry, err := svc.ApplyWalletEntry(r.Context(), wallet.ApplyInput{
			UserID:         userID,
			Type:           entryType,
			Amount:         amount,
			IdempotencyKey: strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader)),
			Description:    validators.SanitizeString(req.Description, 255),
			OrderID:        orderID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, views.FromWalletEntry(entry))
	}
}

// Get returns the wallet balance with one page of its history.
func Get(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := validators.ParsePathUUID(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, total, err := svc.History(r.Context(), userID, page)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views.FromWallet(balance, views.NewPage(views.FromWalletEntries(rows), total, page)))
	}
}
