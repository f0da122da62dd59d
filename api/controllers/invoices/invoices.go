package invoices

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-ledger/api/controllers/views"
	"github.com/angelmondragon/settlement-ledger/api/responses"
	"github.com/angelmondragon/settlement-ledger/api/validators"
	internalinvoices "github.com/angelmondragon/settlement-ledger/internal/invoices"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
)

type generateRequest struct {
	PeriodStart time.Time `json:"period_start" validate:"required"`
	PeriodEnd   time.Time `json:"period_end" validate:"required"`
	Currency    string    `json:"currency" validate:"omitempty,len=3"`
}

// Generate bills a shop for one period. An existing live invoice for the
// period is returned with 200 instead of 201.
func Generate(svc internalinvoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID, err := validators.ParsePathUUID(r, "shopId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req generateRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoice, created, err := svc.Generate(r.Context(), internalinvoices.GenerateInput{
			ShopID:      shopID,
			PeriodStart: req.PeriodStart,
			PeriodEnd:   req.PeriodEnd,
			Currency:    req.Currency,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, views.FromInvoice(invoice))
	}
}

func ListByShop(svc internalinvoices.Service, logg *logger.Logger) http.HandlerFunc {
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
		var status *enums.InvoiceStatus
		if raw := validators.ParseQueryString(r, "status"); raw != nil {
			parsed, err := enums.ParseInvoiceStatus(*raw)
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
		responses.WriteSuccess(w, views.NewPage(views.FromInvoices(rows), total, page))
	}
}

func Get(svc internalinvoices.Service, logg *logger.Logger) http.HandlerFunc {
	return byID(logg, svc.Get)
}

// Send issues a draft invoice and sets its due date.
func Send(svc internalinvoices.Service, logg *logger.Logger) http.HandlerFunc {
	return byID(logg, svc.Send)
}

func MarkPaid(svc internalinvoices.Service, logg *logger.Logger) http.HandlerFunc {
	return byID(logg, svc.MarkPaid)
}

func Void(svc internalinvoices.Service, logg *logger.Logger) http.HandlerFunc {
	return byID(logg, svc.Void)
}

func byID(logg *logger.Logger, apply func(ctx context.Context, id uuid.UUID) (*models.Invoice, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoiceID, err := validators.ParsePathUUID(r, "invoiceId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoice, err := apply(r.Context(), invoiceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views.FromInvoice(invoice))
	}
}
