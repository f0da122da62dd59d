// Package deadletters lets operators inspect and requeue outbox events the
// publisher parked.
package deadletters

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-ledger/api/controllers/views"
	"github.com/angelmondragon/settlement-ledger/api/responses"
	"github.com/angelmondragon/settlement-ledger/api/validators"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/pagination"
)

type Store interface {
	List(ctx context.Context, eventType enums.OutboxEventType, limit int) ([]models.OutboxDLQ, error)
	Requeue(ctx context.Context, eventID uuid.UUID) error
}

func List(store Store, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var eventType enums.OutboxEventType
		if raw := validators.ParseQueryString(r, "event_type"); raw != nil {
			if eventType, err = enums.ParseOutboxEventType(*raw); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event_type"))
				return
			}
		}
		rows, err := store.List(r.Context(), eventType, pagination.NormalizeLimit(page.Limit))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views.FromDeadLetters(rows))
	}
}

func Requeue(store Store, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, err := validators.ParsePathUUID(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := store.Requeue(r.Context(), eventID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithField(r.Context(), "event_id", eventID.String()), "dead letter requeued")
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{"event_id": eventID, "requeued": true})
	}
}
