package outbox

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
)

func parkEvent(t *testing.T, repo *DLQRepository, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, msg string) {
	t.Helper()
	err := repo.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&event).Error; err != nil {
			return err
		}
		if err := tx.Model(&event).Update("attempt_count", 10).Error; err != nil {
			return err
		}
		return repo.InsertTx(tx, models.OutboxDLQ{
			EventID:       event.ID,
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			Payload:       event.Payload,
			ErrorReason:   reason,
			ErrorMessage:  &msg,
			AttemptCount:  10,
		})
	})
	require.NoError(t, err)
}

func payoutEvent() models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPayoutRequested,
		AggregateType: enums.AggregatePayout,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"data":{"amount":"12.00"}}`),
	}
}

func TestDLQRequeueResetsParkedEvent(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	repo := NewDLQRepository(client.DB())
	event := payoutEvent()
	parkEvent(t, repo, event, enums.OutboxDLQReasonMaxAttempts, "pubsub unavailable")

	listed, err := repo.List(ctx, enums.EventPayoutRequested, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, event.ID, listed[0].EventID)

	others, err := repo.List(ctx, enums.EventPayoutCompleted, 0)
	require.NoError(t, err)
	assert.Empty(t, others)

	require.NoError(t, repo.Requeue(ctx, event.ID))

	var reset models.OutboxEvent
	require.NoError(t, client.DB().First(&reset, "id = ?", event.ID).Error)
	assert.Zero(t, reset.AttemptCount)
	assert.Nil(t, reset.LastError)
	assert.Nil(t, reset.PublishedAt)

	listed, err = repo.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestDLQRequeueRebuildsMissingEvent(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	repo := NewDLQRepository(client.DB())
	event := payoutEvent()
	parkEvent(t, repo, event, enums.OutboxDLQReasonNonRetryable, "decode payload")
	require.NoError(t, client.DB().Delete(&models.OutboxEvent{}, "id = ?", event.ID).Error)

	require.NoError(t, repo.Requeue(ctx, event.ID))

	var rebuilt models.OutboxEvent
	require.NoError(t, client.DB().First(&rebuilt, "id = ?", event.ID).Error)
	assert.Equal(t, event.EventType, rebuilt.EventType)
	assert.JSONEq(t, string(event.Payload), string(rebuilt.Payload))
}

func TestDLQRequeueUnknownEvent(t *testing.T) {
	repo := NewDLQRepository(dbtest.Open(t).DB())
	err := repo.Requeue(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestDLQInsertTruncatesLongErrors(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewDLQRepository(client.DB())
	event := payoutEvent()
	parkEvent(t, repo, event, enums.OutboxDLQReasonMaxAttempts, strings.Repeat("é", maxDLQErrorLen))

	rows, err := repo.List(context.Background(), "", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].ErrorMessage)
	assert.LessOrEqual(t, len(*rows[0].ErrorMessage), maxDLQErrorLen)
	assert.True(t, strings.HasSuffix(*rows[0].ErrorMessage, "é"))
}
