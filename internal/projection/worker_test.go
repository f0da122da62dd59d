package projection

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox"
)

type stubManager struct {
	already bool
	err     error
	deleted int
}

func (s *stubManager) Claim(context.Context, string, uuid.UUID) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return !s.already, nil
}

func (s *stubManager) Release(context.Context, string, uuid.UUID) error {
	s.deleted++
	return nil
}

type stubHandler struct {
	calls []Envelope
	err   error
}

func (s *stubHandler) Handle(_ context.Context, envelope Envelope) error {
	s.calls = append(s.calls, envelope)
	return s.err
}

func settlementMessage(t *testing.T, eventID string) *gcppubsub.Message {
	t.Helper()
	body, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Data:       json.RawMessage(`{"payout_id":"x"}`),
	})
	require.NoError(t, err)
	return &gcppubsub.Message{
		ID:   "msg-1",
		Data: body,
		Attributes: map[string]string{
			"event_type":     string(enums.EventPayoutCompleted),
			"aggregate_type": string(enums.AggregatePayout),
			"aggregate_id":   uuid.NewString(),
		},
	}
}

func newTestWorker(handler Handler, claims claimGuard) *Worker {
	return &Worker{handler: handler, claims: claims, logg: logger.New(logger.Options{ServiceName: "test"})}
}

func TestBuildEnvelope(t *testing.T) {
	eventID := uuid.NewString()
	env, err := buildEnvelope(settlementMessage(t, eventID))
	require.NoError(t, err)
	assert.Equal(t, eventID, env.EventID)
	assert.Equal(t, enums.EventPayoutCompleted, env.EventType)
	assert.Equal(t, enums.AggregatePayout, env.AggregateType)
	assert.Equal(t, 1, env.Version)
	assert.JSONEq(t, `{"payout_id":"x"}`, string(env.Payload))

	msg := settlementMessage(t, eventID)
	msg.Attributes["event_type"] = "order.created"
	_, err = buildEnvelope(msg)
	assert.Error(t, err)
}

func TestProcess(t *testing.T) {
	t.Run("handled", func(t *testing.T) {
		handler := &stubHandler{}
		nack := newTestWorker(handler, &stubManager{}).process(context.Background(), settlementMessage(t, uuid.NewString()))
		assert.False(t, nack)
		assert.Len(t, handler.calls, 1)
	})
	t.Run("duplicate", func(t *testing.T) {
		handler := &stubHandler{}
		nack := newTestWorker(handler, &stubManager{already: true}).process(context.Background(), settlementMessage(t, uuid.NewString()))
		assert.False(t, nack)
		assert.Empty(t, handler.calls)
	})
	t.Run("handler failure releases the key", func(t *testing.T) {
		manager := &stubManager{}
		nack := newTestWorker(&stubHandler{err: errors.New("boom")}, manager).process(context.Background(), settlementMessage(t, uuid.NewString()))
		assert.True(t, nack)
		assert.Equal(t, 1, manager.deleted)
	})
	t.Run("redis failure", func(t *testing.T) {
		nack := newTestWorker(&stubHandler{}, &stubManager{err: errors.New("redis down")}).process(context.Background(), settlementMessage(t, uuid.NewString()))
		assert.True(t, nack)
	})
	t.Run("poison message", func(t *testing.T) {
		handler := &stubHandler{}
		nack := newTestWorker(handler, &stubManager{}).process(context.Background(), settlementMessage(t, "not-a-uuid"))
		assert.False(t, nack)
		assert.Empty(t, handler.calls)
	})
}
