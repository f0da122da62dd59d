package gateway

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

	"github.com/angelmondragon/settlement-ledger/internal/reconciliation"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-ledger/pkg/errors"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox/payloads"
)

type settleCall struct {
	id     uuid.UUID
	key    string
	detail string
}

type fakeSettler struct {
	completed []settleCall
	failed    []settleCall
	err       error
}

func (f *fakeSettler) MarkCompleted(_ context.Context, id uuid.UUID, key, reference string) (*models.Payout, error) {
	f.completed = append(f.completed, settleCall{id: id, key: key, detail: reference})
	return &models.Payout{ID: id}, f.err
}

func (f *fakeSettler) MarkFailed(_ context.Context, id uuid.UUID, key, reason string) (*models.Payout, error) {
	f.failed = append(f.failed, settleCall{id: id, key: key, detail: reason})
	return &models.Payout{ID: id}, f.err
}

type fakeManager struct {
	seen    map[uuid.UUID]bool
	err     error
	deleted int
}

func (f *fakeManager) Claim(_ context.Context, _ string, id uuid.UUID) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[uuid.UUID]bool{}
	}
	if f.seen[id] {
		return false, nil
	}
	f.seen[id] = true
	return true, nil
}

func (f *fakeManager) Release(_ context.Context, _ string, id uuid.UUID) error {
	f.deleted++
	delete(f.seen, id)
	return nil
}

type fakeFlags struct {
	raised []reconciliation.FlagInput
	err    error
}

func (f *fakeFlags) Raise(_ context.Context, input reconciliation.FlagInput) (*models.IntegrityFlag, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.raised = append(f.raised, input)
	return &models.IntegrityFlag{EntityType: input.EntityType, EntityID: input.EntityID, Kind: input.Kind}, nil
}

func newTestConsumer(t *testing.T, settler *fakeSettler, manager *fakeManager) *Consumer {
	t.Helper()
	return newFlaggingConsumer(t, settler, manager, &fakeFlags{})
}

func newFlaggingConsumer(t *testing.T, settler *fakeSettler, manager *fakeManager, flags *fakeFlags) *Consumer {
	t.Helper()
	c, err := NewConsumer(settler, manager, flags, logger.New(logger.Options{ServiceName: "test"}))
	require.NoError(t, err)
	return c
}

func enveloped(t *testing.T, eventID string, result payloads.PayoutResultEvent) *gcppubsub.Message {
	t.Helper()
	data, err := json.Marshal(result)
	require.NoError(t, err)
	body, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Data:       data,
	})
	require.NoError(t, err)
	return &gcppubsub.Message{ID: "msg-1", Data: body}
}

func TestNewConsumerRequiresDependencies(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test"})
	_, err := NewConsumer(nil, &fakeManager{}, &fakeFlags{}, logg)
	assert.Error(t, err)
	_, err = NewConsumer(&fakeSettler{}, nil, &fakeFlags{}, logg)
	assert.Error(t, err)
	_, err = NewConsumer(&fakeSettler{}, &fakeManager{}, nil, logg)
	assert.Error(t, err)
	_, err = NewConsumer(&fakeSettler{}, &fakeManager{}, &fakeFlags{}, nil)
	assert.Error(t, err)
}

func TestProcessSuccess(t *testing.T) {
	settler := &fakeSettler{}
	manager := &fakeManager{}
	c := newTestConsumer(t, settler, manager)
	payoutID := uuid.New()
	msg := enveloped(t, uuid.NewString(), payloads.PayoutResultEvent{
		PayoutID: payoutID, IdempotencyKey: "payout:1:attempt:1", Success: true, Reference: "tr_123",
	})

	assert.False(t, c.Process(context.Background(), msg))
	require.Len(t, settler.completed, 1)
	assert.Equal(t, settleCall{id: payoutID, key: "payout:1:attempt:1", detail: "tr_123"}, settler.completed[0])

	// redelivery is a no-op
	assert.False(t, c.Process(context.Background(), msg))
	assert.Len(t, settler.completed, 1)
}

func TestProcessFailureDefaultsReason(t *testing.T) {
	settler := &fakeSettler{}
	c := newTestConsumer(t, settler, &fakeManager{})
	body, err := json.Marshal(payloads.PayoutResultEvent{PayoutID: uuid.New(), IdempotencyKey: "k", Success: false})
	require.NoError(t, err)
	msg := &gcppubsub.Message{ID: "gateway-42", Data: body}

	assert.False(t, c.Process(context.Background(), msg))
	require.Len(t, settler.failed, 1)
	assert.Equal(t, "gateway reported failure", settler.failed[0].detail)
}

func TestProcessErrorClassification(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		nack    bool
		deleted int
	}{
		{"attempt mismatch", pkgerrors.Conflict(pkgerrors.ReasonAttemptMismatch, "stale attempt"), false, 0},
		{"not found", pkgerrors.New(pkgerrors.CodeNotFound, "payout not found"), false, 0},
		{"validation", pkgerrors.New(pkgerrors.CodeValidation, "bad reference"), false, 0},
		{"dependency", pkgerrors.New(pkgerrors.CodeDependency, "db down"), true, 1},
		{"untyped", errors.New("boom"), true, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			manager := &fakeManager{}
			flags := &fakeFlags{}
			c := newFlaggingConsumer(t, &fakeSettler{err: tc.err}, manager, flags)
			msg := enveloped(t, uuid.NewString(), payloads.PayoutResultEvent{PayoutID: uuid.New(), IdempotencyKey: "k", Success: false})
			assert.Equal(t, tc.nack, c.Process(context.Background(), msg))
			assert.Equal(t, tc.deleted, manager.deleted)
			assert.Empty(t, flags.raised)
		})
	}
}

func TestProcessRejectedSuccessIsFlagged(t *testing.T) {
	payoutID := uuid.New()
	eventID := uuid.New()
	flags := &fakeFlags{}
	manager := &fakeManager{}
	settler := &fakeSettler{err: pkgerrors.Conflict(pkgerrors.ReasonAlreadyTerminal, "payout already failed")}
	c := newFlaggingConsumer(t, settler, manager, flags)
	msg := enveloped(t, eventID.String(), payloads.PayoutResultEvent{
		PayoutID: payoutID, IdempotencyKey: "payout:1:attempt:2", Success: true, Reference: "tr_late",
	})

	assert.False(t, c.Process(context.Background(), msg))
	require.Len(t, flags.raised, 1)
	flag := flags.raised[0]
	assert.Equal(t, enums.IntegrityEntityPayout, flag.EntityType)
	assert.Equal(t, payoutID, flag.EntityID)
	assert.Equal(t, enums.IntegrityGatewayResultRejected, flag.Kind)
	assert.Equal(t, "tr_late", flag.Details["reference"])
	assert.Equal(t, string(pkgerrors.ReasonAlreadyTerminal), flag.Details["reason"])
	assert.Equal(t, eventID.String(), flag.Details["event_id"])
	assert.Zero(t, manager.deleted)
}

func TestProcessRejectedSuccessRedeliversWhenFlagFails(t *testing.T) {
	manager := &fakeManager{}
	settler := &fakeSettler{err: pkgerrors.Conflict(pkgerrors.ReasonAttemptMismatch, "stale attempt")}
	c := newFlaggingConsumer(t, settler, manager, &fakeFlags{err: errors.New("db down")})
	msg := enveloped(t, uuid.NewString(), payloads.PayoutResultEvent{PayoutID: uuid.New(), IdempotencyKey: "k", Success: true})

	assert.True(t, c.Process(context.Background(), msg))
	assert.Equal(t, 1, manager.deleted)
}

func TestProcessPoisonAndRedis(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		settler := &fakeSettler{}
		c := newTestConsumer(t, settler, &fakeManager{})
		assert.False(t, c.Process(context.Background(), &gcppubsub.Message{ID: "m", Data: []byte("{")}))
		assert.Empty(t, settler.completed)
	})
	t.Run("missing payout id", func(t *testing.T) {
		settler := &fakeSettler{}
		c := newTestConsumer(t, settler, &fakeManager{})
		msg := enveloped(t, uuid.NewString(), payloads.PayoutResultEvent{Success: true})
		assert.False(t, c.Process(context.Background(), msg))
		assert.Empty(t, settler.completed)
	})
	t.Run("redis failure", func(t *testing.T) {
		settler := &fakeSettler{}
		c := newTestConsumer(t, settler, &fakeManager{err: errors.New("redis down")})
		msg := enveloped(t, uuid.NewString(), payloads.PayoutResultEvent{PayoutID: uuid.New(), Success: true})
		assert.True(t, c.Process(context.Background(), msg))
		assert.Empty(t, settler.completed)
	})
}

func TestDecodeEventID(t *testing.T) {
	result := payloads.PayoutResultEvent{PayoutID: uuid.New(), Success: true}
	eventID := uuid.New()
	id, _, err := decode(enveloped(t, eventID.String(), result))
	require.NoError(t, err)
	assert.Equal(t, eventID, id)

	body, err := json.Marshal(result)
	require.NoError(t, err)
	attr := uuid.New()
	id, _, err = decode(&gcppubsub.Message{ID: "m", Data: body, Attributes: map[string]string{"event_id": attr.String()}})
	require.NoError(t, err)
	assert.Equal(t, attr, id)

	first, _, err := decode(&gcppubsub.Message{ID: "gateway-7", Data: body})
	require.NoError(t, err)
	second, _, err := decode(&gcppubsub.Message{ID: "gateway-7", Data: body})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
