package projection

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/logger"
	"github.com/angelmondragon/settlement-ledger/pkg/outbox/payloads"
)

type fakeWriter struct {
	rows []SettlementEventRow
	err  error
}

func (f *fakeWriter) InsertSettlement(_ context.Context, row SettlementEventRow) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, row)
	return nil
}

func newTestProjector(t *testing.T, writer Writer) *Projector {
	t.Helper()
	p, err := NewProjector(writer, "", logger.New(logger.Options{ServiceName: "test"}))
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }
	return p
}

func envelopeFor(t *testing.T, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, payload any) Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateType: aggregate,
		AggregateID:   uuid.NewString(),
		OccurredAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Version:       1,
		Payload:       raw,
	}
}

func TestProjector_CommissionComputed(t *testing.T) {
	writer := &fakeWriter{}
	p := newTestProjector(t, writer)
	orderID, shopID := uuid.New(), uuid.New()
	env := envelopeFor(t, enums.EventCommissionComputed, enums.AggregateCommission, payloads.CommissionComputedEvent{
		CommissionID:     uuid.New(),
		OrderID:          orderID,
		ShopID:           shopID,
		CommissionAmount: "10.00",
		NetAmount:        "89.00",
		Currency:         "USD",
	})

	require.NoError(t, p.Handle(context.Background(), env))
	require.Len(t, writer.rows, 1)
	row := writer.rows[0]
	assert.Equal(t, env.EventID, row.EventID)
	assert.Equal(t, "commission.computed", row.EventType)
	assert.Equal(t, orderID.String(), *row.OrderID)
	assert.Equal(t, shopID.String(), *row.ShopID)
	assert.Equal(t, "10.00", *row.Amount)
	assert.Equal(t, "89.00", *row.NetAmount)
	assert.Equal(t, "settlement-ledger", row.Source)
	assert.True(t, row.Payload.Valid)
	assert.Equal(t, env.OccurredAt, row.OccurredAt)
}

func TestProjector_PayoutAndRefund(t *testing.T) {
	writer := &fakeWriter{}
	p := newTestProjector(t, writer)
	payoutID := uuid.New()

	require.NoError(t, p.Handle(context.Background(), envelopeFor(t, enums.EventPayoutCompleted, enums.AggregatePayout, payloads.PayoutSettledEvent{
		PayoutID: payoutID,
		ShopID:   uuid.New(),
		Status:   enums.PayoutStatusCompleted,
		Amount:   "137.00",
		Currency: "USD",
	})))
	require.NoError(t, p.Handle(context.Background(), envelopeFor(t, enums.EventRefundIssued, enums.AggregateOrder, payloads.RefundIssuedEvent{
		RefundID: uuid.New(),
		OrderID:  uuid.New(),
		Amount:   "25.00",
		Currency: "USD",
	})))

	require.Len(t, writer.rows, 2)
	assert.Equal(t, payoutID.String(), *writer.rows[0].PayoutID)
	assert.Equal(t, "completed", *writer.rows[0].Status)
	assert.Equal(t, "25.00", *writer.rows[1].Amount)
	assert.Nil(t, writer.rows[1].ShopID)
}

func TestProjector_SkipsUnprojectedEvents(t *testing.T) {
	writer := &fakeWriter{}
	p := newTestProjector(t, writer)
	env := envelopeFor(t, enums.EventWalletEntryApplied, enums.AggregateWallet, payloads.WalletEntryAppliedEvent{UserID: uuid.New()})

	require.NoError(t, p.Handle(context.Background(), env))
	assert.Empty(t, writer.rows)
}

func TestProjector_Errors(t *testing.T) {
	writer := &fakeWriter{}
	p := newTestProjector(t, writer)

	env := envelopeFor(t, enums.EventOrderStatusChanged, enums.AggregateOrder, payloads.OrderStatusChangedEvent{})
	env.Payload = json.RawMessage(`{"order_id": 12}`)
	assert.Error(t, p.Handle(context.Background(), env))

	env.Payload = nil
	assert.Error(t, p.Handle(context.Background(), env))

	env = envelopeFor(t, enums.EventOrderStatusChanged, enums.AggregateOrder, payloads.OrderStatusChangedEvent{OrderID: uuid.New()})
	env.Version = 2
	assert.Error(t, p.Handle(context.Background(), env))

	writer.err = errors.New("bigquery down")
	env.Version = 1
	assert.ErrorIs(t, p.Handle(context.Background(), env), writer.err)
}
