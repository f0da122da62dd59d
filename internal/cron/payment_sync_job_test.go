package cron

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-ledger/internal/reconciliation"
	"github.com/angelmondragon/settlement-ledger/pkg/db/models"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
	"github.com/angelmondragon/settlement-ledger/pkg/square"
)

type fakePaymentLedger struct {
	pending   []models.Transaction
	olderThan time.Time
	completed []uuid.UUID
	failed    map[uuid.UUID]string
}

func (f *fakePaymentLedger) PendingPayments(_ context.Context, olderThan time.Time, _ int) ([]models.Transaction, error) {
	f.olderThan = olderThan
	return f.pending, nil
}

func (f *fakePaymentLedger) MarkCompleted(_ context.Context, id uuid.UUID, _ json.RawMessage) (*models.Transaction, error) {
	f.completed = append(f.completed, id)
	return &models.Transaction{ID: id}, nil
}

func (f *fakePaymentLedger) MarkFailed(_ context.Context, id uuid.UUID, reason string) (*models.Transaction, error) {
	if f.failed == nil {
		f.failed = map[uuid.UUID]string{}
	}
	f.failed[id] = reason
	return &models.Transaction{ID: id}, nil
}

type fakeGateway struct {
	payments map[string]*square.Payment
}

func (f *fakeGateway) GetPayment(_ context.Context, id string) (*square.Payment, error) {
	payment, ok := f.payments[id]
	if !ok {
		return nil, errors.New("square unavailable")
	}
	return payment, nil
}

type fakeFlags struct {
	raised []reconciliation.FlagInput
}

func (f *fakeFlags) Raise(_ context.Context, input reconciliation.FlagInput) (*models.IntegrityFlag, error) {
	f.raised = append(f.raised, input)
	return &models.IntegrityFlag{Kind: input.Kind}, nil
}

func pendingPayment(ref, amount string) models.Transaction {
	orderID := uuid.New()
	return models.Transaction{
		ID:         uuid.New(),
		Type:       enums.TransactionTypePayment,
		Status:     enums.TransactionStatusPending,
		Amount:     decimal.RequireFromString(amount),
		Currency:   "USD",
		OrderID:    &orderID,
		GatewayRef: &ref,
	}
}

func squarePayment(id string, status square.PaymentStatus, amount string) *square.Payment {
	return &square.Payment{
		ID:       id,
		Status:   status,
		Amount:   decimal.RequireFromString(amount),
		Currency: "USD",
		Raw:      json.RawMessage(`{"id":"` + id + `"}`),
	}
}

func TestPaymentSyncJob(t *testing.T) {
	completed := pendingPayment("pay_ok", "50.00")
	short := pendingPayment("pay_short", "80.00")
	failed := pendingPayment("pay_failed", "20.00")
	waiting := pendingPayment("pay_waiting", "10.00")
	broken := pendingPayment("pay_missing", "10.00")

	ledgerFake := &fakePaymentLedger{pending: []models.Transaction{completed, short, failed, waiting, broken}}
	flags := &fakeFlags{}
	job, err := NewPaymentSyncJob(PaymentSyncJobParams{
		Logger: testLogger(),
		Ledger: ledgerFake,
		Gateway: &fakeGateway{payments: map[string]*square.Payment{
			"pay_ok":      squarePayment("pay_ok", square.PaymentCompleted, "50.00"),
			"pay_short":   squarePayment("pay_short", square.PaymentCompleted, "75.00"),
			"pay_failed":  squarePayment("pay_failed", square.PaymentCanceled, "20.00"),
			"pay_waiting": squarePayment("pay_waiting", square.PaymentApproved, "10.00"),
		}},
		Flags: flags,
	})
	require.NoError(t, err)
	job.(*paymentSyncJob).now = func() time.Time { return fixedNow }

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), broken.ID.String())

	assert.True(t, ledgerFake.olderThan.Equal(fixedNow.Add(-defaultPaymentSyncDelay)))
	assert.ElementsMatch(t, []uuid.UUID{completed.ID, short.ID}, ledgerFake.completed)
	assert.Equal(t, map[uuid.UUID]string{failed.ID: "square payment canceled"}, ledgerFake.failed)

	require.Len(t, flags.raised, 1)
	flag := flags.raised[0]
	assert.Equal(t, enums.IntegrityGatewayAmountMismatch, flag.Kind)
	assert.Equal(t, enums.IntegrityEntityOrder, flag.EntityType)
	assert.Equal(t, *short.OrderID, flag.EntityID)
	assert.Equal(t, "80.00", flag.Details["ledger_amount"])
	assert.Equal(t, "75.00", flag.Details["gateway_amount"])
}

func TestPaymentSyncJobRequiresDependencies(t *testing.T) {
	_, err := NewPaymentSyncJob(PaymentSyncJobParams{Logger: testLogger(), Ledger: &fakePaymentLedger{}, Flags: &fakeFlags{}})
	assert.Error(t, err)
	_, err = NewPaymentSyncJob(PaymentSyncJobParams{Logger: testLogger(), Gateway: &fakeGateway{}, Flags: &fakeFlags{}})
	assert.Error(t, err)
}
