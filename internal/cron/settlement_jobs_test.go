package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-ledger/internal/reconciliation"
)

var fixedNow = time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

type fakeSettlement struct {
	clearCutoff    time.Time
	batchAsOf      time.Time
	dispatchBefore time.Time
	overdueAsOf    time.Time
	count          int
	err            error
}

func (f *fakeSettlement) ClearEligible(_ context.Context, deliveredBefore time.Time) (int, error) {
	f.clearCutoff = deliveredBefore
	return f.count, f.err
}

func (f *fakeSettlement) BatchAll(_ context.Context, asOf time.Time) (int, error) {
	f.batchAsOf = asOf
	return f.count, f.err
}

func (f *fakeSettlement) DispatchPending(_ context.Context, requestedBefore time.Time) (int, error) {
	f.dispatchBefore = requestedBefore
	return f.count, f.err
}

func (f *fakeSettlement) MarkOverdue(_ context.Context, asOf time.Time) (int, error) {
	f.overdueAsOf = asOf
	return f.count, f.err
}

type fakeReconciler struct {
	since   time.Time
	summary reconciliation.Summary
	err     error
}

func (f *fakeReconciler) ReconcileRecent(_ context.Context, since time.Time) (reconciliation.Summary, error) {
	f.since = since
	return f.summary, f.err
}

func TestCommissionClearingJobUsesReturnWindow(t *testing.T) {
	fake := &fakeSettlement{count: 3}
	job, err := NewCommissionClearingJob(CommissionClearingJobParams{
		Logger:       testLogger(),
		Commissions:  fake,
		ReturnWindow: 14 * 24 * time.Hour,
	})
	require.NoError(t, err)
	typed := job.(*commissionClearingJob)
	typed.now = func() time.Time { return fixedNow }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "commission-clearing", job.Name())
	assert.True(t, fake.clearCutoff.Equal(fixedNow.Add(-14*24*time.Hour)))

	fake.err = errors.New("one commission failed")
	assert.Error(t, job.Run(context.Background()))

	_, err = NewCommissionClearingJob(CommissionClearingJobParams{Logger: testLogger(), Commissions: fake, ReturnWindow: -time.Hour})
	assert.Error(t, err)
}

func TestPayoutJobs(t *testing.T) {
	fake := &fakeSettlement{count: 2}
	batch, err := NewPayoutBatchingJob(PayoutBatchingJobParams{Logger: testLogger(), Payouts: fake})
	require.NoError(t, err)
	batch.(*payoutBatchingJob).now = func() time.Time { return fixedNow }
	dispatch, err := NewPayoutDispatchJob(PayoutDispatchJobParams{Logger: testLogger(), Payouts: fake})
	require.NoError(t, err)
	dispatch.(*payoutDispatchJob).now = func() time.Time { return fixedNow }

	require.NoError(t, batch.Run(context.Background()))
	require.NoError(t, dispatch.Run(context.Background()))
	assert.True(t, fake.batchAsOf.Equal(fixedNow))
	assert.True(t, fake.dispatchBefore.Equal(fixedNow))

	fake.err = errors.New("db down")
	assert.Error(t, batch.Run(context.Background()))
	assert.Error(t, dispatch.Run(context.Background()))

	_, err = NewPayoutBatchingJob(PayoutBatchingJobParams{Logger: testLogger()})
	assert.Error(t, err)
	_, err = NewPayoutDispatchJob(PayoutDispatchJobParams{Payouts: fake})
	assert.Error(t, err)
}

func TestInvoiceOverdueJob(t *testing.T) {
	fake := &fakeSettlement{count: 1}
	job, err := NewInvoiceOverdueJob(InvoiceOverdueJobParams{Logger: testLogger(), Invoices: fake})
	require.NoError(t, err)
	job.(*invoiceOverdueJob).now = func() time.Time { return fixedNow }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "invoice-overdue", job.Name())
	assert.True(t, fake.overdueAsOf.Equal(fixedNow))

	fake.err = errors.New("db down")
	assert.Error(t, job.Run(context.Background()))

	_, err = NewInvoiceOverdueJob(InvoiceOverdueJobParams{Logger: testLogger()})
	assert.Error(t, err)
}

func TestReconciliationJob(t *testing.T) {
	fake := &fakeReconciler{summary: reconciliation.Summary{Orders: 4, Flagged: 1}}
	job, err := NewReconciliationJob(ReconciliationJobParams{Logger: testLogger(), Reconciler: fake})
	require.NoError(t, err)
	job.(*reconciliationJob).now = func() time.Time { return fixedNow }

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, fake.since.Equal(fixedNow.Add(-defaultReconcileLookback)))

	fake.err = errors.New("partial failure")
	assert.Error(t, job.Run(context.Background()))
}
