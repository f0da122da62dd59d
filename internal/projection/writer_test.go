package projection

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeInserter struct {
	errs  []error
	calls int
	rows  []any
}

func (f *fakeInserter) InsertRows(_ context.Context, _ string, rows []any) error {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func newTestWriter(t *testing.T, inserter *fakeInserter) (*BigQueryWriter, *[]time.Duration) {
	t.Helper()
	w, err := NewBigQueryWriter(inserter, WriterConfig{Table: "settlement_events", BaseBackoff: 100 * time.Millisecond, MaxBackoff: 150 * time.Millisecond})
	require.NoError(t, err)
	var waits []time.Duration
	w.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return w, &waits
}

func TestInsertSettlementUsesEventIDAsInsertID(t *testing.T) {
	inserter := &fakeInserter{}
	w, _ := newTestWriter(t, inserter)

	require.NoError(t, w.InsertSettlement(context.Background(), SettlementEventRow{EventID: "evt-1"}))
	require.Len(t, inserter.rows, 1)
	saver, ok := inserter.rows[0].(*cbigquery.StructSaver)
	require.True(t, ok)
	assert.Equal(t, "evt-1", saver.InsertID)
	assert.NotEmpty(t, saver.Schema)
}

func TestInsertSettlementRetriesTransientErrors(t *testing.T) {
	inserter := &fakeInserter{errs: []error{
		&googleapi.Error{Code: http.StatusServiceUnavailable},
		status.Error(codes.Unavailable, "try later"),
	}}
	w, waits := newTestWriter(t, inserter)

	require.NoError(t, w.InsertSettlement(context.Background(), SettlementEventRow{EventID: "evt-1"}))
	assert.Equal(t, 3, inserter.calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 150 * time.Millisecond}, *waits)
}

func TestInsertSettlementStopsOnPermanentErrors(t *testing.T) {
	inserter := &fakeInserter{errs: []error{&googleapi.Error{Code: http.StatusBadRequest}}}
	w, _ := newTestWriter(t, inserter)

	err := w.InsertSettlement(context.Background(), SettlementEventRow{EventID: "evt-1"})
	require.Error(t, err)
	assert.Equal(t, 1, inserter.calls)
	var apiErr *googleapi.Error
	assert.True(t, errors.As(err, &apiErr))
}

func TestInsertSettlementGivesUpAfterAttempts(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "down")
	inserter := &fakeInserter{errs: []error{unavailable, unavailable, unavailable, unavailable}}
	w, _ := newTestWriter(t, inserter)

	require.Error(t, w.InsertSettlement(context.Background(), SettlementEventRow{EventID: "evt-1"}))
	assert.Equal(t, 3, inserter.calls)
}

func TestTransientRowErrors(t *testing.T) {
	retryable := cbigquery.PutMultiError{{Errors: cbigquery.MultiError{&googleapi.Error{Code: http.StatusInternalServerError}}}}
	assert.True(t, transient(retryable))

	mixed := cbigquery.PutMultiError{
		{Errors: cbigquery.MultiError{&googleapi.Error{Code: http.StatusInternalServerError}}},
		{Errors: cbigquery.MultiError{errors.New("no such field: shop")}},
	}
	assert.False(t, transient(mixed))
	assert.False(t, transient(cbigquery.PutMultiError{}))
	assert.False(t, transient(errors.New("boom")))
}

func TestNewBigQueryWriterRequiresTable(t *testing.T) {
	_, err := NewBigQueryWriter(&fakeInserter{}, WriterConfig{Table: " "})
	assert.Error(t, err)
	_, err = NewBigQueryWriter(nil, WriterConfig{Table: "t"})
	assert.Error(t, err)
}
