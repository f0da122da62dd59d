package projection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// WriterConfig controls the BigQuery writer. Zero values take the defaults.
type WriterConfig struct {
	Table       string
	Attempts    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// TableInserter streams rows into a named table.
type TableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter streams one settlement row per event. Each row carries the
// event id as its insert id, so a redelivered event that is written twice
// collapses in BigQuery's best-effort dedupe window.
type BigQueryWriter struct {
	client   TableInserter
	table    string
	schema   cbigquery.Schema
	attempts int
	base     time.Duration
	max      time.Duration
	sleep    func(context.Context, time.Duration) error
}

func NewBigQueryWriter(client TableInserter, cfg WriterConfig) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		return nil, errors.New("settlement table is required")
	}
	w := &BigQueryWriter{
		client:   client,
		table:    table,
		schema:   SettlementTable(table).Schema,
		attempts: cfg.Attempts,
		base:     cfg.BaseBackoff,
		max:      cfg.MaxBackoff,
		sleep:    sleepContext,
	}
	if w.attempts <= 0 {
		w.attempts = 3
	}
	if w.base <= 0 {
		w.base = 250 * time.Millisecond
	}
	if w.max < w.base {
		w.max = max(2*time.Second, w.base)
	}
	return w, nil
}

// InsertSettlement writes row, retrying transient BigQuery failures with
// doubling backoff.
func (w *BigQueryWriter) InsertSettlement(ctx context.Context, row SettlementEventRow) error {
	saver := &cbigquery.StructSaver{Schema: w.schema, InsertID: row.EventID, Struct: &row}
	backoff := w.base
	for attempt := 1; ; attempt++ {
		err := w.client.InsertRows(ctx, w.table, []any{saver})
		if err == nil {
			return nil
		}
		if attempt >= w.attempts || !transient(err) {
			return fmt.Errorf("insert %s row %s: %w", w.table, row.EventID, err)
		}
		if err := w.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(2*backoff, w.max)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// transient reports whether every underlying failure is worth retrying.
// Insert errors nest per row, so the row and multi-error wrappers are
// flattened first.
func transient(err error) bool {
	var (
		multi  cbigquery.MultiError
		put    cbigquery.PutMultiError
		rowErr *cbigquery.RowInsertionError
	)
	switch {
	case errors.As(err, &put):
		inner := make([]error, 0, len(put))
		for _, r := range put {
			inner = append(inner, r.Errors)
		}
		return allTransient(inner)
	case errors.As(err, &rowErr):
		return allTransient(rowErr.Errors)
	case errors.As(err, &multi):
		return allTransient(multi)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Aborted, codes.DeadlineExceeded, codes.Internal,
			codes.ResourceExhausted, codes.Unavailable:
			return true
		}
	}
	return false
}

func allTransient(errs []error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if !transient(err) {
			return false
		}
	}
	return true
}
