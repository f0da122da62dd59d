package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestLedgerMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)
	m.CommissionTransition("cleared")
	m.CommissionTransition("cleared")
	m.PayoutTransition("completed")
	m.IntegrityFlag("refund_after_payout")
	m.OutboxPublished("payout.created")
	m.OutboxFailed("payout.requested")
	m.WalletEntry("")
	m.OutboxBacklog(42)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commissions.WithLabelValues("cleared")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.payouts.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.integrityFlags.WithLabelValues("refund_after_payout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboxPublished.WithLabelValues("payout.created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboxFailed.WithLabelValues("payout.requested")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.walletEntries.WithLabelValues("unknown")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.outboxBacklog))
	assert.Equal(t, 1, testutil.CollectAndCount(m.commissions))
}

func TestLedgerMetricsNilSafe(t *testing.T) {
	var m *LedgerMetrics
	m.CommissionTransition("pending")
	m.OutboxFailed("payout.requested")
	m.OutboxBacklog(3)

	unregistered := NewLedgerMetrics(nil)
	unregistered.PayoutTransition("failed")
	unregistered.OutboxBacklog(1)
}
