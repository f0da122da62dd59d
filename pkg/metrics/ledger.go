package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts settlement state changes. A nil receiver is a no-op
// so services can run without a registry in tests.
type LedgerMetrics struct {
	commissions     *prometheus.CounterVec
	payouts         *prometheus.CounterVec
	walletEntries   *prometheus.CounterVec
	integrityFlags  *prometheus.CounterVec
	outboxPublished *prometheus.CounterVec
	outboxFailed    *prometheus.CounterVec
	outboxBacklog   prometheus.Gauge
}

// NewLedgerMetrics registers the settlement counters on reg.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	m := &LedgerMetrics{
		commissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_commission_transitions_total",
			Help: "Commission status transitions.",
		}, []string{"status"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_payout_transitions_total",
			Help: "Payout status transitions.",
		}, []string{"status"}),
		walletEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_wallet_entries_total",
			Help: "Wallet ledger entries appended.",
		}, []string{"type"}),
		integrityFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_integrity_flags_total",
			Help: "Integrity flags raised by reconciliation.",
		}, []string{"kind"}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_outbox_published_total",
			Help: "Outbox events published.",
		}, []string{"event_type"}),
		outboxFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_outbox_failed_total",
			Help: "Outbox publish attempts that failed.",
		}, []string{"event_type"}),
		outboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_outbox_backlog",
			Help: "Outbox rows not yet published, sampled by the retention job.",
		}),
	}
	reg.MustRegister(m.commissions, m.payouts, m.walletEntries, m.integrityFlags, m.outboxPublished, m.outboxFailed, m.outboxBacklog)
	return m
}

func (m *LedgerMetrics) CommissionTransition(status string) {
	if m == nil || m.commissions == nil {
		return
	}
	m.commissions.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *LedgerMetrics) PayoutTransition(status string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *LedgerMetrics) WalletEntry(entryType string) {
	if m == nil || m.walletEntries == nil {
		return
	}
	m.walletEntries.WithLabelValues(normalizeLabel(entryType)).Inc()
}

func (m *LedgerMetrics) IntegrityFlag(kind string) {
	if m == nil || m.integrityFlags == nil {
		return
	}
	m.integrityFlags.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *LedgerMetrics) OutboxPublished(eventType string) {
	if m == nil || m.outboxPublished == nil {
		return
	}
	m.outboxPublished.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *LedgerMetrics) OutboxFailed(eventType string) {
	if m == nil || m.outboxFailed == nil {
		return
	}
	m.outboxFailed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

func (m *LedgerMetrics) OutboxBacklog(pending int64) {
	if m == nil || m.outboxBacklog == nil {
		return
	}
	m.outboxBacklog.Set(float64(pending))
}
