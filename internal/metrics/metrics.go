// Package metrics defines the Prometheus collectors exported by the server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tripledger"

// Metrics groups every collector the server updates.
type Metrics struct {
	rpcRequests           *prometheus.CounterVec
	rpcDuration           *prometheus.HistogramVec
	expenseMutations      *prometheus.CounterVec
	settlementSize        prometheus.Histogram
	ledgerInconsistencies prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "RPCs handled, by procedure and result code.",
		}, []string{"procedure", "code"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "RPC latency by procedure.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"procedure"}),
		expenseMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expense_mutations_total",
			Help:      "Committed expense writes, by operation.",
		}, []string{"op"}),
		settlementSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_transfers",
			Help:      "Number of transfers in each computed settlement plan.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		}),
		ledgerInconsistencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_inconsistencies_total",
			Help:      "Balance or settlement computations that found a broken invariant.",
		}),
	}
	reg.MustRegister(m.rpcRequests, m.rpcDuration, m.expenseMutations, m.settlementSize, m.ledgerInconsistencies)
	return m
}

// ObserveRPC records one finished RPC.
func (m *Metrics) ObserveRPC(procedure, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(procedure, code).Inc()
	m.rpcDuration.WithLabelValues(procedure).Observe(elapsed.Seconds())
}

// ExpenseMutated counts a committed create, replace or remove.
func (m *Metrics) ExpenseMutated(op string) {
	if m == nil {
		return
	}
	m.expenseMutations.WithLabelValues(op).Inc()
}

// SettlementPlanned records the size of a settlement plan.
func (m *Metrics) SettlementPlanned(transfers int) {
	if m == nil {
		return
	}
	m.settlementSize.Observe(float64(transfers))
}

// LedgerInconsistency counts a broken ledger invariant.
func (m *Metrics) LedgerInconsistency() {
	if m == nil {
		return
	}
	m.ledgerInconsistencies.Inc()
}
