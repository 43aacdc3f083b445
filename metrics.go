package coap

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instruments the transaction pool and
// engine update. A nil *Metrics disables instrumentation entirely;
// every call site checks for nil before touching it.
type Metrics struct {
	transactionsStarted prometheus.Counter
	retransmits         prometheus.Counter
	timeouts            prometheus.Counter
	cancellations       prometheus.Counter
	activeTransactions  prometheus.Gauge
	dispatched          *prometheus.CounterVec
}

// NewMetrics registers the engine's instruments with reg. Pass
// prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to expose them on the global /metrics
// handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transactionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coap_transactions_total",
			Help: "Confirmable transactions started.",
		}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coap_retransmits_total",
			Help: "Confirmable message retransmissions sent.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coap_timeouts_total",
			Help: "Transactions that exhausted their retransmit budget.",
		}),
		cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coap_cancellations_total",
			Help: "Transactions cancelled before completion.",
		}),
		activeTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coap_active_transactions",
			Help: "Transaction slots currently Sending or Empty.",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coap_dispatch_total",
			Help: "Requests dispatched: inbound by response code, outbound by method code.",
		}, []string{"code"}),
	}
	reg.MustRegister(
		m.transactionsStarted,
		m.retransmits,
		m.timeouts,
		m.cancellations,
		m.activeTransactions,
		m.dispatched,
	)
	return m
}

func (m *Metrics) observeDispatch(code Code) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(code.String()).Inc()
}
