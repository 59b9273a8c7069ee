// Package observability exposes prometheus instrumentation for the savings
// ledger service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors the service updates on every ledger
// operation.
type Metrics struct {
	Operations    *prometheus.CounterVec
	InterestPaid  prometheus.Counter
	PoolShares    prometheus.Gauge
	PoolValue     prometheus.Gauge
	DustShares    prometheus.Gauge
	HatsCreated   prometheus.Gauge
	EventSequence prometheus.Gauge
}

// NewMetrics builds and registers the ledger collectors on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rsavings",
			Name:      "operations_total",
			Help:      "Ledger operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		InterestPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rsavings",
			Name:      "interest_paid_total",
			Help:      "Total interest paid out of the pool, underlying units.",
		}),
		PoolShares: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rsavings",
			Name:      "pool_shares",
			Help:      "Strategy shares currently held by the pool.",
		}),
		PoolValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rsavings",
			Name:      "pool_value",
			Help:      "Current underlying value of the pool at the live exchange rate.",
		}),
		DustShares: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rsavings",
			Name:      "dust_shares",
			Help:      "Unattributed rounding dust held by the pool, in shares.",
		}),
		HatsCreated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rsavings",
			Name:      "hats_created",
			Help:      "Number of distinct hats ever registered.",
		}),
		EventSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rsavings",
			Name:      "event_sequence",
			Help:      "Sequence number of the most recent journal record.",
		}),
	}
	reg.MustRegister(
		m.Operations,
		m.InterestPaid,
		m.PoolShares,
		m.PoolValue,
		m.DustShares,
		m.HatsCreated,
		m.EventSequence,
	)
	return m
}

// ObserveOperation records one ledger operation outcome.
func (m *Metrics) ObserveOperation(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(kind, outcome).Inc()
}
