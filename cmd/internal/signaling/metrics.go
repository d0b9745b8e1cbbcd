package signaling

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the mailbox counters exported on /metrics.
type Metrics struct {
	enqueued *prometheus.CounterVec
	drained  prometheus.Counter
	rejected *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "privat",
			Subsystem: "signaling",
			Name:      "signals_enqueued_total",
			Help:      "Signals accepted into a recipient mailbox, by kind.",
		}, []string{"kind"}),
		drained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "privat",
			Subsystem: "signaling",
			Name:      "signals_drained_total",
			Help:      "Signals delivered to recipients through GET /call/pending.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "privat",
			Subsystem: "signaling",
			Name:      "signals_rejected_total",
			Help:      "Signal submissions rejected before enqueue, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.enqueued, m.drained, m.rejected)
	}
	return m
}
