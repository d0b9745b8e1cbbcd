package notify

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the hub and stream collectors exported on /metrics.
type Metrics struct {
	subscribers prometheus.Gauge
	delivered   *prometheus.CounterVec
	evicted     prometheus.Counter
	streams     *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "privat",
			Subsystem: "notify",
			Name:      "subscribers",
			Help:      "Currently registered notification subscribers.",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "privat",
			Subsystem: "notify",
			Name:      "events_delivered_total",
			Help:      "Events queued to subscribers, by event type.",
		}, []string{"type"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "privat",
			Subsystem: "notify",
			Name:      "subscribers_evicted_total",
			Help:      "Subscribers dropped during broadcast because they were closed or saturated.",
		}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "privat",
			Subsystem: "notify",
			Name:      "streams_opened_total",
			Help:      "Notification streams opened, by transport.",
		}, []string{"transport"}),
	}
	if reg != nil {
		reg.MustRegister(m.subscribers, m.delivered, m.evicted, m.streams)
	}
	return m
}
