package query

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records cache activity per key kind. A nil *Metrics records nothing.
type Metrics struct {
	Fetches       *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	InFlight      *prometheus.GaugeVec
	Coalesced     *prometheus.CounterVec
	Discarded     *prometheus.CounterVec
	Retries       *prometheus.CounterVec
	Subscriptions *prometheus.GaugeVec
}

// NewMetrics registers the cache collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beach_query_fetches_total",
				Help: "Settled fetches by key kind and result",
			},
			[]string{"kind", "result"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "beach_query_fetch_duration_seconds",
				Help:    "Fetch duration including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		InFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "beach_query_inflight",
				Help: "Fetches currently in flight",
			},
			[]string{"kind"},
		),
		Coalesced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beach_query_coalesced_total",
				Help: "Refetch requests joined to an in-flight fetch",
			},
			[]string{"kind"},
		),
		Discarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beach_query_discarded_total",
				Help: "Fetch results dropped because the key was unsubscribed or the cache closed",
			},
			[]string{"kind"},
		),
		Retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beach_query_retries_total",
				Help: "Fetch attempts retried after a failure",
			},
			[]string{"kind"},
		),
		Subscriptions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "beach_query_subscriptions",
				Help: "Live subscriptions",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) fetchStarted(kind string) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(kind).Inc()
}

func (m *Metrics) fetchSettled(kind string, err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.InFlight.WithLabelValues(kind).Dec()
	m.Fetches.WithLabelValues(kind, result).Inc()
	m.Duration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) fetchDiscarded(kind string) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(kind).Dec()
	m.Discarded.WithLabelValues(kind).Inc()
}

func (m *Metrics) coalesced(kind string) {
	if m == nil {
		return
	}
	m.Coalesced.WithLabelValues(kind).Inc()
}

func (m *Metrics) retried(kind string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(kind).Inc()
}

func (m *Metrics) subscribed(kind string, delta float64) {
	if m == nil {
		return
	}
	m.Subscriptions.WithLabelValues(kind).Add(delta)
}
