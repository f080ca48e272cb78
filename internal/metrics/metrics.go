package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kmeans"

// Metrics instruments the worker pool. A nil *Metrics records nothing.
type Metrics struct {
	rounds        *prometheus.CounterVec
	roundDuration *prometheus.HistogramVec
	threads       prometheus.Gauge
	pending       prometheus.Gauge
	queued        prometheus.Gauge
}

// New creates the pool metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Rounds finished, by kind and outcome",
		}, []string{"kind", "outcome"}),
		roundDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Time from dispatch to the last reply of a round",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		threads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threads",
			Help:      "Configured worker count",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Requests dispatched to workers and not yet answered",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_rounds",
			Help:      "Rounds waiting for every worker to become available",
		}),
	}

	reg.MustRegister(m.rounds, m.roundDuration, m.threads, m.pending, m.queued)
	return m
}

// RoundFinished records a round that produced a result or failed.
func (m *Metrics) RoundFinished(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.rounds.WithLabelValues(kind, outcome).Inc()
	if err == nil {
		m.roundDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (m *Metrics) SetThreads(n int) {
	if m == nil {
		return
	}
	m.threads.Set(float64(n))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) SetQueued(n int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(n))
}
