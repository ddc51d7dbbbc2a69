// Package metrics holds the prometheus collectors of the polling engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "streamwatch"

// Metrics records check, retry and sweep activity.
type Metrics struct {
	checks          *prometheus.CounterVec
	retries         *prometheus.CounterVec
	rateLimitPauses *prometheus.CounterVec
	sweeps          prometheus.Counter
	sweepEnqueued   prometheus.Gauge
	lastSweep       prometheus.Gauge
	reg             prometheus.Registerer
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Finished status checks by platform and outcome.",
		}, []string{"platform", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Re-enqueued check attempts by platform and failure kind.",
		}, []string{"platform", "kind"}),
		rateLimitPauses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_pauses_total",
			Help:      "Queue pauses caused by platform rate limits.",
		}, []string{"platform"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed sweeps over all collections.",
		}),
		sweepEnqueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sweep_enqueued_items",
			Help:      "Items enqueued by the most recent sweep.",
		}),
		lastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time the most recent sweep finished.",
		}),
		reg: reg,
	}
	reg.MustRegister(m.checks, m.retries, m.rateLimitPauses, m.sweeps, m.sweepEnqueued, m.lastSweep)
	return m
}

// ObserveQueue exports the queue depth as a gauge read on every scrape.
func (m *Metrics) ObserveQueue(size func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_size",
		Help:      "Pending plus running check jobs.",
	}, func() float64 { return float64(size()) }))
}

// CheckFinished counts a check that reached a terminal outcome.
func (m *Metrics) CheckFinished(platform, outcome string) {
	m.checks.WithLabelValues(platform, outcome).Inc()
}

// Retried counts a re-enqueued attempt.
func (m *Metrics) Retried(platform, kind string) {
	m.retries.WithLabelValues(platform, kind).Inc()
}

// RateLimited counts a rate-limit pause.
func (m *Metrics) RateLimited(platform string) {
	m.rateLimitPauses.WithLabelValues(platform).Inc()
}

// SweepFinished records the end of a sweep.
func (m *Metrics) SweepFinished(enqueued int, at time.Time) {
	m.sweeps.Inc()
	m.sweepEnqueued.Set(float64(enqueued))
	m.lastSweep.Set(float64(at.Unix()))
}
