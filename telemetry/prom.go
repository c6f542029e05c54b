package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromSink mirrors run statistics into Prometheus metrics on a private
// registry. A nil *PromSink ignores observations.
type PromSink struct {
	registry *prometheus.Registry
	counters *prometheus.CounterVec
	timers   *prometheus.CounterVec
	runs     prometheus.Counter
}

// NewPromSink creates and registers the metric families.
func NewPromSink() *PromSink {
	s := &PromSink{
		registry: prometheus.NewRegistry(),
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advect",
			Name:      "events_total",
			Help:      "Run statistics counters by name and rank.",
		}, []string{"name", "rank"}),
		timers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advect",
			Name:      "timer_seconds_total",
			Help:      "Run statistics timers by name and rank.",
		}, []string{"name", "rank"}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "advect",
			Name:      "runs_total",
			Help:      "Completed advection runs.",
		}),
	}
	s.registry.MustRegister(s.counters, s.timers, s.runs)
	return s
}

// Observe adds one run's rank snapshots to the metrics.
func (s *PromSink) Observe(snaps []Snapshot) {
	if s == nil {
		return
	}
	for _, snap := range snaps {
		rank := strconv.Itoa(snap.Rank)
		for name, v := range snap.Counters {
			if v > 0 {
				s.counters.WithLabelValues(name, rank).Add(float64(v))
			}
		}
		for name, d := range snap.Timers {
			if d > 0 {
				s.timers.WithLabelValues(name, rank).Add(d.Seconds())
			}
		}
	}
	s.runs.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (s *PromSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
