// Package metrics exposes pipeline counters and timings to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/ports"
)

// Metrics holds the ingestion collectors.
type Metrics struct {
	candidates    *prometheus.CounterVec
	batches       *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	lastRun       prometheus.Gauge
}

var _ ports.PipelineMetrics = (*Metrics)(nil)

// New builds the collectors; call Register to expose them.
func New() *Metrics {
	return &Metrics{
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idearadar",
			Name:      "candidates_total",
			Help:      "Candidates processed, by source and outcome.",
		}, []string{"source", "outcome"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idearadar",
			Name:      "batches_total",
			Help:      "Source batches finished, by source and status.",
		}, []string{"source", "status"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "idearadar",
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of source batches.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 120},
		}, []string{"source"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "idearadar",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time at which the last ingestion run finished.",
		}),
	}
}

// Register adds all collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.candidates, m.batches, m.batchDuration, m.lastRun} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveCandidate counts one candidate outcome.
func (m *Metrics) ObserveCandidate(source, outcome string) {
	m.candidates.WithLabelValues(source, outcome).Inc()
}

// ObserveBatch counts one finished batch and records its duration.
func (m *Metrics) ObserveBatch(source string, status domain.BatchStatus, elapsed time.Duration) {
	m.batches.WithLabelValues(source, string(status)).Inc()
	m.batchDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// MarkRun records the completion time of a run.
func (m *Metrics) MarkRun(at time.Time) {
	m.lastRun.Set(float64(at.Unix()))
}
