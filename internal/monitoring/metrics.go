package monitoring

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the counters of one tuning run. They are written once, at the
// end of the run, in the node-exporter textfile format.
type Metrics struct {
	Registry *prometheus.Registry

	Evaluations     prometheus.Counter
	PickerFailures  prometheus.Counter
	Waveforms       *prometheus.CounterVec
	ArchiveFetches  *prometheus.CounterVec
	Stations        *prometheus.CounterVec
	BestScore       *prometheus.GaugeVec
	EvaluationTimes prometheus.Histogram
}

// NewMetrics registers the run counters on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "picktune", Name: "evaluations_total",
			Help: "Candidate configurations evaluated.",
		}),
		PickerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "picktune", Name: "picker_failures_total",
			Help: "Picker invocations that produced no usable result.",
		}),
		Waveforms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "picktune", Name: "waveforms_total",
			Help: "Observations handled by the curator, by outcome.",
		}, []string{"outcome"}),
		ArchiveFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "picktune", Name: "archive_fetches_total",
			Help: "Archive requests, by result.",
		}, []string{"result"}),
		Stations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "picktune", Name: "stations_total",
			Help: "Station and phase tuning attempts, by outcome.",
		}, []string{"phase", "outcome"}),
		BestScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "picktune", Name: "best_score",
			Help: "Best objective value found per station and phase.",
		}, []string{"station", "phase"}),
		EvaluationTimes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "picktune", Name: "evaluation_seconds",
			Help:    "Wall time of one evaluation.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	m.Registry.MustRegister(m.Evaluations, m.PickerFailures, m.Waveforms,
		m.ArchiveFetches, m.Stations, m.BestScore, m.EvaluationTimes)
	return m
}

// WriteTextfile writes the current values to path for the node-exporter
// textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
