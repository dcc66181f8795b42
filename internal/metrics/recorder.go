// Package metrics records per-run counters and operation timings in a
// private Prometheus registry. Batch tools have no scrape endpoint, so the
// registry is written once as a node_exporter textfile when a command ends.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Item kinds counted by Add.
const (
	TrialsGenerated    = "trials_generated"
	ListsShuffled      = "lists_shuffled"
	ImagesMaterialized = "images_materialized"
	ImagesSkipped      = "images_skipped"
	FailuresExtracted  = "failures_extracted"
)

// Recorder is safe to use as a nil pointer; every method is then a no-op.
type Recorder struct {
	reg       *prometheus.Registry
	results   *prometheus.CounterVec
	durations *prometheus.HistogramVec
	items     *prometheus.CounterVec
}

// NewRecorder builds a recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stimkit",
			Name:      "operations_total",
			Help:      "Completed tool operations by outcome.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stimkit",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of tool operations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"operation"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stimkit",
			Name:      "items_total",
			Help:      "Items processed by kind.",
		}, []string{"kind"}),
	}
	r.reg.MustRegister(r.results, r.durations, r.items)
	return r
}

// Observe records an operation outcome.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if r == nil || operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.results.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// Add counts n items of kind.
func (r *Recorder) Add(kind string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.items.WithLabelValues(kind).Add(float64(n))
}

// WriteTextfile writes the registry in text exposition format. The file is
// written to a temporary name and renamed, as the textfile collector expects.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
