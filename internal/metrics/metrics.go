// Package metrics exposes Prometheus counters for the history pipeline. A
// nil *Recorder is valid and records nothing.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder owns a private registry so one-shot runs can push exactly the
// metrics of this process to a Pushgateway.
type Recorder struct {
	registry *prometheus.Registry

	pagesFetched  *prometheus.CounterVec
	fetchRetries  *prometheus.CounterVec
	truncations   *prometheus.CounterVec
	duplicates    *prometheus.CounterVec
	rowsInserted  *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	lastSuccessTs prometheus.Gauge
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pagesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyhistory_pages_fetched_total",
				Help: "The total number of listing pages fetched",
			},
			[]string{"entity"},
		),
		fetchRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyhistory_fetch_retries_total",
				Help: "The total number of page requests retried after a timeout",
			},
			[]string{"entity"},
		),
		truncations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyhistory_fetch_truncations_total",
				Help: "The total number of fetches stopped early by a request failure",
			},
			[]string{"entity"},
		),
		duplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyhistory_duplicates_dropped_total",
				Help: "The total number of duplicate records dropped by the transformer",
			},
			[]string{"entity"},
		),
		rowsInserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyhistory_rows_inserted_total",
				Help: "The total number of rows handed to the store",
			},
			[]string{"entity"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyhistory_runs_total",
				Help: "The total number of pipeline runs by outcome",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "polyhistory_run_duration_seconds",
				Help:    "The duration of pipeline runs in seconds",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),
		lastSuccessTs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "polyhistory_last_success_timestamp_seconds",
				Help: "Unix time of the last successful pipeline run",
			},
		),
	}

	r.registry.MustRegister(
		r.pagesFetched,
		r.fetchRetries,
		r.truncations,
		r.duplicates,
		r.rowsInserted,
		r.runs,
		r.runDuration,
		r.lastSuccessTs,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) PageFetched(entity string) {
	if r == nil {
		return
	}
	r.pagesFetched.WithLabelValues(entity).Inc()
}

func (r *Recorder) FetchRetried(entity string) {
	if r == nil {
		return
	}
	r.fetchRetries.WithLabelValues(entity).Inc()
}

func (r *Recorder) FetchTruncated(entity string) {
	if r == nil {
		return
	}
	r.truncations.WithLabelValues(entity).Inc()
}

func (r *Recorder) DuplicatesDropped(entity string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.duplicates.WithLabelValues(entity).Add(float64(n))
}

func (r *Recorder) RowsInserted(entity string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.rowsInserted.WithLabelValues(entity).Add(float64(n))
}

// RunFinished records the outcome ("success", "failure", "skipped") and
// duration of one pipeline run.
func (r *Recorder) RunFinished(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
	r.runDuration.Observe(d.Seconds())
	if status == "success" {
		r.lastSuccessTs.SetToCurrentTime()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Push sends the current state of the registry to a Pushgateway under the
// given job name.
func (r *Recorder) Push(ctx context.Context, gatewayURL, job string) error {
	if err := push.New(gatewayURL, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", gatewayURL, err)
	}
	return nil
}
