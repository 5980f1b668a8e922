// Package metrics provides Prometheus metrics for the acceptance pipeline
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every pipeline collector
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// Ray tracing metrics
	RaysTraced = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llp_rays_traced_total",
			Help: "Rays traced against the detector mesh by outcome",
		},
		[]string{"outcome"},
	)

	BisectionRetries = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "llp_ray_bisection_retries_total",
			Help: "Sub-batches re-issued after a retryable intersection failure",
		},
	)

	TraceDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llp_trace_batch_duration_seconds",
			Help:    "Time taken to trace one production sample",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	// Cache metrics
	CacheLookups = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llp_cache_lookups_total",
			Help: "Geometry and decay cache lookups",
		},
		[]string{"cache", "result"},
	)

	// Decay sampling metrics
	DecaysSampled = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llp_decays_sampled_total",
			Help: "Rest-frame decays drawn, split by whether two or more daughters survived",
		},
		[]string{"result"},
	)

	// Scan metrics
	ScanDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llp_scan_duration_seconds",
			Help:    "Time taken to scan the coupling grid for one mass point",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"flavour"},
	)

	DataQualityWarnings = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llp_data_quality_warnings_total",
			Help: "Rows affected by recoverable data-quality warnings",
		},
		[]string{"code"},
	)
)

// RecordRays adds n rays with the given outcome
func RecordRays(outcome string, n int) {
	if n > 0 {
		RaysTraced.WithLabelValues(outcome).Add(float64(n))
	}
}

// RecordCache records one cache lookup
func RecordCache(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordWarning adds affected rows for a warning code
func RecordWarning(code string, n int) {
	if n > 0 {
		DataQualityWarnings.WithLabelValues(code).Add(float64(n))
	}
}

// ObserveScan records a scan duration
func ObserveScan(flavour string, d time.Duration) {
	ScanDuration.WithLabelValues(flavour).Observe(d.Seconds())
}
