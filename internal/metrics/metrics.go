// Package metrics provides Prometheus metrics for the revision engine
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ChainOperationsTotal   *prometheus.CounterVec
	ChainOperationDuration *prometheus.HistogramVec
	IntegrityViolations    prometheus.Counter

	TemporalLookupsTotal *prometheus.CounterVec
	LatestResultsTotal   prometheus.Counter

	CheckpointCacheHits   prometheus.Counter
	CheckpointCacheMisses prometheus.Counter

	MetadataWritesTotal  prometheus.Counter
	MetadataWritesReused prometheus.Counter
}

// New creates all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.ChainOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpoint_chain_operations_total",
			Help: "Total number of revision chain mutations",
		},
		[]string{"operation", "status"},
	)

	m.ChainOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checkpoint_chain_operation_duration_seconds",
			Help:    "Duration of revision chain mutations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	m.IntegrityViolations = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "checkpoint_chain_integrity_violations_total",
			Help: "Total number of aborted mutations caused by chain integrity violations",
		},
	)

	m.TemporalLookupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpoint_temporal_lookups_total",
			Help: "Total number of latest-revision lookups by bound kind",
		},
		[]string{"until", "since"},
	)

	m.LatestResultsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "checkpoint_latest_results_total",
			Help: "Total number of revision ids returned by latest-revision lookups",
		},
	)

	m.CheckpointCacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "checkpoint_partition_cache_hits_total",
			Help: "Checkpoint partition cache hits",
		},
	)

	m.CheckpointCacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "checkpoint_partition_cache_misses_total",
			Help: "Checkpoint partition cache misses",
		},
	)

	m.MetadataWritesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "checkpoint_metadata_writes_total",
			Help: "Total number of revision metadata writes",
		},
	)

	m.MetadataWritesReused = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "checkpoint_metadata_writes_skipped_total",
			Help: "Metadata separations that reused the stored mapping",
		},
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordChainOperation records a chain mutation
func (m *Metrics) RecordChainOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ChainOperationsTotal.WithLabelValues(operation, status).Inc()
	m.ChainOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordIntegrityViolation() {
	if m == nil {
		return
	}
	m.IntegrityViolations.Inc()
}

// RecordTemporalLookup records a latest-revision lookup and its result size
func (m *Metrics) RecordTemporalLookup(until, since string, results int) {
	if m == nil {
		return
	}
	m.TemporalLookupsTotal.WithLabelValues(until, since).Inc()
	m.LatestResultsTotal.Add(float64(results))
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CheckpointCacheHits.Inc()
		return
	}
	m.CheckpointCacheMisses.Inc()
}

func (m *Metrics) RecordMetadataWrite(reused bool) {
	if m == nil {
		return
	}
	if reused {
		m.MetadataWritesReused.Inc()
		return
	}
	m.MetadataWritesTotal.Inc()
}
