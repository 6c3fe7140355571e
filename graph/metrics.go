package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine and cache metrics.
//
// Metrics exposed (all namespaced with "nodegraph_"):
//
//   - runs_total (counter): finished runs. Labels: outcome (completed, cancelled).
//   - inflight_runs (gauge): runs currently executing.
//   - node_latency_ms (histogram): node execution duration. Labels: class, status.
//   - stream_steps_total (counter): streaming steps pulled. Labels: class.
//   - nodes_skipped_total (counter): nodes not executed. Labels: reason
//     (instantiate, cycle).
//   - edge_warnings_total (counter): edges that could not be resolved.
//   - cache_lookups_total (counter): Labels: tier (memory, disk), result (hit, miss).
//   - cache_flushes_total (counter): Labels: result (ok, error).
//   - cache_flushed_entries_total (counter): entries written to disk.
//   - cache_evictions_total (counter): Labels: tier.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine, _ := graph.New(reg, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// PrometheusMetrics also implements cache.Metrics.
type PrometheusMetrics struct {
	runs         *prometheus.CounterVec
	inflightRuns prometheus.Gauge
	nodeLatency  *prometheus.HistogramVec
	streamSteps  *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	edgeWarnings prometheus.Counter

	cacheLookups   *prometheus.CounterVec
	cacheFlushes   *prometheus.CounterVec
	cacheFlushed   prometheus.Counter
	cacheEvictions *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all metrics with registry. A
// nil registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodegraph",
		Name:      "runs_total",
		Help:      "Finished graph runs by outcome",
	}, []string{"outcome"})

	pm.inflightRuns = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "nodegraph",
		Name:      "inflight_runs",
		Help:      "Graph runs currently executing",
	})

	pm.nodeLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nodegraph",
		Name:      "node_latency_ms",
		Help:      "Node execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"class", "status"})

	pm.streamSteps = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodegraph",
		Name:      "stream_steps_total",
		Help:      "Steps pulled from streaming nodes",
	}, []string{"class"})

	pm.skipped = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodegraph",
		Name:      "nodes_skipped_total",
		Help:      "Submitted nodes that were not executed",
	}, []string{"reason"})

	pm.edgeWarnings = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "nodegraph",
		Name:      "edge_warnings_total",
		Help:      "Edges whose source or target port could not be resolved",
	})

	pm.cacheLookups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodegraph",
		Name:      "cache_lookups_total",
		Help:      "Large-object cache lookups by tier and result",
	}, []string{"tier", "result"})

	pm.cacheFlushes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodegraph",
		Name:      "cache_flushes_total",
		Help:      "Large-object cache flushes to disk by result",
	}, []string{"result"})

	pm.cacheFlushed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "nodegraph",
		Name:      "cache_flushed_entries_total",
		Help:      "Entries written to the disk store by flushes",
	})

	pm.cacheEvictions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodegraph",
		Name:      "cache_evictions_total",
		Help:      "Expired large-object cache entries removed",
	}, []string{"tier"})

	return pm
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RunStarted increments the inflight run gauge.
func (pm *PrometheusMetrics) RunStarted() {
	if !pm.on() {
		return
	}
	pm.inflightRuns.Inc()
}

// RunFinished decrements the inflight gauge and counts the run.
func (pm *PrometheusMetrics) RunFinished(cancelled bool) {
	if !pm.on() {
		return
	}
	pm.inflightRuns.Dec()
	outcome := "completed"
	if cancelled {
		outcome = "cancelled"
	}
	pm.runs.WithLabelValues(outcome).Inc()
}

// RecordNodeLatency records the execution duration of one node. status is
// the terminal node status (evaluated or error).
func (pm *PrometheusMetrics) RecordNodeLatency(class string, latency time.Duration, status Status) {
	if !pm.on() {
		return
	}
	pm.nodeLatency.WithLabelValues(class, string(status)).Observe(float64(latency.Milliseconds()))
}

// IncrementStreamSteps counts one streaming step.
func (pm *PrometheusMetrics) IncrementStreamSteps(class string) {
	if !pm.on() {
		return
	}
	pm.streamSteps.WithLabelValues(class).Inc()
}

// IncrementSkipped counts n nodes that were not executed.
func (pm *PrometheusMetrics) IncrementSkipped(reason string, n int) {
	if !pm.on() || n <= 0 {
		return
	}
	pm.skipped.WithLabelValues(reason).Add(float64(n))
}

// IncrementEdgeWarnings counts one unresolved edge.
func (pm *PrometheusMetrics) IncrementEdgeWarnings() {
	if !pm.on() {
		return
	}
	pm.edgeWarnings.Inc()
}

// RecordCacheLookup implements cache.Metrics.
func (pm *PrometheusMetrics) RecordCacheLookup(tier string, hit bool) {
	if !pm.on() {
		return
	}
	pm.cacheLookups.WithLabelValues(tier, hitLabel(hit)).Inc()
}

// RecordCacheFlush implements cache.Metrics.
func (pm *PrometheusMetrics) RecordCacheFlush(entries int, err error) {
	if !pm.on() {
		return
	}
	if err != nil {
		pm.cacheFlushes.WithLabelValues("error").Inc()
		return
	}
	pm.cacheFlushes.WithLabelValues("ok").Inc()
	pm.cacheFlushed.Add(float64(entries))
}

// RecordCacheEviction implements cache.Metrics.
func (pm *PrometheusMetrics) RecordCacheEviction(tier string, n int) {
	if !pm.on() || n <= 0 {
		return
	}
	pm.cacheEvictions.WithLabelValues(tier).Add(float64(n))
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the inflight gauge. Counters and histograms are cumulative
// and are not reset.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.inflightRuns.Set(0)
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
