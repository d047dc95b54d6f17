// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector holds the Prometheus instruments for the provider-search agent.
type Collector struct {
	searchesTotal      *prometheus.CounterVec
	searchDuration     prometheus.Histogram
	iterationsTotal    prometheus.Counter
	actionsTotal       *prometheus.CounterVec
	actionFailures     prometheus.Counter
	planningDuration   prometheus.Histogram
	providersExtracted prometheus.Histogram
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates a collector and registers its instruments on the
// given registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.searchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Provider searches by outcome (success, aborted, error).",
		},
		[]string{"outcome"},
	)
	c.searchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end duration of one provider search.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
	c.iterationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_iterations_total",
			Help:      "Observe/plan/act iterations across all searches.",
		},
	)
	c.actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Executed browser actions by tool.",
		},
		[]string{"tool"},
	)
	c.actionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_failures_total",
			Help:      "Iteration-level failures after inner retries were exhausted.",
		},
	)
	c.planningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "planning_duration_seconds",
			Help:      "Latency of one planning call including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)
	c.providersExtracted = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "providers_extracted",
			Help:      "Number of provider records extracted per successful search.",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		},
	)
	c.cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classification_cache_hits_total",
			Help:      "Symptom classification cache hits.",
		},
	)
	c.cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classification_cache_misses_total",
			Help:      "Symptom classification cache misses.",
		},
	)

	reg.MustRegister(
		c.searchesTotal,
		c.searchDuration,
		c.iterationsTotal,
		c.actionsTotal,
		c.actionFailures,
		c.planningDuration,
		c.providersExtracted,
		c.cacheHits,
		c.cacheMisses,
	)

	return c
}

// RecordSearch records a finished search with its outcome and duration.
func (c *Collector) RecordSearch(outcome string, duration time.Duration) {
	c.searchesTotal.WithLabelValues(outcome).Inc()
	c.searchDuration.Observe(duration.Seconds())
}

// RecordIteration counts one observe/plan/act iteration.
func (c *Collector) RecordIteration() {
	c.iterationsTotal.Inc()
}

// RecordAction counts one executed action by tool.
func (c *Collector) RecordAction(tool string) {
	c.actionsTotal.WithLabelValues(tool).Inc()
}

// RecordActionFailure counts one iteration-level failure.
func (c *Collector) RecordActionFailure() {
	c.actionFailures.Inc()
}

// RecordPlanning records the latency of one planning call.
func (c *Collector) RecordPlanning(duration time.Duration) {
	c.planningDuration.Observe(duration.Seconds())
}

// RecordExtraction records the provider count of a successful extraction.
func (c *Collector) RecordExtraction(providers int) {
	c.providersExtracted.Observe(float64(providers))
}

// RecordCacheHit counts a classification cache hit.
func (c *Collector) RecordCacheHit() {
	c.cacheHits.Inc()
}

// RecordCacheMiss counts a classification cache miss.
func (c *Collector) RecordCacheMiss() {
	c.cacheMisses.Inc()
}
