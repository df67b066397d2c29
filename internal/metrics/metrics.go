// Package metrics exposes Prometheus collectors for the cache and
// pipeline. Served on /metrics by the server binaries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts submit/lookup requests answered from the cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "image_cache_hits_total",
		Help: "Number of requests served from the cache.",
	})

	// CacheMisses counts requests that had to go past the cache.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "image_cache_misses_total",
		Help: "Number of requests not served from the cache.",
	})

	// LockContention counts lock acquisition attempts that found the
	// lock held by another worker.
	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "image_cache_lock_contention_total",
		Help: "Number of lock acquisition attempts that found the lock busy.",
	})

	// PipelineRuns counts pipeline completions by outcome.
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "image_pipeline_runs_total",
		Help: "Number of processing pipeline runs by outcome.",
	}, []string{"outcome"})

	// PipelineDuration observes wall-clock pipeline run time.
	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "image_pipeline_duration_seconds",
		Help:    "Processing pipeline run duration in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// DispatchRejected counts async jobs rejected because the worker
	// queue was full.
	DispatchRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "image_dispatch_rejected_total",
		Help: "Number of async jobs rejected due to a full queue.",
	})
)
