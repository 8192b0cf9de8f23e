// file: internal/metrics/metrics.go
// version: 2.0.0
// guid: 9f8e7d6c-5b4a-3210-9fed-cba876543210

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "erpcache",
		Name:      "cache_hits_total",
		Help:      "Total number of resolves served from a valid cache entry by resource",
	}, []string{"resource"})
	cacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "erpcache",
		Name:      "cache_misses_total",
		Help:      "Total number of resolves that found no valid cache entry by resource",
	}, []string{"resource"})
	cacheExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "erpcache",
		Name:      "cache_expired_total",
		Help:      "Total number of entries purged on read because their TTL elapsed",
	})
	cacheCorrupt = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "erpcache",
		Name:      "cache_corrupt_total",
		Help:      "Total number of malformed records purged on read",
	})
	storageWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "erpcache",
		Name:      "storage_write_failures_total",
		Help:      "Total number of cache writes dropped because storage was unavailable",
	})
	fetchStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "erpcache",
		Name:      "fetches_started_total",
		Help:      "Total number of backend fetches started by resource",
	}, []string{"resource"})
	fetchFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "erpcache",
		Name:      "fetches_failed_total",
		Help:      "Total number of backend fetches that failed by resource",
	}, []string{"resource"})
	dedupJoins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "erpcache",
		Name:      "inflight_joins_total",
		Help:      "Total number of resolves that attached to an already running fetch",
	}, []string{"resource"})
	flushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "erpcache",
		Name:      "flushes_total",
		Help:      "Total number of full cache flushes by reason",
	}, []string{"reason"})
	suppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "erpcache",
		Name:      "suppressed_resolves_total",
		Help:      "Total number of resolves short-circuited while unauthenticated",
	}, []string{"resource"})

	inflightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "erpcache",
		Name:      "inflight_fetches",
		Help:      "Number of backend fetches currently in flight",
	})
)

// Register initializes metrics with the global Prometheus registry (idempotent)
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(cacheHits, cacheMisses, cacheExpired, cacheCorrupt, storageWriteFailures,
			fetchStarted, fetchFailed, dedupJoins, flushes, suppressed, inflightGauge)
	})
}

// Cache lookups
func IncCacheHit(resource string)  { cacheHits.WithLabelValues(resource).Inc() }
func IncCacheMiss(resource string) { cacheMisses.WithLabelValues(resource).Inc() }
func IncCacheExpired()             { cacheExpired.Inc() }
func IncCacheCorrupt()             { cacheCorrupt.Inc() }
func IncStorageWriteFailure()      { storageWriteFailures.Inc() }

// Fetch lifecycle helpers
func IncFetchStarted(resource string) { fetchStarted.WithLabelValues(resource).Inc() }
func IncFetchFailed(resource string)  { fetchFailed.WithLabelValues(resource).Inc() }
func IncInflightJoin(resource string) { dedupJoins.WithLabelValues(resource).Inc() }
func IncFlush(reason string)          { flushes.WithLabelValues(reason).Inc() }
func IncSuppressed(resource string)   { suppressed.WithLabelValues(resource).Inc() }

// Gauges
func SetInflight(n int) { inflightGauge.Set(float64(n)) }
