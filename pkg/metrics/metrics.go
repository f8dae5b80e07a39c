// Package metrics exposes the Prometheus metrics of the pagedlist packages.
// Each metric is defined next to the code that records it (pagination,
// client, cache, ratelimit) and registered via promauto; this package
// serves them and documents the names.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Names lists every metric family defined by pagedlist.
var Names = []string{
	// pkg/pagination
	"pagedlist_fetches_total",
	"pagedlist_fetch_duration_seconds",
	"pagedlist_rejected_calls_total",
	"pagedlist_stale_results_total",
	"pagedlist_duplicates_dropped_total",
	"pagedlist_exhausted_total",
	"pagedlist_items",

	// pkg/client
	"pagedlist_api_requests_total",
	"pagedlist_api_request_duration_seconds",
	"pagedlist_api_errors_total",
	"pagedlist_api_breaker_state",
	"pagedlist_api_retries_total",
	"pagedlist_api_retry_backoff_seconds",
	"pagedlist_api_retry_exhausted_total",

	// pkg/cache
	"pagedlist_cache_hits_total",
	"pagedlist_cache_misses_total",
	"pagedlist_cache_errors_total",
	"pagedlist_cache_not_modified_total",
	"pagedlist_cache_conditional_requests_total",

	// pkg/ratelimit
	"pagedlist_api_quota_remaining",
	"pagedlist_api_quota_blocks_total",
	"pagedlist_api_quota_throttles_total",
}

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Example queries:
//
//	# Share of page fetches that failed
//	sum(rate(pagedlist_fetches_total{outcome="error"}[5m])) /
//	sum(rate(pagedlist_fetches_total[5m]))
//
//	# Why collections stop paginating
//	sum by (reason) (rate(pagedlist_exhausted_total[1h]))
//
//	# Double-scroll pressure
//	rate(pagedlist_rejected_calls_total{op="load_next"}[5m])
//
//	# 304 share of API reads
//	rate(pagedlist_cache_not_modified_total[5m]) / rate(pagedlist_api_requests_total[5m])
//
//	# P95 page latency per collection
//	histogram_quantile(0.95, sum by (le, collection) (rate(pagedlist_fetch_duration_seconds_bucket[5m])))
