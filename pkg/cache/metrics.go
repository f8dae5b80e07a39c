package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks page cache hits.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagedlist_cache_hits_total",
		Help: "Total number of page cache hits",
	})

	// CacheMisses tracks page cache misses (absent or expired).
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagedlist_cache_misses_total",
		Help: "Total number of page cache misses",
	})

	// CacheErrors tracks cache operation errors.
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedlist_cache_errors_total",
		Help: "Total number of page cache operation errors",
	}, []string{"operation"}) // get, set, delete

	// NotModifiedResponses tracks 304 answers served from cache.
	NotModifiedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagedlist_cache_not_modified_total",
		Help: "Total number of 304 Not Modified responses served from cache",
	})

	// ConditionalRequestsSent tracks requests sent with validators.
	ConditionalRequestsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pagedlist_cache_conditional_requests_total",
		Help: "Total number of conditional requests sent",
	})
)
