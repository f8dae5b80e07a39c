package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for collection operations.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedlist_fetches_total",
		Help: "Total page fetches by collection, operation and outcome",
	}, []string{"collection", "op", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagedlist_fetch_duration_seconds",
		Help:    "Page fetch duration in seconds by collection and operation",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"collection", "op"})

	rejectedCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedlist_rejected_calls_total",
		Help: "Operations refused by the re-entrancy guard",
	}, []string{"collection", "op"})

	staleResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedlist_stale_results_total",
		Help: "Fetch results discarded because a newer generation superseded them",
	}, []string{"collection", "op"})

	duplicatesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedlist_duplicates_dropped_total",
		Help: "Fetched items dropped because their id was already present",
	}, []string{"collection"})

	exhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagedlist_exhausted_total",
		Help: "Times a collection stopped paginating, by reason",
	}, []string{"collection", "reason"}) // short_page, empty_page, duplicate_page, error

	itemsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pagedlist_items",
		Help: "Items currently held by a collection",
	}, []string{"collection"})
)

// Exhaustion reasons.
const (
	reasonShortPage     = "short_page"
	reasonEmptyPage     = "empty_page"
	reasonDuplicatePage = "duplicate_page"
	reasonError         = "error"
)
