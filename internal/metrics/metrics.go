// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecommendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfrec_recommend_requests_total",
			Help: "Recommendation requests by outcome",
		},
		[]string{"outcome"}, // "ok", "empty_profile", "no_index", "error"
	)

	RecommendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelfrec_recommend_duration_seconds",
			Help:    "Time spent scoring one recommendation request",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	RecommendResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelfrec_recommend_results",
			Help:    "Number of results returned per recommendation request",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
	)

	RefreshRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfrec_refresh_runs_total",
			Help: "Catalog refresh and index rebuild runs by status",
		},
		[]string{"kind", "status"},
	)

	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelfrec_refresh_duration_seconds",
			Help:    "Duration of refresh runs",
			Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"kind"},
	)

	IndexEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfrec_index_entries",
			Help: "Number of entries in the currently served feature index",
		},
	)

	CatalogBooksIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfrec_catalog_books_ingested_total",
			Help: "Catalog entries accepted by ingestion after de-duplication",
		},
	)

	CatalogFetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfrec_catalog_fetch_errors_total",
			Help: "Upstream catalog page fetches that failed",
		},
	)

	EmbedCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfrec_embed_cache_total",
			Help: "Query embedding cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)
)

// RecordRecommend records one recommendation request.
func RecordRecommend(outcome string, results int, duration time.Duration) {
	RecommendRequests.WithLabelValues(outcome).Inc()
	RecommendResults.Observe(float64(results))
	RecommendDuration.Observe(duration.Seconds())
}

// RecordRefresh records one refresh run of kind ("refresh" or "rebuild").
func RecordRefresh(kind string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	RefreshRuns.WithLabelValues(kind, status).Inc()
	RefreshDuration.WithLabelValues(kind).Observe(duration.Seconds())
}
