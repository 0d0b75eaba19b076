// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlJobsTotal             *prometheus.CounterVec
	crawlFailuresTotal         *prometheus.CounterVec
	crawlDurationSeconds       prometheus.Histogram
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBackoffSeconds        prometheus.Histogram
	importSessionsTotal        *prometheus.CounterVec
	importItemsTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_jobs_total",
				Help: "Total number of crawl jobs processed, labeled by resulting status.",
			},
			[]string{"status"},
		)

		crawlFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_failures_total",
				Help: "Total number of crawl failures, labeled by pipeline step.",
			},
			[]string{"step"},
		)

		crawlDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawl_duration_seconds",
				Help:    "Histogram of end-to-end crawl durations per job.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_attempts_total",
				Help: "Total number of upstream fetch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchBackoffSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fetch_backoff_seconds",
				Help:    "Histogram of backoff waits between fetch attempts.",
				Buckets: []float64{1, 5, 10, 30, 60, 120},
			},
		)

		importSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "import_sessions_total",
				Help: "Total number of bulk import sessions, labeled by result.",
			},
			[]string{"result"},
		)

		importItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "import_items_total",
				Help: "Total number of items seen by import sessions, labeled by disposition.",
			},
			[]string{"disposition"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCrawl records one finished crawl job.
func ObserveCrawl(status string, duration time.Duration) {
	crawlJobsTotal.WithLabelValues(status).Inc()
	crawlDurationSeconds.Observe(duration.Seconds())
}

// ObserveCrawlFailure increments the failure counter for the given step.
func ObserveCrawlFailure(step string) {
	crawlFailuresTotal.WithLabelValues(step).Inc()
}

// ObserveFetchAttempt increments the fetch attempt counter for the given outcome.
func ObserveFetchAttempt(outcome string) {
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchBackoff records the duration of a backoff wait.
func ObserveFetchBackoff(duration time.Duration) {
	fetchBackoffSeconds.Observe(duration.Seconds())
}

// ObserveImportSession increments the session counter for the given result.
func ObserveImportSession(result string) {
	importSessionsTotal.WithLabelValues(result).Inc()
}

// ObserveImportItems adds to the item counter for the given disposition.
func ObserveImportItems(disposition string, n int) {
	if n <= 0 {
		return
	}
	importItemsTotal.WithLabelValues(disposition).Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
