// Package metrics exposes Prometheus collectors for the scraper service.
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
	scraperJobsTotal           *prometheus.CounterVec
	scraperJobDurationSeconds  *prometheus.HistogramVec
	scraperItemsSavedTotal     *prometheus.CounterVec
	scraperRetriesTotal        *prometheus.CounterVec
	scraperActiveWorkers       prometheus.Gauge
	scraperFetchBytesTotal     *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of scrape jobs finished, labeled by target type and status.",
			},
			[]string{"target_type", "status"},
		)

		scraperJobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_job_duration_seconds",
				Help:    "Histogram of job execution time, labeled by target type.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"target_type"},
		)

		scraperItemsSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_items_saved_total",
				Help: "Total number of catalog records written, labeled by entity.",
			},
			[]string{"entity"},
		)

		scraperRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_retries_total",
				Help: "Total number of retry attempts scheduled, labeled by target type.",
			},
			[]string{"target_type"},
		)

		scraperActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of workers currently executing a job.",
			},
		)

		scraperFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by target type.",
			},
			[]string{"target_type"},
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

// ObserveJob records one finished job execution.
func ObserveJob(targetType, status string, duration time.Duration) {
	scraperJobsTotal.WithLabelValues(targetType, status).Inc()
	scraperJobDurationSeconds.WithLabelValues(targetType).Observe(duration.Seconds())
}

// ObserveItemsSaved adds to the saved-record counter for an entity.
func ObserveItemsSaved(entity string, count int) {
	if count > 0 {
		scraperItemsSavedTotal.WithLabelValues(entity).Add(float64(count))
	}
}

// ObserveRetry increments the retry counter for a target type.
func ObserveRetry(targetType string) {
	scraperRetriesTotal.WithLabelValues(targetType).Inc()
}

// ObserveFetch adds to the fetched-bytes counter.
func ObserveFetch(targetType string, bytesFetched int) {
	if bytesFetched > 0 {
		scraperFetchBytesTotal.WithLabelValues(targetType).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	scraperActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	scraperActiveWorkers.Dec()
}
