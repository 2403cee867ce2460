// Package metrics exposes Prometheus collectors for the popup crawler.
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
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	fetchBytesTotal            prometheus.Counter
	rateLimitWaitSeconds       prometheus.Histogram
	localeOutcomesTotal        *prometheus.CounterVec
	recordOutcomesTotal        *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "popup_fetch_attempts_total",
				Help: "Total number of HTTP fetch attempts, labeled by status class.",
			},
			[]string{"class"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "popup_fetch_retries_total",
				Help: "Total number of fetch retries, labeled by reason.",
			},
			[]string{"reason"},
		)

		fetchBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "popup_fetch_bytes_total",
				Help: "Total number of body bytes fetched.",
			},
		)

		rateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "popup_rate_limit_wait_seconds",
				Help:    "Histogram of time spent waiting on the global rate limiter.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
		)

		localeOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "popup_locale_outcomes_total",
				Help: "Per-locale detail fetch outcomes.",
			},
			[]string{"locale", "outcome"},
		)

		recordOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "popup_record_outcomes_total",
				Help: "Per-ID pipeline outcomes (saved, skipped, failed).",
			},
			[]string{"outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "popup_active_workers",
				Help: "Number of workers currently processing an ID.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
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

// StatusClass buckets an HTTP status code ("2xx", "3xx", ...). Zero maps to "error".
func StatusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// ObserveFetchAttempt records one fetch attempt and the body size it returned.
func ObserveFetchAttempt(code int, bytesFetched int) {
	Init()
	fetchAttemptsTotal.WithLabelValues(StatusClass(code)).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveRetry records a retry sleep, labeled "backoff" or "retry_after".
func ObserveRetry(reason string) {
	Init()
	fetchRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveRateLimitWait records the duration of a rate limiter wait.
func ObserveRateLimitWait(duration time.Duration) {
	Init()
	rateLimitWaitSeconds.Observe(duration.Seconds())
}

// ObserveLocale records a per-locale outcome ("ok", "no_data", "failed").
func ObserveLocale(locale, outcome string) {
	Init()
	localeOutcomesTotal.WithLabelValues(locale, outcome).Inc()
}

// ObserveRecord records a per-ID outcome.
func ObserveRecord(outcome string) {
	Init()
	recordOutcomesTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
