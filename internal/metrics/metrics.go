// Package metrics exposes Prometheus collectors for the orchestration
// service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	creditsConsumedTotal       prometheus.Counter
	providerCallsTotal         *prometheus.CounterVec
	stealthFallbacksTotal      prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webscout_jobs_total",
				Help: "Total number of jobs processed, labeled by mode and status.",
			},
			[]string{"mode", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webscout_job_duration_seconds",
				Help:    "Histogram of end-to-end job durations, labeled by mode.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"mode"},
		)

		creditsConsumedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webscout_credits_consumed_total",
				Help: "Total scraping credits debited at submission.",
			},
		)

		providerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webscout_provider_calls_total",
				Help: "Total provider calls, labeled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		)

		stealthFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webscout_stealth_fallbacks_total",
				Help: "Times the basic proxy was blocked and stealth was tried.",
			},
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

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webscout_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter and records its duration.
func ObserveJob(mode, status string, duration time.Duration) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(mode, status).Inc()
	if duration > 0 {
		jobDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
	}
}

// ObserveCreditsConsumed adds to the credit counter.
func ObserveCreditsConsumed(credits int) {
	if creditsConsumedTotal == nil {
		return
	}
	if credits > 0 {
		creditsConsumedTotal.Add(float64(credits))
	}
}

// ObserveProviderCall increments the provider call counter.
func ObserveProviderCall(operation, outcome string) {
	if providerCallsTotal == nil {
		return
	}
	providerCallsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveStealthFallback counts one basic-to-stealth retry.
func ObserveStealthFallback() {
	if stealthFallbacksTotal == nil {
		return
	}
	stealthFallbacksTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}
