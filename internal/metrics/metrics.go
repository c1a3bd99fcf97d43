// Package metrics exposes Prometheus collectors for the trial crawler.
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
	crawlerListingPagesTotal    *prometheus.CounterVec
	crawlerCandidatesTotal      *prometheus.CounterVec
	crawlerRecordsTotal         *prometheus.CounterVec
	crawlerFieldDefaultsTotal   *prometheus.CounterVec
	crawlerExtractSeconds       prometheus.Histogram
	crawlerFlushesTotal         *prometheus.CounterVec
	crawlerFlushedRows          prometheus.Gauge
	crawlerMirrorFailuresTotal  *prometheus.CounterVec
	crawlerSessionRestartsTotal prometheus.Counter
	crawlerActiveWorkers        prometheus.Gauge
	crawlerNavigationDelay      *prometheus.HistogramVec
	pubmedRequestsTotal         *prometheus.CounterVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerListingPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialcrawler_listing_pages_total",
				Help: "Listing pages visited, labeled by query and outcome.",
			},
			[]string{"query", "outcome"},
		)

		crawlerCandidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialcrawler_candidates_total",
				Help: "Candidate detail URLs discovered on listing pages, labeled by query.",
			},
			[]string{"query"},
		)

		crawlerRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialcrawler_records_total",
				Help: "Trial records extracted, labeled by query and status.",
			},
			[]string{"query", "status"},
		)

		crawlerFieldDefaultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialcrawler_field_defaults_total",
				Help: "Extracted records that fell back to a default value, labeled by field.",
			},
			[]string{"field"},
		)

		crawlerExtractSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trialcrawler_extract_duration_seconds",
				Help:    "Histogram of detail page extraction latency.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45},
			},
		)

		crawlerFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialcrawler_flushes_total",
				Help: "Persistence flushes, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerFlushedRows = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "trialcrawler_flushed_rows",
				Help: "Rows written by the most recent successful flush.",
			},
		)

		crawlerMirrorFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialcrawler_mirror_failures_total",
				Help: "Export mirror failures, labeled by mirror name.",
			},
			[]string{"mirror"},
		)

		crawlerSessionRestartsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "trialcrawler_session_restarts_total",
				Help: "Browser sessions replaced after a failed liveness probe.",
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "trialcrawler_active_workers",
				Help: "Number of workers currently crawling a query.",
			},
		)

		crawlerNavigationDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trialcrawler_navigation_delay_seconds",
				Help:    "Time spent waiting for the per-host navigation rate limit.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)

		pubmedRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trialcrawler_pubmed_requests_total",
				Help: "PubMed count lookups, labeled by outcome.",
			},
			[]string{"outcome"},
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
	Init()
	return promhttp.Handler()
}

// ObserveListingPage records the outcome of one listing page visit.
func ObserveListingPage(query, outcome string, candidates int) {
	Init()
	crawlerListingPagesTotal.WithLabelValues(query, outcome).Inc()
	if candidates > 0 {
		crawlerCandidatesTotal.WithLabelValues(query).Add(float64(candidates))
	}
}

// ObserveRecord records an extracted trial and the fields that were defaulted.
func ObserveRecord(query, status string, defaulted []string, duration time.Duration) {
	Init()
	crawlerRecordsTotal.WithLabelValues(query, status).Inc()
	for _, field := range defaulted {
		crawlerFieldDefaultsTotal.WithLabelValues(field).Inc()
	}
	crawlerExtractSeconds.Observe(duration.Seconds())
}

// ObserveFlush records a persistence flush result.
func ObserveFlush(ok bool, rows int) {
	Init()
	if !ok {
		crawlerFlushesTotal.WithLabelValues("error").Inc()
		return
	}
	crawlerFlushesTotal.WithLabelValues("ok").Inc()
	crawlerFlushedRows.Set(float64(rows))
}

// ObserveMirrorFailure increments the failure counter for an export mirror.
func ObserveMirrorFailure(mirror string) {
	Init()
	crawlerMirrorFailuresTotal.WithLabelValues(mirror).Inc()
}

// ObserveSessionRestart increments the browser restart counter.
func ObserveSessionRestart() {
	Init()
	crawlerSessionRestartsTotal.Inc()
}

// ObserveNavigationDelay records time spent blocked by the navigation limiter.
func ObserveNavigationDelay(host string, d time.Duration) {
	Init()
	crawlerNavigationDelay.WithLabelValues(host).Observe(d.Seconds())
}

// ObservePubMedRequest records a publication count lookup outcome.
func ObservePubMedRequest(outcome string) {
	Init()
	pubmedRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}
