// Package metrics exposes Prometheus collectors for the scraping engine.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal        *prometheus.CounterVec
	fetchFailuresTotal        *prometheus.CounterVec
	identityBlacklistsTotal   *prometheus.CounterVec
	identityPoolExhausted     prometheus.Counter
	recordsTotal              *prometheus.CounterVec
	dispatchSendsTotal        *prometheus.CounterVec
	dispatchDelaySeconds      prometheus.Histogram
	cycleDurationSeconds      prometheus.Histogram
	feedFallbacksTotal        prometheus.Counter
	rateLimitDelaySeconds     *prometheus.HistogramVec
	inFlightFetches           prometheus.Gauge
	cyclesTotal               *prometheus.CounterVec
	sinkConsecutiveFailureMax prometheus.Gauge

	once sync.Once
)

func init() {
	Init()
}

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobpulse_fetch_attempts_total",
				Help: "Total number of fetch attempts, labeled by domain.",
			},
			[]string{"domain"},
		)

		fetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobpulse_fetch_failures_total",
				Help: "Total number of terminal fetch failures, labeled by domain and error kind.",
			},
			[]string{"domain", "kind"},
		)

		identityBlacklistsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobpulse_identity_blacklists_total",
				Help: "Total identity blacklist events, labeled by scope (domain or global).",
			},
			[]string{"scope"},
		)

		identityPoolExhausted = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobpulse_identity_pool_exhausted_total",
				Help: "Total acquisitions that found no eligible identity.",
			},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobpulse_records_total",
				Help: "Total records processed, labeled by source and disposition (novel, duplicate).",
			},
			[]string{"source", "disposition"},
		)

		dispatchSendsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobpulse_dispatch_sends_total",
				Help: "Total sink send attempts, labeled by result.",
			},
			[]string{"result"},
		)

		dispatchDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jobpulse_dispatch_delay_seconds",
				Help:    "Histogram of inter-send throttle delays.",
				Buckets: []float64{0.5, 1, 2, 3, 5, 8},
			},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jobpulse_cycle_duration_seconds",
				Help:    "Histogram of orchestration cycle wall-clock durations.",
				Buckets: []float64{1, 5, 15, 60, 180, 600, 1800},
			},
		)

		feedFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobpulse_feed_fallbacks_total",
				Help: "Total scheduler escalations to the secondary target tier.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobpulse_rate_limit_delay_seconds",
				Help:    "Histogram of per-domain politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		inFlightFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobpulse_in_flight_fetches",
				Help: "Number of fetches currently in flight.",
			},
		)

		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobpulse_cycles_total",
				Help: "Total orchestration cycles, labeled by final state.",
			},
			[]string{"state"},
		)

		sinkConsecutiveFailureMax = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobpulse_sink_consecutive_failures",
				Help: "Highest consecutive sink failure streak seen in the last cycle.",
			},
		)
	})
}

// SanitizeDomain extracts a lowercase hostname from a raw URL.
// It returns "unknown" if the URL is invalid.
func SanitizeDomain(rawURL string) string {
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

// ObserveFetchAttempt increments the attempt counter for a domain.
// The label is sanitized to a bare hostname to bound cardinality.
func ObserveFetchAttempt(domain string) {
	fetchAttemptsTotal.WithLabelValues(SanitizeDomain(domain)).Inc()
}

// ObserveFetchFailure records a terminal fetch failure by kind.
func ObserveFetchFailure(domain, kind string) {
	fetchFailuresTotal.WithLabelValues(SanitizeDomain(domain), kind).Inc()
}

// ObserveBlacklist records an identity blacklist event.
func ObserveBlacklist(scope string) {
	identityBlacklistsTotal.WithLabelValues(scope).Inc()
}

// ObservePoolExhausted records an acquisition with no eligible identity.
func ObservePoolExhausted() {
	identityPoolExhausted.Inc()
}

// ObserveRecord counts one record as novel or duplicate for a source.
func ObserveRecord(source, disposition string) {
	recordsTotal.WithLabelValues(source, disposition).Inc()
}

// ObserveDispatchSend counts a sink send attempt result ("ok" or "error").
func ObserveDispatchSend(result string) {
	dispatchSendsTotal.WithLabelValues(result).Inc()
}

// ObserveDispatchDelay records an inter-send throttle delay.
func ObserveDispatchDelay(d time.Duration) {
	dispatchDelaySeconds.Observe(d.Seconds())
}

// ObserveCycle records a completed cycle's state and duration.
func ObserveCycle(state string, d time.Duration) {
	cyclesTotal.WithLabelValues(state).Inc()
	cycleDurationSeconds.Observe(d.Seconds())
}

// ObserveFeedFallback counts a tier escalation.
func ObserveFeedFallback() {
	feedFallbacksTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(SanitizeDomain(domain)).Observe(d.Seconds())
}

// IncInFlight increments the in-flight fetch gauge.
func IncInFlight() {
	inFlightFetches.Inc()
}

// DecInFlight decrements the in-flight fetch gauge.
func DecInFlight() {
	inFlightFetches.Dec()
}

// SetSinkFailureStreak records the worst sink failure streak of a cycle.
func SetSinkFailureStreak(n int) {
	sinkConsecutiveFailureMax.Set(float64(n))
}
