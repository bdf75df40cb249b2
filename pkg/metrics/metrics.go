// Package metrics defines the Prometheus metric collectors used across the
// linkage service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	MatchQueriesTotal    *prometheus.CounterVec
	MatchLatency         *prometheus.HistogramVec
	MatchCandidates      *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	ReferenceRecords     *prometheus.GaugeVec
	MergedGroups         prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		MatchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_queries_total",
				Help: "Total match queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		MatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "match_latency_seconds",
				Help:    "Match query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation"},
		),
		MatchCandidates: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "match_candidates_scored",
				Help:    "Number of reference records scored per query.",
				Buckets: []float64{10, 100, 1000, 10000, 100000},
			},
			[]string{"source"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of result-cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of result-cache misses.",
			},
		),
		ReferenceRecords: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reference_records",
				Help: "Number of records loaded per reference source.",
			},
			[]string{"source"},
		),
		MergedGroups: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "merged_groups",
				Help: "Number of deduplicated groups in the merged reference space.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.MatchQueriesTotal,
		m.MatchLatency,
		m.MatchCandidates,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ReferenceRecords,
		m.MergedGroups,
	)
	return m
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
