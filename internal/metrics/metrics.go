// Package metrics provides Prometheus metrics for LogTide.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "logtide"

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// Ingestion metrics
var (
	// PollCyclesTotal counts poll cycles by provider and outcome.
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "poll_cycles_total",
			Help:      "Total poll cycles by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// EntriesIngestedTotal counts log entries stored after dedup.
	EntriesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "entries_total",
			Help:      "Total log entries ingested, after deduplication",
		},
		[]string{"provider"},
	)

	// FetchDuration tracks provider fetch latency.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "fetch_duration_seconds",
			Help:      "Provider fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)

// Analysis metrics
var (
	// EntriesAnalyzedTotal counts entries that completed triage.
	EntriesAnalyzedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "entries_total",
			Help:      "Total log entries triaged",
		},
	)

	// EntriesFlaggedTotal counts entries flagged as error or anomaly.
	EntriesFlaggedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "flagged_total",
			Help:      "Total entries flagged by triage",
		},
		[]string{"kind"},
	)

	// EnrichmentFallbacksTotal counts deep-analysis calls that fell back
	// to the templated summary.
	EnrichmentFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "enrichment_fallbacks_total",
			Help:      "Deep-analysis calls that used the templated fallback",
		},
	)
)

// Alerting metrics
var (
	// AlertsTotal counts alert outcomes.
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "total",
			Help:      "Alerts by outcome (raised or suppressed)",
		},
		[]string{"outcome"},
	)
)

// Broadcast metrics
var (
	// SubscribersActive tracks live stream subscribers.
	SubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers_active",
			Help:      "Number of connected stream subscribers",
		},
	)

	// EventsDroppedTotal counts events shed under backpressure.
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "events_dropped_total",
			Help:      "Events shed under subscriber backpressure",
		},
		[]string{"type"},
	)

	// BusEventsTotal counts events published on the bus.
	BusEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_total",
			Help:      "Events published on the bus",
		},
		[]string{"type"},
	)
)
