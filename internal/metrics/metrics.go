package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defilens",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "defilens",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "defilens",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Query / cache metrics ──────────────────────────────────────────────

var (
	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defilens",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Result cache lookups by outcome (hit, miss).",
	}, []string{"outcome"})

	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "defilens",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Number of entries held by the result cache, stale ones included.",
	})

	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defilens",
		Subsystem: "query",
		Name:      "total",
		Help:      "Answered queries by kind and status.",
	}, []string{"kind", "status"})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "defilens",
		Subsystem: "query",
		Name:      "duration_seconds",
		Help:      "Duration of uncached query computation in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})
)

// ── Upstream metrics ───────────────────────────────────────────────────

var (
	UpstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defilens",
		Subsystem: "upstream",
		Name:      "errors_total",
		Help:      "Failed upstream calls per source.",
	}, []string{"source"})

	SynthesizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defilens",
		Subsystem: "upstream",
		Name:      "synthesized_total",
		Help:      "Substitute values produced because an upstream was unavailable.",
	}, []string{"field"})

	AdvisoryFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defilens",
		Subsystem: "advisory",
		Name:      "failures_total",
		Help:      "Advisory calls that failed and fell back.",
	}, []string{"operation"})
)

// ── Monitoring / alert metrics ─────────────────────────────────────────

var (
	MonitorTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "defilens",
		Subsystem: "monitor",
		Name:      "ticks_total",
		Help:      "Monitoring loop ticks executed.",
	})

	MonitoredAddresses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "defilens",
		Subsystem: "monitor",
		Name:      "addresses",
		Help:      "Number of addresses in the active monitoring session.",
	})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defilens",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events published on the in-process bus per topic.",
	}, []string{"topic"})

	AlertsFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defilens",
		Subsystem: "alerts",
		Name:      "fired_total",
		Help:      "Alerts fired by type and severity.",
	}, []string{"type", "severity"})

	AlertRules = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "defilens",
		Subsystem: "alerts",
		Name:      "rules",
		Help:      "Number of registered alert rules.",
	})

	RelayFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defilens",
		Subsystem: "relay",
		Name:      "failures_total",
		Help:      "Events that could not be relayed to Redis.",
	}, []string{"topic"})
)
