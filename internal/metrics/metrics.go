// Package metrics provides Prometheus instrumentation for Roost.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roost_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roost_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Command metrics.
var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roost_commands_total",
		Help: "Total number of stream commands processed.",
	}, []string{"command", "status"})

	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roost_command_duration_seconds",
		Help:    "Stream command handling duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})
)

// Session metrics.
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roost_active_sessions",
		Help: "Number of live PTY sessions.",
	})

	ActiveAttachments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roost_active_attachments",
		Help: "Number of active broker attachments.",
	})

	OutputBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roost_output_bytes_total",
		Help: "Total PTY output bytes brokered.",
	})
)

// Stream metrics.
var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roost_active_connections",
		Help: "Number of active stream connections (TCP and WebSocket).",
	})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roost_active_subscriptions",
		Help: "Number of active event subscriptions.",
	})

	ObservedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roost_observed_events_total",
		Help: "Total observed events published, by event type.",
	}, []string{"type"})

	DroppedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roost_dropped_events_total",
		Help: "Total events dropped by subscription backpressure.",
	}, []string{"reason"})
)

// Telemetry metrics.
var (
	TelemetryEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roost_telemetry_events_total",
		Help: "Total telemetry events ingested, by source.",
	}, []string{"source"})

	TelemetryDedupedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roost_telemetry_deduped_total",
		Help: "Total telemetry events dropped as duplicates.",
	})

	NotifyEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roost_notify_events_total",
		Help: "Total notify events decoded, by kind.",
	}, []string{"kind"})
)

// WebSocket metrics.
var (
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roost_ws_connections_active",
		Help: "Number of active WebSocket bridge connections.",
	})

	WSMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roost_ws_messages_total",
		Help: "Total number of WebSocket messages sent.",
	})
)
