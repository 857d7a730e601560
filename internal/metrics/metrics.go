// Package metrics: prometheus-счётчики realtime-слоя, отдаются на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baatchit_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "baatchit_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method"},
	)

	// WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "baatchit_ws_connections",
			Help: "Bound websocket connections",
		},
	)

	WSEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baatchit_ws_events_total",
			Help: "Inbound websocket events by type",
		},
		[]string{"type"},
	)

	WSRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baatchit_ws_rejected_total",
			Help: "Rejected connections and events",
		},
		[]string{"reason"}, // "capacity", "rate_limit", "slow_client"
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baatchit_messages_sent_total",
			Help: "Persisted chat messages by kind",
		},
		[]string{"kind"},
	)

	// Calls
	CallTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baatchit_call_transitions_total",
			Help: "Call state transitions by target state",
		},
		[]string{"state"},
	)

	// Push
	PushJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baatchit_push_jobs_total",
			Help: "Push notification jobs by result",
		},
		[]string{"result"}, // "sent", "failed", "dropped", "gone", "panic"
	)

	PushQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "baatchit_push_queue_depth",
			Help: "Pending push jobs",
		},
	)
)
