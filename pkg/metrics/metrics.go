// Copyright 2024-2026 Aiku AI

// Package metrics exposes the bot's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mmbot_frames_received_total",
		Help: "Total number of WebSocket frames read from the server.",
	})

	FramesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mmbot_frames_rejected_total",
		Help: "Total number of frames that did not yield an event, labelled by reason.",
	}, []string{"reason"})

	EventsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mmbot_events_suppressed_total",
		Help: "Total number of posted events dropped before routing, labelled by reason.",
	}, []string{"reason"})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mmbot_deliveries_total",
		Help: "Total number of event deliveries to root routers, labelled by router and status.",
	}, []string{"router", "status"})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mmbot_reconnects_total",
		Help: "Total number of connection failures followed by a retry, labelled by category.",
	}, []string{"category"})

	BackoffSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mmbot_backoff_seconds",
		Help: "Current reconnect delay in seconds.",
	})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mmbot_dispatch_duration_ms",
		Help:    "Event dispatch latency in milliseconds, labelled by event type.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"event_type"})
)
