// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks local bridge request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_request_duration_seconds",
			Help:    "Local bridge HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total local bridge requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_requests_total",
			Help: "Total local bridge HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// OptimisticWritesTotal counts optimistic mutations by action and channel.
	OptimisticWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_optimistic_writes_total",
			Help: "Optimistic cache mutations issued",
		},
		[]string{"action", "channel"},
	)

	// ReconcileTotal counts how inbound message records were resolved.
	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_reconcile_total",
			Help: "Message reconciliations by resolution path",
		},
		[]string{"outcome"},
	)

	// PushEventsTotal counts inbound push events.
	PushEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_push_events_total",
			Help: "Inbound push events by name and result",
		},
		[]string{"event", "result"},
	)

	// SendFailuresTotal counts reverted optimistic sends.
	SendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_send_failures_total",
			Help: "Optimistic sends reverted",
		},
		[]string{"reason"},
	)

	// PendingSends tracks sends awaiting confirmation.
	PendingSends = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_pending_sends",
			Help: "Optimistic sends awaiting confirmation",
		},
	)

	// SendConfirmDuration tracks time from optimistic insert to confirmation.
	SendConfirmDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_send_confirm_duration_seconds",
			Help:    "Time from optimistic send to confirmation",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 4, 8},
		},
	)

	// PageFetchesTotal counts older-page fetches.
	PageFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_page_fetches_total",
			Help: "Older page fetches by result",
		},
		[]string{"result"},
	)

	// TransportReconnectsTotal counts NATS reconnects.
	TransportReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_transport_reconnects_total",
			Help: "Push transport reconnects",
		},
	)

	// TransportConnected is 1 while the push transport is connected.
	TransportConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_transport_connected",
			Help: "Push transport connection state",
		},
	)

	// SSEConnectionsActive tracks active bridge SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for a bridge HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordOptimistic records one optimistic write.
func RecordOptimistic(action, channel string) {
	OptimisticWritesTotal.WithLabelValues(action, channel).Inc()
}

// RecordReconcile records one message resolution.
func RecordReconcile(outcome string) {
	ReconcileTotal.WithLabelValues(outcome).Inc()
}

// RecordPushEvent records one inbound push event.
func RecordPushEvent(event, result string) {
	PushEventsTotal.WithLabelValues(event, result).Inc()
}

// RecordSendFailure records a reverted send.
func RecordSendFailure(reason string) {
	SendFailuresTotal.WithLabelValues(reason).Inc()
}

// SetTransportConnected updates the connection gauge.
func SetTransportConnected(connected bool) {
	if connected {
		TransportConnected.Set(1)
		return
	}
	TransportConnected.Set(0)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
