package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	httpRequestsTotal    *prometheus.CounterVec
	httpLatencySeconds   *prometheus.HistogramVec
	connectionsActive    prometheus.Gauge
	clientEventsTotal    *prometheus.CounterVec
	droppedFramesTotal   prometheus.Counter
	messagesSentTotal    *prometheus.CounterVec
	notificationsCreated *prometheus.CounterVec
	roomEventsTotal      *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the realtime gateway.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Number of open realtime connections.",
		})

		clientEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_client_events_total",
			Help: "Client events handled, by event name and outcome code.",
		}, []string{"event", "outcome"})

		droppedFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_dropped_frames_total",
			Help: "Frames dropped because a connection's send buffer was full or closed.",
		})

		messagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conversation_messages_sent_total",
			Help: "Messages persisted, by conversation kind.",
		}, []string{"kind"})

		notificationsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Notifications persisted, by type.",
		}, []string{"type"})

		roomEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_room_events_total",
			Help: "Voice room state changes and signals, by event.",
		}, []string{"event"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			connectionsActive,
			clientEventsTotal,
			droppedFramesTotal,
			messagesSentTotal,
			notificationsCreated,
			roomEventsTotal,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// ConnectionsActive exposes the open connection gauge.
func ConnectionsActive() prometheus.Gauge {
	RegisterMetrics()
	return connectionsActive
}

// ClientEvents exposes the client event counter.
func ClientEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return clientEventsTotal
}

// DroppedFrames exposes the dropped frame counter.
func DroppedFrames() prometheus.Counter {
	RegisterMetrics()
	return droppedFramesTotal
}

// MessagesSent exposes the persisted message counter.
func MessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return messagesSentTotal
}

// NotificationsCreated exposes the notification counter.
func NotificationsCreated() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsCreated
}

// RoomEvents exposes the voice room event counter.
func RoomEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return roomEventsTotal
}
