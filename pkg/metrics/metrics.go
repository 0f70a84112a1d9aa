package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the call service
type Metrics struct {
	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec

	// Call Metrics
	callsTotal    *prometheus.CounterVec
	callsActive   prometheus.Gauge
	callsDuration prometheus.Histogram

	// Media Metrics
	routersActive      prometheus.Gauge
	producersCreated   *prometheus.CounterVec
	consumersCreated   *prometheus.CounterVec
	transportsCreated  *prometheus.CounterVec
	mediaErrorsTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),
		websocketConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active WebSocket signaling connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket messages",
				ConstLabels: labels,
			},
			[]string{"event", "direction"},
		),
		websocketErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of WebSocket errors",
				ConstLabels: labels,
			},
			[]string{"event"},
		),
		callsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of calls",
				ConstLabels: labels,
			},
			[]string{"type", "status"},
		),
		callsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of active calls",
				ConstLabels: labels,
			},
		),
		callsDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "calls_duration_seconds",
				Help:        "Completed call duration in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 180, 600, 1800, 3600},
			},
		),
		routersActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "media_routers_active",
				Help:        "Number of live media routers",
				ConstLabels: labels,
			},
		),
		producersCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "media_producers_created_total",
				Help:        "Total number of producers created",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		consumersCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "media_consumers_created_total",
				Help:        "Total number of consumers created",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		transportsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "media_transports_created_total",
				Help:        "Total number of WebRTC transports created",
				ConstLabels: labels,
			},
			[]string{"direction"},
		),
		mediaErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "media_errors_total",
				Help:        "Total number of media engine errors",
				ConstLabels: labels,
			},
			[]string{"operation"},
		),
	}
}

// RecordHTTPRequest records metrics for a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight request gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight request gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// WebSocketConnected increments the active connection gauge
func (m *Metrics) WebSocketConnected() {
	m.websocketConnections.Inc()
}

// WebSocketDisconnected decrements the active connection gauge
func (m *Metrics) WebSocketDisconnected() {
	m.websocketConnections.Dec()
}

// RecordWebSocketMessage records a WebSocket message by event and direction
func (m *Metrics) RecordWebSocketMessage(event, direction string) {
	m.websocketMessagesTotal.WithLabelValues(event, direction).Inc()
}

// RecordWebSocketError records a failed WebSocket operation
func (m *Metrics) RecordWebSocketError(event string) {
	m.websocketErrorsTotal.WithLabelValues(event).Inc()
}

// CallStarted records a new call
func (m *Metrics) CallStarted(callType string) {
	m.callsTotal.WithLabelValues(callType, "started").Inc()
	m.callsActive.Inc()
}

// CallFinished records a terminated call with its final status and duration
func (m *Metrics) CallFinished(callType, status string, duration time.Duration) {
	m.callsTotal.WithLabelValues(callType, status).Inc()
	m.callsActive.Dec()
	m.callsDuration.Observe(duration.Seconds())
}

// RouterCreated increments the live router gauge
func (m *Metrics) RouterCreated() {
	m.routersActive.Inc()
}

// RouterClosed decrements the live router gauge
func (m *Metrics) RouterClosed() {
	m.routersActive.Dec()
}

// ProducerCreated records a created producer
func (m *Metrics) ProducerCreated(kind string) {
	m.producersCreated.WithLabelValues(kind).Inc()
}

// ConsumerCreated records a created consumer
func (m *Metrics) ConsumerCreated(kind string) {
	m.consumersCreated.WithLabelValues(kind).Inc()
}

// TransportCreated records a created transport
func (m *Metrics) TransportCreated(direction string) {
	m.transportsCreated.WithLabelValues(direction).Inc()
}

// RecordMediaError records a failed media engine operation
func (m *Metrics) RecordMediaError(operation string) {
	m.mediaErrorsTotal.WithLabelValues(operation).Inc()
}
