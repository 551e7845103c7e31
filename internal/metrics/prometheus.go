package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the speech session engine
type Metrics struct {
	// Connection metrics
	ConnectionsOpened  *prometheus.CounterVec
	ConnectionRetries  prometheus.Counter
	ConnectionDuration prometheus.Histogram
	ActiveConnections  prometheus.Gauge
	ConnectionEvents   *prometheus.CounterVec

	// Message metrics
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec

	// Audio metrics
	AudioBytesSent      prometheus.Counter
	AudioChunksReplayed prometheus.Counter
	ReplayRetainedBytes prometheus.Gauge

	// Turn and result metrics
	TurnsStarted       prometheus.Counter
	TurnsReentrant     prometheus.Counter
	TurnDuration       prometheus.Histogram
	Results            *prometheus.CounterVec
	Cancellations      *prometheus.CounterVec
	FirstHypothesis    prometheus.Histogram
	ActiveRecognitions prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speech_connections_opened_total",
			Help: "Total number of connection handshakes by status code",
		}, []string{"status_code"}),
		ConnectionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "speech_connection_retries_total",
			Help: "Total number of reconnect attempts",
		}),
		ConnectionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speech_connection_events_total",
			Help: "Total number of transport events by type",
		}, []string{"type"}),
		ConnectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "speech_connection_duration_seconds",
			Help:    "Lifetime of service connections",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "speech_active_connections",
			Help: "Current number of open service connections",
		}),

		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speech_messages_sent_total",
			Help: "Total number of messages sent by path",
		}, []string{"path"}),
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speech_messages_received_total",
			Help: "Total number of messages received by path",
		}, []string{"path"}),

		AudioBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "speech_audio_bytes_sent_total",
			Help: "Total number of audio bytes sent",
		}),
		AudioChunksReplayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "speech_audio_chunks_replayed_total",
			Help: "Total number of audio chunks resent after a reconnect or turn",
		}),
		ReplayRetainedBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "speech_replay_retained_bytes",
			Help: "Unacknowledged audio currently retained for replay",
		}),

		TurnsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "speech_turns_started_total",
			Help: "Total number of service turns started",
		}),
		TurnsReentrant: factory.NewCounter(prometheus.CounterOpts{
			Name: "speech_turns_reentrant_total",
			Help: "Total number of turns started before the previous turn ended",
		}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "speech_turn_duration_seconds",
			Help:    "Duration of service turns",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),
		Results: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speech_results_total",
			Help: "Total number of final results by reason",
		}, []string{"reason"}),
		Cancellations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speech_cancellations_total",
			Help: "Total number of cancellations by error code",
		}, []string{"code"}),
		FirstHypothesis: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "speech_first_hypothesis_latency_seconds",
			Help:    "Time from connection to the first hypothesis of a turn",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		ActiveRecognitions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "speech_active_recognitions",
			Help: "Current number of running recognitions",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speech_http_requests_total",
			Help: "Total number of status API requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speech_http_request_duration_seconds",
			Help:    "Duration of status API requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordConnectionOpened counts a handshake outcome and tracks open connections
func (m *Metrics) RecordConnectionOpened(statusCode int) {
	m.ConnectionsOpened.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	if statusCode == 200 {
		m.ActiveConnections.Inc()
	}
}

// RecordConnectionClosed records the lifetime of an established connection
func (m *Metrics) RecordConnectionClosed(lifetime time.Duration) {
	m.ActiveConnections.Dec()
	m.ConnectionDuration.Observe(lifetime.Seconds())
}

// RecordConnectionEvent counts one transport event
func (m *Metrics) RecordConnectionEvent(eventType string) {
	m.ConnectionEvents.WithLabelValues(eventType).Inc()
}

// RecordRetry increments the reconnect counter
func (m *Metrics) RecordRetry() {
	m.ConnectionRetries.Inc()
}

// RecordMessageSent counts an outbound message and its audio payload
func (m *Metrics) RecordMessageSent(path string, audioBytes int) {
	m.MessagesSent.WithLabelValues(path).Inc()
	if audioBytes > 0 {
		m.AudioBytesSent.Add(float64(audioBytes))
	}
}

// RecordMessageReceived counts an inbound message
func (m *Metrics) RecordMessageReceived(path string) {
	m.MessagesReceived.WithLabelValues(path).Inc()
}

// RecordReplay records replayed chunks and the bytes still retained
func (m *Metrics) RecordReplay(replayedChunks int, retainedBytes int64) {
	if replayedChunks > 0 {
		m.AudioChunksReplayed.Add(float64(replayedChunks))
	}
	m.ReplayRetainedBytes.Set(float64(retainedBytes))
}

// RecordTurnStarted counts a turn start
func (m *Metrics) RecordTurnStarted(reentrant bool) {
	m.TurnsStarted.Inc()
	if reentrant {
		m.TurnsReentrant.Inc()
	}
}

// RecordTurnEnded records the duration of a turn
func (m *Metrics) RecordTurnEnded(d time.Duration) {
	m.TurnDuration.Observe(d.Seconds())
}

// RecordResult counts a final result by reason
func (m *Metrics) RecordResult(reason string) {
	m.Results.WithLabelValues(reason).Inc()
}

// RecordCancellation counts a cancellation by error code
func (m *Metrics) RecordCancellation(code string) {
	m.Cancellations.WithLabelValues(code).Inc()
}

// RecordFirstHypothesis records first-hypothesis latency
func (m *Metrics) RecordFirstHypothesis(latency time.Duration) {
	m.FirstHypothesis.Observe(latency.Seconds())
}

// RecognitionStarted and RecognitionEnded track running recognitions
func (m *Metrics) RecognitionStarted() {
	m.ActiveRecognitions.Inc()
}

func (m *Metrics) RecognitionEnded() {
	m.ActiveRecognitions.Dec()
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
