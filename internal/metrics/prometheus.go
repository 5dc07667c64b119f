package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice ingest service
type Metrics struct {
	// Ingestion metrics
	FragmentsReceived prometheus.Counter
	FragmentsRejected prometheus.Counter
	FragmentBytes     prometheus.Counter

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionDuration   prometheus.Histogram

	// VAD metrics
	FragmentsAnalyzed prometheus.Counter
	SilentFragments   prometheus.Counter

	// Utterance metrics
	UtterancesTriggered *prometheus.CounterVec
	UtteranceDuration   prometheus.Histogram
	UtteranceSize       prometheus.Histogram
	DecodeFallbacks     prometheus.Counter

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionDropped   prometheus.Counter

	// WebSocket metrics
	WSConnections      prometheus.Gauge
	WSMessagesReceived prometheus.Counter
	WSMessagesSent     prometheus.Counter
	WSProtocolErrors   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Ingestion metrics
		FragmentsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_fragments_received_total",
			Help: "Total number of audio fragments received",
		}),
		FragmentsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_fragments_rejected_total",
			Help: "Total number of audio fragments rejected at admission",
		}),
		FragmentBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_fragment_bytes_total",
			Help: "Total bytes of audio fragments accepted",
		}),

		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voice_active_sessions",
			Help: "Current number of active sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsDestroyed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_sessions_destroyed_total",
			Help: "Total number of sessions destroyed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		// VAD metrics
		FragmentsAnalyzed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_vad_fragments_analyzed_total",
			Help: "Total number of fragments classified by the energy detector",
		}),
		SilentFragments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_vad_silent_fragments_total",
			Help: "Total number of fragments classified as silence",
		}),

		// Utterance metrics
		UtterancesTriggered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_utterances_triggered_total",
			Help: "Total number of utterances flushed for transcription",
		}, []string{"reason"}),
		UtteranceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_utterance_duration_seconds",
			Help:    "Estimated duration of flushed utterances",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),
		UtteranceSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_utterance_size_bytes",
			Help:    "Size of flushed utterances in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		DecodeFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_decode_fallbacks_total",
			Help: "Total number of utterances assembled via the raw-bytes fallback",
		}),

		// Transcription metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_dropped_total",
			Help: "Total number of utterances dropped because the buffer hit its cap while a dispatch was in flight",
		}),

		// WebSocket metrics
		WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voice_ws_connections",
			Help: "Current number of WebSocket connections",
		}),
		WSMessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_ws_messages_received_total",
			Help: "Total number of WebSocket frames received",
		}),
		WSMessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_ws_messages_sent_total",
			Help: "Total number of WebSocket frames sent",
		}),
		WSProtocolErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voice_ws_protocol_errors_total",
			Help: "Total number of malformed client messages",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordFragmentReceived increments the fragments received counter
func (m *Metrics) RecordFragmentReceived() {
	m.FragmentsReceived.Inc()
}

// RecordFragmentRejected increments the fragments rejected counter
func (m *Metrics) RecordFragmentRejected() {
	m.FragmentsRejected.Inc()
}

// RecordFragmentAccepted records an accepted fragment and its size
func (m *Metrics) RecordFragmentAccepted(sizeBytes int) {
	m.FragmentBytes.Add(float64(sizeBytes))
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter and records duration
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordFragmentClassified records an energy detector decision
func (m *Metrics) RecordFragmentClassified(silent bool) {
	m.FragmentsAnalyzed.Inc()
	if silent {
		m.SilentFragments.Inc()
	}
}

// RecordUtteranceTriggered records a flushed utterance
func (m *Metrics) RecordUtteranceTriggered(reason string, durationSeconds float64, sizeBytes int, degraded bool) {
	m.UtterancesTriggered.WithLabelValues(reason).Inc()
	m.UtteranceDuration.Observe(durationSeconds)
	m.UtteranceSize.Observe(float64(sizeBytes))
	if degraded {
		m.DecodeFallbacks.Inc()
	}
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionDropped increments the dropped utterances counter
func (m *Metrics) RecordTranscriptionDropped() {
	m.TranscriptionDropped.Inc()
}

// RecordWSMessageReceived increments the WebSocket frames received counter
func (m *Metrics) RecordWSMessageReceived() {
	m.WSMessagesReceived.Inc()
}

// RecordWSMessageSent increments the WebSocket frames sent counter
func (m *Metrics) RecordWSMessageSent() {
	m.WSMessagesSent.Inc()
}

// RecordWSProtocolError increments the protocol errors counter
func (m *Metrics) RecordWSProtocolError() {
	m.WSProtocolErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
