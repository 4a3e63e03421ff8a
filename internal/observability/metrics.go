package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_tutor_active_sessions",
		Help: "Number of active conversation sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_tutor_sessions_total",
		Help: "Total number of conversation sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_tutor_session_duration_seconds",
		Help:    "Duration of conversation sessions in seconds",
		Buckets: []float64{5, 30, 60, 300, 600, 1800, 3600},
	})

	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_state_transitions_total",
		Help: "Conversation controller state transitions",
	}, []string{"from", "to"})

	utterances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_utterances_total",
		Help: "Utterances appended to the transcript",
	}, []string{"speaker"})

	discardedFinals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_tutor_discarded_finals_total",
		Help: "Final transcripts discarded because the assistant held the turn",
	})

	backlogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_tutor_capture_backlog_dropped_bytes_total",
		Help: "Microphone bytes evicted from the restart backlog",
	})

	// Synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_synthesis_requests_total",
		Help: "Total number of TTS requests",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_tutor_synthesis_latency_seconds",
		Help:    "TTS latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Dialogue metrics
	replyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_tutor_reply_latency_seconds",
		Help:    "Dialogue reply latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"status"})

	// Playback metrics
	playbackClips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_playback_clips_total",
		Help: "Audio clips by how they finished",
	}, []string{"outcome"}) // completed, stopped, superseded

	// Capture metrics
	recognizerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_recognizer_restarts_total",
		Help: "Automatic recognizer restarts",
	}, []string{"status"})

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_errors_total",
		Help: "Total number of errors",
	}, []string{"kind", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_tutor_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tutor_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single conversation session
type Metrics struct {
	sessionID      string
	mu             sync.Mutex
	startTime      time.Time
	synthesisStart time.Time
	replyStart     time.Time
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{sessionID: sessionID}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startTime.IsZero() {
		return
	}
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
	m.startTime = time.Time{}
}

// RecordTransition records a controller state transition
func (m *Metrics) RecordTransition(from, to string) {
	stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordUtterance records an utterance appended for the given speaker
func (m *Metrics) RecordUtterance(speaker string) {
	utterances.WithLabelValues(speaker).Inc()
}

// RecordDiscardedFinal records a final transcript dropped during barge-in
func (m *Metrics) RecordDiscardedFinal() {
	discardedFinals.Inc()
}

// RecordReplyStart records the start of reply generation
func (m *Metrics) RecordReplyStart() {
	m.mu.Lock()
	m.replyStart = time.Now()
	m.mu.Unlock()
}

// RecordReplyEnd records the end of reply generation
func (m *Metrics) RecordReplyEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replyStart.IsZero() {
		return
	}
	replyLatency.WithLabelValues(status(success)).Observe(time.Since(m.replyStart).Seconds())
	m.replyStart = time.Time{}
}

// RecordSynthesisStart records the start of a synthesis call
func (m *Metrics) RecordSynthesisStart() {
	m.mu.Lock()
	m.synthesisStart = time.Now()
	m.mu.Unlock()
}

// RecordSynthesisEnd records the end of a synthesis call
func (m *Metrics) RecordSynthesisEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.synthesisStart.IsZero() {
		synthesisLatency.Observe(time.Since(m.synthesisStart).Seconds())
		m.synthesisStart = time.Time{}
	}
	synthesisRequests.WithLabelValues(status(success)).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(kind, component string) {
	errorsTotal.WithLabelValues(kind, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordClip records how a playback clip finished
func RecordClip(outcome string) {
	playbackClips.WithLabelValues(outcome).Inc()
}

// RecordRecognizerRestart records an automatic recognizer restart attempt
func RecordRecognizerRestart(success bool) {
	recognizerRestarts.WithLabelValues(status(success)).Inc()
}

// RecordBacklogDropped counts audio lost while the recognizer restarted
func RecordBacklogDropped(bytes int64) {
	backlogDropped.Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
