package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicepipe/voice-ingest-service/internal/audio"
	"github.com/voicepipe/voice-ingest-service/internal/metrics"
	"github.com/voicepipe/voice-ingest-service/internal/transcription"
	"github.com/voicepipe/voice-ingest-service/internal/vad"
)

// Transcriber is the subset of the transcription client used by sessions.
type Transcriber interface {
	Transcribe(ctx context.Context, request *transcription.Request) (*transcription.Result, error)
}

// Event types delivered on the session event channel.
const (
	EventTranscript = "transcript"
	EventError      = "error"
)

// Event is the result of one dispatched utterance, delivered to whoever
// owns the session's connection.
type Event struct {
	Type        string
	Text        string
	Language    string
	UtteranceID string
	Trigger     string
	Duration    float64
	Degraded    bool
	Err         error
}

// Config contains per-session ingestion parameters.
type Config struct {
	Format              string
	Language            string
	MinFragmentDuration float64

	VADEnabled       bool
	SilenceThreshold time.Duration
	MaxUtterance     time.Duration

	ChunkDuration     float64 // fixed-window mode
	MaxBufferDuration float64

	TranscribeTimeout time.Duration
}

// Session represents one client's ingestion state.
type Session struct {
	ID           string
	Language     string
	StartTime    time.Time
	LastActivity time.Time

	config    Config
	validator *audio.Validator
	logger    *slog.Logger
	metrics   *metrics.Metrics
	client    Transcriber

	// Exactly one of these is set, depending on VADEnabled.
	activity *audio.ActivityBuffer
	window   *audio.FixedWindowBuffer

	events chan Event

	// inFlight holds one token while a transcription runs.
	inFlight chan struct{}

	// pendingFlush marks that a forced flush arrived while a
	// transcription was outstanding and should run once the slot frees.
	pendingFlush bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	fragmentsAccepted uint64
	fragmentsRejected uint64
	utterancesSent    uint64
	utterancesDropped uint64

	mu sync.RWMutex
}

func newSession(config Config, converter *audio.Converter, validator *audio.Validator,
	detector *vad.Detector, client Transcriber, m *metrics.Metrics, logger *slog.Logger) (*Session, error) {

	if config.TranscribeTimeout <= 0 {
		config.TranscribeTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	now := time.Now()
	s := &Session{
		ID:           uuid.New().String(),
		Language:     config.Language,
		StartTime:    now,
		LastActivity: now,
		config:       config,
		validator:    validator,
		logger:       logger,
		metrics:      m,
		client:       client,
		events:       make(chan Event, 16),
		inFlight:     make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}

	if config.VADEnabled {
		if detector == nil {
			cancel()
			return nil, fmt.Errorf("vad enabled but no detector provided")
		}
		s.activity = audio.NewActivityBuffer(audio.ActivityConfig{
			SilenceThreshold: config.SilenceThreshold,
			MaxDuration:      config.MaxUtterance,
			Format:           config.Format,
		}, detector, converter)
	} else {
		s.window = audio.NewFixedWindowBuffer(config.ChunkDuration, config.MaxBufferDuration,
			config.Format, converter)
	}

	return s, nil
}

// Events returns the channel carrying transcription results and errors.
func (s *Session) Events() <-chan Event {
	return s.events
}

// AddFragment runs one fragment through admission, buffering, and the
// trigger check. Rejected fragments are counted and discarded without
// failing the session.
func (s *Session) AddFragment(data []byte) error {
	select {
	case <-s.ctx.Done():
		return fmt.Errorf("session closed")
	default:
	}

	s.touch()

	if s.metrics != nil {
		s.metrics.RecordFragmentReceived()
	}

	if !s.validator.IsValid(data, s.config.MinFragmentDuration) {
		s.mu.Lock()
		s.fragmentsRejected++
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.RecordFragmentRejected()
		}

		s.logger.Debug("Fragment rejected at admission",
			slog.String("session_id", s.ID),
			slog.Int("size", len(data)),
		)
		return nil
	}

	s.mu.Lock()
	s.fragmentsAccepted++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordFragmentAccepted(len(data))
	}

	if s.activity != nil {
		silent := s.activity.AddChunk(data)
		if s.metrics != nil {
			s.metrics.RecordFragmentClassified(silent)
		}

		if reason, ok := s.activity.TriggerReason(); ok {
			s.flushActivity(reason)
		}
		return nil
	}

	s.window.Add(data)
	if s.window.IsFull() {
		s.flushWindow(audio.TriggerMaxDuration)
	} else if s.window.IsReady() {
		s.flushWindow(audio.TriggerWindow)
	}
	return nil
}

// Flush forces out whatever audio is buffered, regardless of trigger
// state. Used on explicit client stop and on session teardown.
func (s *Session) Flush() {
	if s.activity != nil {
		if s.activity.ChunkCount() == 0 {
			return
		}
		s.flushActivity(audio.TriggerFlush)
		return
	}

	if s.window.ChunkCount() == 0 {
		return
	}
	s.flushWindow(audio.TriggerFlush)
}

func (s *Session) flushActivity(reason string) {
	if !s.tryAcquire() {
		s.holdOrDrop(reason, s.activity.EstimatedDuration(), s.activity.Clear)
		return
	}

	duration := s.activity.EstimatedDuration()
	data, degraded := s.activity.GetAudioAndReset()
	if len(data) == 0 {
		<-s.inFlight
		return
	}

	s.dispatch(data, reason, duration, degraded)
}

func (s *Session) flushWindow(reason string) {
	if !s.tryAcquire() {
		s.holdOrDrop(reason, s.window.Duration(), s.window.Clear)
		return
	}

	duration := s.window.Duration()
	data, degraded := s.window.GetAndReset()
	if len(data) == 0 {
		<-s.inFlight
		return
	}

	s.dispatch(data, reason, duration, degraded)
}

func (s *Session) tryAcquire() bool {
	select {
	case s.inFlight <- struct{}{}:
		return true
	default:
		return false
	}
}

// holdOrDrop handles a trigger that fires while a transcription is still
// outstanding. Assembly must not begin until the slot frees, so the
// fragments stay buffered; they flush when the running call completes or
// when the next fragment re-checks the trigger. The drop is reserved for
// a buffer that kept growing past the hard cap while the backend stalled.
func (s *Session) holdOrDrop(reason string, duration float64, clear func()) {
	maxBuffer := s.config.MaxBufferDuration
	if maxBuffer <= 0 {
		maxBuffer = 60.0
	}

	if duration < maxBuffer {
		if reason == audio.TriggerFlush {
			s.mu.Lock()
			s.pendingFlush = true
			s.mu.Unlock()
		}

		s.logger.Debug("Holding utterance, transcription in flight",
			slog.String("session_id", s.ID),
			slog.String("trigger", reason),
			slog.Float64("duration", duration),
		)
		return
	}

	clear()

	s.mu.Lock()
	s.utterancesDropped++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordTranscriptionDropped()
	}

	s.logger.Warn("Utterance dropped, buffer exceeded cap while transcription in flight",
		slog.String("session_id", s.ID),
		slog.String("trigger", reason),
		slog.Float64("duration", duration),
	)
}

// dispatch hands one assembled utterance to the transcription client.
// The caller has already acquired the in-flight slot; it is released
// when the transcription goroutine finishes, which then flushes any
// audio held in the meantime.
func (s *Session) dispatch(data []byte, reason string, duration float64, degraded bool) {
	utteranceID := uuid.New().String()

	if s.metrics != nil {
		s.metrics.RecordUtteranceTriggered(reason, duration, len(data), degraded)
	}

	s.mu.Lock()
	s.utterancesSent++
	s.mu.Unlock()

	s.logger.Info("Dispatching utterance for transcription",
		slog.String("session_id", s.ID),
		slog.String("utterance_id", utteranceID),
		slog.String("trigger", reason),
		slog.Float64("duration", duration),
		slog.Int("size", len(data)),
		slog.Bool("degraded", degraded),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.transcribe(data, utteranceID, reason, duration, degraded)
		<-s.inFlight
		s.flushPending()
	}()
}

// flushPending runs after the in-flight slot frees. Audio that was held
// while the previous transcription ran goes out now instead of waiting
// for the next fragment to arrive.
func (s *Session) flushPending() {
	select {
	case <-s.ctx.Done():
		return
	default:
	}

	s.mu.Lock()
	forced := s.pendingFlush
	s.pendingFlush = false
	s.mu.Unlock()

	if s.activity != nil {
		if reason, ok := s.activity.TriggerReason(); ok {
			s.flushActivity(reason)
		} else if forced && s.activity.ChunkCount() > 0 {
			s.flushActivity(audio.TriggerFlush)
		}
		return
	}

	if s.window.IsFull() {
		s.flushWindow(audio.TriggerMaxDuration)
	} else if s.window.IsReady() {
		s.flushWindow(audio.TriggerWindow)
	} else if forced && s.window.ChunkCount() > 0 {
		s.flushWindow(audio.TriggerFlush)
	}
}

func (s *Session) transcribe(data []byte, utteranceID, reason string, duration float64, degraded bool) {
	if s.metrics != nil {
		s.metrics.RecordTranscriptionRequest()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.TranscribeTimeout)
	defer cancel()

	startTime := time.Now()
	result, err := s.client.Transcribe(ctx, &transcription.Request{
		Audio:       data,
		Format:      audio.FormatWAV,
		Language:    s.language(),
		UtteranceID: utteranceID,
		SessionID:   s.ID,
		Trigger:     reason,
		Duration:    duration,
		Degraded:    degraded,
	})
	elapsed := time.Since(startTime)

	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		}

		s.logger.Error("Transcription failed",
			slog.String("session_id", s.ID),
			slog.String("utterance_id", utteranceID),
			slog.String("error", err.Error()),
			slog.Float64("elapsed", elapsed.Seconds()),
		)

		s.emit(Event{Type: EventError, UtteranceID: utteranceID, Trigger: reason, Err: err})
		return
	}

	if s.metrics != nil {
		s.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
	}

	s.logger.Info("Transcription completed",
		slog.String("session_id", s.ID),
		slog.String("utterance_id", utteranceID),
		slog.String("text", result.Text),
		slog.Float64("elapsed", elapsed.Seconds()),
	)

	s.emit(Event{
		Type:        EventTranscript,
		Text:        result.Text,
		Language:    result.Language,
		UtteranceID: utteranceID,
		Trigger:     reason,
		Duration:    duration,
		Degraded:    degraded,
	})
}

// emit delivers an event unless the session is closing. Events for a
// torn-down session are discarded, which makes teardown-time flushes
// fire-and-forget.
func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	case <-s.ctx.Done():
	}
}

// SetLanguage overrides the language hint for subsequent utterances.
func (s *Session) SetLanguage(language string) {
	s.mu.Lock()
	s.Language = language
	s.mu.Unlock()
}

func (s *Session) language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Language
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) lastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastActivity
}

// Close flushes pending audio and tears the session down. The final
// flush's transcription keeps running in the background; its result is
// discarded.
func (s *Session) Close() {
	s.Flush()
	s.cancel()
}

// Info returns a snapshot of session counters for the monitoring API.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		ID:                s.ID,
		Language:          s.Language,
		StartTime:         s.StartTime,
		LastActivity:      s.LastActivity,
		Duration:          time.Since(s.StartTime),
		VADEnabled:        s.config.VADEnabled,
		FragmentsAccepted: s.fragmentsAccepted,
		FragmentsRejected: s.fragmentsRejected,
		UtterancesSent:    s.utterancesSent,
		UtterancesDropped: s.utterancesDropped,
	}

	if s.activity != nil {
		stats := s.activity.GetStats()
		info.BufferState = stats.State
		info.BufferedChunks = stats.ChunkCount
		info.HasSpeech = stats.HasSpeech
	} else {
		info.BufferState = "fixed_window"
		info.BufferedChunks = s.window.ChunkCount()
	}

	return info
}

// Info represents session information for monitoring and APIs
type Info struct {
	ID                string        `json:"id"`
	Language          string        `json:"language,omitempty"`
	StartTime         time.Time     `json:"start_time"`
	LastActivity      time.Time     `json:"last_activity"`
	Duration          time.Duration `json:"duration"`
	VADEnabled        bool          `json:"vad_enabled"`
	BufferState       string        `json:"buffer_state"`
	BufferedChunks    int           `json:"buffered_chunks"`
	HasSpeech         bool          `json:"has_speech"`
	FragmentsAccepted uint64        `json:"fragments_accepted"`
	FragmentsRejected uint64        `json:"fragments_rejected"`
	UtterancesSent    uint64        `json:"utterances_sent"`
	UtterancesDropped uint64        `json:"utterances_dropped"`
}
