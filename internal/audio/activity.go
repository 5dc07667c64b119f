package audio

import (
	"sync"
	"time"

	"github.com/voicepipe/voice-ingest-service/internal/vad"
)

// ActivityState describes where an ActivityBuffer is in its utterance
// lifecycle.
type ActivityState int

const (
	// StateIdle means no speech has been observed since the last reset.
	StateIdle ActivityState = iota
	// StateListening means speech has been observed and no silence run is
	// active.
	StateListening
	// StateTrailingSilence means speech has been observed and a silence run
	// is in progress.
	StateTrailingSilence
)

// String returns a human-readable state name.
func (s ActivityState) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateTrailingSilence:
		return "trailing_silence"
	default:
		return "idle"
	}
}

// Trigger reasons reported by TriggerReason.
const (
	// TriggerSilence means a trailing-silence run crossed the threshold.
	TriggerSilence = "silence"
	// TriggerMaxDuration means the buffered-duration backstop fired.
	TriggerMaxDuration = "max_duration"
	// TriggerWindow means a fixed window reached its chunk duration.
	TriggerWindow = "window"
	// TriggerFlush marks a forced flush at session teardown.
	TriggerFlush = "flush"
)

// ActivityConfig configures an ActivityBuffer. Zero values take documented
// defaults.
type ActivityConfig struct {
	// SilenceThreshold is how long a trailing silence run must last before
	// the buffered utterance is considered complete. Default 1s.
	SilenceThreshold time.Duration
	// MaxDuration is the hard backstop on estimated buffered duration,
	// independent of silence detection, so continuous speech still flushes
	// periodically. Default 6s.
	MaxDuration time.Duration
	// Format is the declared container format of incoming fragments.
	// Default ogg.
	Format string
}

func (c *ActivityConfig) applyDefaults() {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = time.Second
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 6 * time.Second
	}
	if c.Format == "" {
		c.Format = FormatOgg
	}
}

// ActivityBuffer segments a continuous audio stream into utterances using
// trailing-silence detection. Each added fragment is classified as speech or
// silence by per-fragment RMS energy; an utterance completes when a silence
// run outlasts the silence threshold, or unconditionally when the estimated
// buffered duration reaches the max-duration backstop. Pure silence never
// triggers: transcription requires at least one speech fragment.
//
// A buffer belongs to exactly one session and is mutated only by that
// session's ingestion path; internal locking exists only so monitoring reads
// are safe.
//
// Silence duration is measured in wall-clock time between fragment arrivals,
// matching observed production behavior; under network jitter this conflates
// transport delay with in-audio silence.
type ActivityBuffer struct {
	config    ActivityConfig
	detector  *vad.Detector
	converter *Converter
	now       func() time.Time // injectable clock

	chunks       [][]byte
	totalBytes   int
	hasSpeech    bool
	silenceStart time.Time // zero when no silence run is active

	mu sync.Mutex
}

// ActivityStats represents buffer state for monitoring.
type ActivityStats struct {
	State             string  `json:"state"`
	ChunkCount        int     `json:"chunk_count"`
	TotalBytes        int     `json:"total_bytes"`
	EstimatedDuration float64 `json:"estimated_duration_sec"`
	HasSpeech         bool    `json:"has_speech"`
}

// NewActivityBuffer creates an activity buffer using the given detector for
// silence classification and converter for final assembly.
func NewActivityBuffer(config ActivityConfig, detector *vad.Detector, converter *Converter) *ActivityBuffer {
	config.applyDefaults()

	return &ActivityBuffer{
		config:    config,
		detector:  detector,
		converter: converter,
		now:       time.Now,
	}
}

// AddChunk appends a fragment, updates the silence state machine, and
// reports whether the fragment classified as silence. has_speech is
// monotonic for the buffer's lifetime: once any fragment classifies as
// speech it stays set until reset.
func (b *ActivityBuffer) AddChunk(fragment []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, fragment)
	b.totalBytes += len(fragment)

	if b.detector.IsSilence(fragment) {
		// A silence run records its start exactly once; later silent
		// fragments extend the same run.
		if b.silenceStart.IsZero() {
			b.silenceStart = b.now()
		}
		return true
	}

	b.silenceStart = time.Time{}
	b.hasSpeech = true
	return false
}

// ShouldTrigger reports whether a transcription-worthy utterance is
// complete. It is false unconditionally until speech has been observed.
func (b *ActivityBuffer) ShouldTrigger() bool {
	_, ok := b.TriggerReason()
	return ok
}

// TriggerReason returns why the buffer is ready to flush, when it is.
func (b *ActivityBuffer) TriggerReason() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasSpeech {
		return "", false
	}

	if !b.silenceStart.IsZero() && b.now().Sub(b.silenceStart) >= b.config.SilenceThreshold {
		return TriggerSilence, true
	}

	if EstimateDuration(b.totalBytes) >= b.config.MaxDuration.Seconds() {
		return TriggerMaxDuration, true
	}

	return "", false
}

// GetAudioAndReset assembles all buffered fragments into canonical audio
// bytes and unconditionally resets to the idle state, even when assembly
// degrades to the raw-bytes fallback, so the pipeline never replays the
// same fragments.
func (b *ActivityBuffer) GetAudioAndReset() (data []byte, degraded bool) {
	b.mu.Lock()
	chunks := b.chunks
	format := b.config.Format
	b.resetLocked()
	b.mu.Unlock()

	if len(chunks) == 0 {
		return nil, false
	}

	return b.converter.AssembleToWAV(chunks, format)
}

// Clear resets the buffer to its empty idle state.
func (b *ActivityBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *ActivityBuffer) resetLocked() {
	b.chunks = nil
	b.totalBytes = 0
	b.hasSpeech = false
	b.silenceStart = time.Time{}
}

// State returns the current lifecycle state.
func (b *ActivityBuffer) State() ActivityState {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case !b.hasSpeech:
		return StateIdle
	case b.silenceStart.IsZero():
		return StateListening
	default:
		return StateTrailingSilence
	}
}

// HasSpeech reports whether any fragment has classified as speech since the
// last reset.
func (b *ActivityBuffer) HasSpeech() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasSpeech
}

// ChunkCount returns the number of buffered fragments.
func (b *ActivityBuffer) ChunkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// EstimatedDuration returns the byte-rate duration estimate in seconds.
func (b *ActivityBuffer) EstimatedDuration() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return EstimateDuration(b.totalBytes)
}

// GetStats returns buffer state for monitoring.
func (b *ActivityBuffer) GetStats() ActivityStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := StateIdle
	switch {
	case b.hasSpeech && b.silenceStart.IsZero():
		state = StateListening
	case b.hasSpeech:
		state = StateTrailingSilence
	}

	return ActivityStats{
		State:             state.String(),
		ChunkCount:        len(b.chunks),
		TotalBytes:        b.totalBytes,
		EstimatedDuration: EstimateDuration(b.totalBytes),
		HasSpeech:         b.hasSpeech,
	}
}
