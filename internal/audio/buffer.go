package audio

import "sync"

// FixedWindowBuffer accumulates fragments until a target duration is
// reached, for simple chunked transcription without activity detection.
// It moves from filling to ready when the estimated duration crosses the chunk
// duration; the max duration forces readiness even with a short trailing
// fragment so worst-case buffering latency stays bounded. GetAndReset is
// the only way back to Filling.
type FixedWindowBuffer struct {
	chunkDuration float64 // seconds before the buffer is considered ready
	maxDuration   float64 // hard cap before forced processing
	format        string  // declared container format of incoming fragments
	converter     *Converter

	chunks        [][]byte
	totalDuration float64 // byte-rate estimate, not decode-accurate

	mu sync.Mutex
}

// NewFixedWindowBuffer creates a buffer that becomes ready after
// chunkDuration seconds of estimated audio and is forcibly ready at
// maxDuration.
func NewFixedWindowBuffer(chunkDuration, maxDuration float64, format string, converter *Converter) *FixedWindowBuffer {
	if chunkDuration <= 0 {
		chunkDuration = 3.0
	}
	if maxDuration <= 0 {
		maxDuration = 60.0
	}
	if format == "" {
		format = FormatOgg
	}

	return &FixedWindowBuffer{
		chunkDuration: chunkDuration,
		maxDuration:   maxDuration,
		format:        format,
		converter:     converter,
	}
}

// Add appends a fragment to the buffer. Streaming fragments are never
// decoded here; the duration estimate comes from byte length alone.
func (b *FixedWindowBuffer) Add(fragment []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, fragment)
	b.totalDuration += EstimateDuration(len(fragment))
}

// IsReady reports whether enough audio has accumulated for processing.
func (b *FixedWindowBuffer) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalDuration >= b.chunkDuration
}

// IsFull reports whether the buffer has hit its hard cap.
func (b *FixedWindowBuffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalDuration >= b.maxDuration
}

// GetAndReset assembles all buffered fragments into canonical audio bytes
// and clears the buffer atomically with respect to the caller; no fragment
// can be read twice. The degraded flag reports the raw-bytes fallback.
func (b *FixedWindowBuffer) GetAndReset() (data []byte, degraded bool) {
	b.mu.Lock()
	chunks := b.chunks
	b.chunks = nil
	b.totalDuration = 0
	b.mu.Unlock()

	if len(chunks) == 0 {
		return nil, false
	}

	return b.converter.AssembleToWAV(chunks, b.format)
}

// Duration returns the estimated buffered duration in seconds.
func (b *FixedWindowBuffer) Duration() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalDuration
}

// ChunkCount returns the number of buffered fragments.
func (b *FixedWindowBuffer) ChunkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Clear resets the buffer to its empty state.
func (b *FixedWindowBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.totalDuration = 0
}
