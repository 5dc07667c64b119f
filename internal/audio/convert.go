package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	opus "gopkg.in/hraban/opus.v2"
)

// ErrDecode is returned when a byte sequence cannot be parsed under the
// declared container format.
var ErrDecode = errors.New("undecodable audio data")

const (
	// FormatOgg is the streaming Ogg/Opus container produced by browser
	// MediaRecorder captures.
	FormatOgg = "ogg"
	// FormatWAV is canonical PCM WAV.
	FormatWAV = "wav"
	// FormatRaw marks un-decoded passthrough bytes from the degraded
	// fallback path.
	FormatRaw = "raw"

	// opusStreamRate is the fixed output rate of the Opus stream decoder.
	opusStreamRate = 48000

	// estimatedByteRate is the rough compressed-audio byte rate used for
	// decode-free duration estimation (~3200 bytes per second). It is a
	// buffering heuristic only, never a substitute for decoded duration.
	estimatedByteRate = 3200
)

// DecodedAudio is a normalized audio asset with explicit sample rate,
// channel count, and duration. It is produced only from a complete byte
// sequence, never from a lone streaming fragment.
type DecodedAudio struct {
	SampleRate int
	Channels   int
	Samples    []int16 // Interleaved when Channels > 1
	Format     string  // Container the audio decoded from
	Degraded   bool    // True when decoding failed and Raw carries the bytes
	Raw        []byte  // Original concatenated bytes, set only when Degraded
}

// DurationSeconds returns the decode-accurate duration of the asset.
// Degraded assets fall back to the byte-rate estimate.
func (d *DecodedAudio) DurationSeconds() float64 {
	if d.Degraded {
		return EstimateDuration(len(d.Raw))
	}
	if d.SampleRate <= 0 || d.Channels <= 0 {
		return 0
	}
	return float64(len(d.Samples)/d.Channels) / float64(d.SampleRate)
}

// EstimateDuration returns the approximate duration in seconds of a
// compressed fragment from its byte length alone. Streaming fragments
// cannot be decoded individually, so buffering logic runs on this estimate
// and decode-accurate duration is computed only after assembly.
func EstimateDuration(numBytes int) float64 {
	return float64(numBytes) / float64(estimatedByteRate)
}

// Converter converts opaque compressed audio bytes into canonical decoded
// form (fixed sample rate, mono). Assembly decoding proceeds in tiers:
// the declared container format first, then automatic format detection,
// and finally a raw-bytes passthrough so a session's audio is never
// discarded because of a corrupt capture.
type Converter struct {
	targetRate int
	logger     *slog.Logger

	// Statistics
	assemblies uint64
	fallbacks  uint64

	mu sync.RWMutex
}

// ConverterStats represents converter statistics for monitoring.
type ConverterStats struct {
	TargetRate int    `json:"target_rate"`
	Assemblies uint64 `json:"assemblies"`
	Fallbacks  uint64 `json:"fallbacks"`
}

// NewConverter creates a converter that normalizes audio to the given
// sample rate, mono.
func NewConverter(targetRate int, logger *slog.Logger) (*Converter, error) {
	if targetRate <= 0 {
		return nil, fmt.Errorf("target rate must be positive, got %d", targetRate)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Converter{
		targetRate: targetRate,
		logger:     logger,
	}, nil
}

// TargetRate returns the canonical sample rate.
func (c *Converter) TargetRate() int {
	return c.targetRate
}

// ToCanonical decodes a complete byte sequence under the declared container
// format and normalizes it to the target rate, mono. It fails with ErrDecode
// when the bytes cannot be parsed under that format.
func (c *Converter) ToCanonical(data []byte, format string) (*DecodedAudio, error) {
	decoded, err := decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%w: format %q: %v", ErrDecode, format, err)
	}

	return c.Resample(decoded, c.targetRate), nil
}

// Resample downmixes to mono and resamples only when the source differs
// from the target rate. When the asset already matches it is returned
// unchanged, not copied. Degraded assets pass through untouched since
// there are no samples to operate on.
func (c *Converter) Resample(decoded *DecodedAudio, targetRate int) *DecodedAudio {
	if decoded == nil || decoded.Degraded {
		return decoded
	}

	if decoded.SampleRate == targetRate && decoded.Channels == 1 {
		return decoded
	}

	samples := decoded.Samples
	if decoded.Channels > 1 {
		samples = downmix(samples, decoded.Channels)
	}

	if decoded.SampleRate != targetRate {
		samples = resampleLinear(samples, decoded.SampleRate, targetRate)
	}

	return &DecodedAudio{
		SampleRate: targetRate,
		Channels:   1,
		Samples:    samples,
		Format:     decoded.Format,
	}
}

// Assemble concatenates the raw bytes of all fragments in order and decodes
// the complete stream exactly once. Decoding fragments independently is a
// correctness bug for streaming container formats: all bytes must be joined
// before the single decode attempt. Assemble never fails; when every decode
// tier fails it returns the concatenated bytes un-decoded with Degraded set,
// logging the degradation instead of discarding the audio.
func (c *Converter) Assemble(fragments [][]byte, declaredFormat string) *DecodedAudio {
	c.mu.Lock()
	c.assemblies++
	c.mu.Unlock()

	combined := concat(fragments)
	if len(combined) == 0 {
		return &DecodedAudio{Format: FormatRaw, Degraded: true}
	}

	// Tier 1: declared streaming container format.
	decoded, declaredErr := decode(combined, declaredFormat)
	if declaredErr == nil {
		return c.Resample(decoded, c.targetRate)
	}

	// Tier 2: automatic format detection from magic bytes.
	if sniffed := SniffFormat(combined); sniffed != "" && sniffed != declaredFormat {
		decoded, err := decode(combined, sniffed)
		if err == nil {
			c.logger.Warn("Declared format failed, decoded via auto-detect",
				slog.String("declared_format", declaredFormat),
				slog.String("detected_format", sniffed),
				slog.Int("bytes", len(combined)),
			)
			return c.Resample(decoded, c.targetRate)
		}
	}

	// Tier 3: raw passthrough. Partial or corrupt streaming captures are
	// common in production; a best-effort byte blob beats a lost utterance.
	c.mu.Lock()
	c.fallbacks++
	c.mu.Unlock()

	c.logger.Warn("All decode tiers failed, passing raw bytes through",
		slog.String("declared_format", declaredFormat),
		slog.Int("fragments", len(fragments)),
		slog.Int("bytes", len(combined)),
		slog.String("error", declaredErr.Error()),
	)

	return &DecodedAudio{Format: FormatRaw, Degraded: true, Raw: combined}
}

// AssembleToWAV assembles fragments and encodes the result as canonical WAV
// bytes ready for the transcription service. The degraded flag reports that
// the raw fallback was taken and the bytes are the un-decoded concatenation.
func (c *Converter) AssembleToWAV(fragments [][]byte, declaredFormat string) (data []byte, degraded bool) {
	decoded := c.Assemble(fragments, declaredFormat)
	if decoded.Degraded {
		return decoded.Raw, true
	}

	wav, err := EncodeWAV(decoded.Samples, decoded.SampleRate)
	if err != nil {
		c.logger.Warn("Failed to encode assembled audio as WAV",
			slog.String("error", err.Error()),
		)
		return concat(fragments), true
	}

	return wav, false
}

// DurationSeconds returns the decode-accurate duration of a decoded asset.
func (c *Converter) DurationSeconds(decoded *DecodedAudio) float64 {
	if decoded == nil {
		return 0
	}
	return decoded.DurationSeconds()
}

// GetStats returns current converter statistics.
func (c *Converter) GetStats() ConverterStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ConverterStats{
		TargetRate: c.targetRate,
		Assemblies: c.assemblies,
		Fallbacks:  c.fallbacks,
	}
}

// SniffFormat identifies a container format from its magic bytes. It
// returns an empty string when the format is unrecognized.
func SniffFormat(data []byte) string {
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")) {
		return FormatWAV
	}
	if len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")) {
		return FormatOgg
	}
	return ""
}

// decode parses a complete byte sequence under a single container format.
func decode(data []byte, format string) (*DecodedAudio, error) {
	switch format {
	case FormatWAV:
		return decodeWAV(data)
	case FormatOgg:
		return decodeOggOpus(data)
	default:
		return nil, fmt.Errorf("unsupported container format %q", format)
	}
}

func decodeWAV(data []byte) (*DecodedAudio, error) {
	samples, sampleRate, channels, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	return &DecodedAudio{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    samples,
		Format:     FormatWAV,
	}, nil
}

// decodeOggOpus decodes an Ogg/Opus stream via libopusfile. The stream
// decoder always produces 48 kHz output; reading as stereo gives a fixed
// interleaved layout regardless of the capture's channel count, so the
// downmix in Resample applies uniformly.
func decodeOggOpus(data []byte) (*DecodedAudio, error) {
	stream, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open opus stream: %w", err)
	}
	defer stream.Close()

	samples := make([]int16, 0, 2*opusStreamRate)
	pcm := make([]int16, 2*4800) // 100ms of stereo at 48kHz

	for {
		n, err := stream.ReadStereo(pcm)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read opus stream: %w", err)
		}
		if n == 0 {
			break
		}
		samples = append(samples, pcm[:2*n]...)
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("opus stream contained no samples")
	}

	return &DecodedAudio{
		SampleRate: opusStreamRate,
		Channels:   2,
		Samples:    samples,
		Format:     FormatOgg,
	}, nil
}

// downmix averages interleaved channels into mono.
func downmix(samples []int16, channels int) []int16 {
	frames := len(samples) / channels
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for ch := 0; ch < channels; ch++ {
			sum += int(samples[i*channels+ch])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}

// resampleLinear resamples mono PCM using linear interpolation.
func resampleLinear(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen == 0 {
		outLen = 1
	}

	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
	}

	return out
}

func concat(fragments [][]byte) []byte {
	total := 0
	for _, f := range fragments {
		total += len(f)
	}
	combined := make([]byte, 0, total)
	for _, f := range fragments {
		combined = append(combined, f...)
	}
	return combined
}
