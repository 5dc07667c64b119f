package audio

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"testing"
)

func testConverter(t *testing.T) *Converter {
	t.Helper()

	converter, err := NewConverter(16000, slog.Default())
	if err != nil {
		t.Fatalf("Failed to create converter: %v", err)
	}
	return converter
}

func TestNewConverterValidation(t *testing.T) {
	if _, err := NewConverter(0, nil); err == nil {
		t.Error("Expected error for zero target rate")
	}

	converter, err := NewConverter(16000, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if converter.TargetRate() != 16000 {
		t.Errorf("Expected target rate 16000, got %d", converter.TargetRate())
	}
}

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		bytes    int
		expected float64
	}{
		{3200, 1.0},
		{1600, 0.5},
		{0, 0},
		{19200, 6.0},
	}

	for _, tt := range tests {
		if got := EstimateDuration(tt.bytes); math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("EstimateDuration(%d) = %f, want %f", tt.bytes, got, tt.expected)
		}
	}
}

func TestToCanonicalWAV(t *testing.T) {
	converter := testConverter(t)

	data, err := EncodeWAV(make([]int16, 16000), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, err := converter.ToCanonical(data, FormatWAV)
	if err != nil {
		t.Fatalf("ToCanonical failed: %v", err)
	}

	if decoded.SampleRate != 16000 || decoded.Channels != 1 {
		t.Errorf("Expected 16000Hz mono, got %dHz %dch", decoded.SampleRate, decoded.Channels)
	}

	if decoded.Degraded {
		t.Error("Expected non-degraded decode")
	}
}

func TestToCanonicalDecodeError(t *testing.T) {
	converter := testConverter(t)

	_, err := converter.ToCanonical(bytes.Repeat([]byte{0x13}, 256), FormatWAV)
	if err == nil {
		t.Fatal("Expected decode error for garbage data")
	}

	if !errors.Is(err, ErrDecode) {
		t.Errorf("Expected ErrDecode, got %v", err)
	}
}

// TestAssembleConcatenatesBeforeDecode asserts the central streaming-format
// property: fragments must be joined before the single decode attempt, and
// decoding a fragment independently is NOT equivalent to decoding the
// assembled stream.
func TestAssembleConcatenatesBeforeDecode(t *testing.T) {
	converter := testConverter(t)

	samples := make([]int16, 16000)
	for i := range samples {
		samples[i] = int16(i % 512)
	}
	full, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// Split at arbitrary byte boundaries, as a chunked transport would.
	fragments := [][]byte{full[:50], full[50:307], full[307:]}

	// The middle fragment alone is undecodable. That is expected behavior,
	// not an anomaly.
	if _, err := converter.ToCanonical(fragments[1], FormatWAV); err == nil {
		t.Error("Expected a lone mid-stream fragment to be undecodable")
	}

	decoded := converter.Assemble(fragments, FormatWAV)
	if decoded.Degraded {
		t.Fatal("Expected assembled stream to decode cleanly")
	}

	if len(decoded.Samples) != len(samples) {
		t.Errorf("Expected %d samples after assembly, got %d", len(samples), len(decoded.Samples))
	}
}

func TestAssembleAutoDetect(t *testing.T) {
	converter := testConverter(t)

	data, err := EncodeWAV(make([]int16, 8000), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// Declared ogg, actually WAV: tier 2 auto-detection must recover it.
	decoded := converter.Assemble([][]byte{data}, FormatOgg)
	if decoded.Degraded {
		t.Fatal("Expected auto-detect to recover the WAV stream")
	}

	if decoded.Format != FormatWAV {
		t.Errorf("Expected detected format %q, got %q", FormatWAV, decoded.Format)
	}
}

func TestAssembleRawFallback(t *testing.T) {
	converter := testConverter(t)

	fragments := [][]byte{
		bytes.Repeat([]byte{0xAB}, 100),
		bytes.Repeat([]byte{0xCD}, 100),
	}

	decoded := converter.Assemble(fragments, FormatOgg)
	if !decoded.Degraded {
		t.Fatal("Expected degraded result for undecodable fragments")
	}

	if len(decoded.Raw) != 200 {
		t.Errorf("Expected 200 raw bytes, got %d", len(decoded.Raw))
	}

	if !bytes.Equal(decoded.Raw[:100], fragments[0]) || !bytes.Equal(decoded.Raw[100:], fragments[1]) {
		t.Error("Raw fallback must preserve concatenation order")
	}

	stats := converter.GetStats()
	if stats.Fallbacks != 1 {
		t.Errorf("Expected 1 fallback recorded, got %d", stats.Fallbacks)
	}
}

func TestAssembleToWAV(t *testing.T) {
	converter := testConverter(t)

	data, err := EncodeWAV(make([]int16, 4000), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	out, degraded := converter.AssembleToWAV([][]byte{data[:100], data[100:]}, FormatWAV)
	if degraded {
		t.Fatal("Expected clean assembly")
	}

	if err := ValidateWAV(out); err != nil {
		t.Errorf("Assembled output is not valid WAV: %v", err)
	}
}

func TestResampleNoOp(t *testing.T) {
	converter := testConverter(t)

	decoded := &DecodedAudio{
		SampleRate: 16000,
		Channels:   1,
		Samples:    make([]int16, 16000),
		Format:     FormatWAV,
	}

	// Already canonical: must be returned unchanged, not copied.
	result := converter.Resample(decoded, 16000)
	if result != decoded {
		t.Error("Expected no-op resample to return the same asset")
	}

	if result.DurationSeconds() != decoded.DurationSeconds() {
		t.Error("No-op resample must not change duration")
	}
}

func TestResampleRate(t *testing.T) {
	converter := testConverter(t)

	// 1 second at 8kHz resampled to 16kHz keeps the duration.
	decoded := &DecodedAudio{
		SampleRate: 8000,
		Channels:   1,
		Samples:    make([]int16, 8000),
		Format:     FormatWAV,
	}

	result := converter.Resample(decoded, 16000)
	if result.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", result.SampleRate)
	}

	if math.Abs(result.DurationSeconds()-1.0) > 0.01 {
		t.Errorf("Expected ~1.0s after resample, got %f", result.DurationSeconds())
	}
}

func TestResampleDownmix(t *testing.T) {
	converter := testConverter(t)

	// Stereo with left=100, right=300 downmixes to 200.
	samples := make([]int16, 640)
	for i := 0; i < len(samples); i += 2 {
		samples[i] = 100
		samples[i+1] = 300
	}

	decoded := &DecodedAudio{
		SampleRate: 16000,
		Channels:   2,
		Samples:    samples,
		Format:     FormatWAV,
	}

	result := converter.Resample(decoded, 16000)
	if result.Channels != 1 {
		t.Fatalf("Expected mono output, got %d channels", result.Channels)
	}

	if len(result.Samples) != 320 {
		t.Fatalf("Expected 320 mono samples, got %d", len(result.Samples))
	}

	for i, s := range result.Samples {
		if s != 200 {
			t.Fatalf("Sample %d: expected 200, got %d", i, s)
		}
	}
}

func TestResampleStereoStream(t *testing.T) {
	converter := testConverter(t)

	// One second of interleaved stereo at 48kHz, the shape the opus
	// stream decoder emits. Normalization must downmix and resample
	// without distorting the duration.
	decoded := &DecodedAudio{
		SampleRate: 48000,
		Channels:   2,
		Samples:    make([]int16, 2*48000),
		Format:     FormatOgg,
	}

	if math.Abs(decoded.DurationSeconds()-1.0) > 1e-9 {
		t.Fatalf("Expected 1.0s stereo asset, got %f", decoded.DurationSeconds())
	}

	result := converter.Resample(decoded, 16000)
	if result.SampleRate != 16000 || result.Channels != 1 {
		t.Fatalf("Expected 16000Hz mono, got %dHz %dch", result.SampleRate, result.Channels)
	}

	if math.Abs(result.DurationSeconds()-1.0) > 0.01 {
		t.Errorf("Expected ~1.0s after normalization, got %f", result.DurationSeconds())
	}
}

func TestSniffFormat(t *testing.T) {
	wavData, err := EncodeWAV(make([]int16, 160), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"wav", wavData, FormatWAV},
		{"ogg", append([]byte("OggS"), make([]byte, 32)...), FormatOgg},
		{"unknown", bytes.Repeat([]byte{0x00}, 32), ""},
		{"short", []byte("Og"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SniffFormat(tt.data); got != tt.expected {
				t.Errorf("SniffFormat = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDurationSecondsDegraded(t *testing.T) {
	decoded := &DecodedAudio{
		Format:   FormatRaw,
		Degraded: true,
		Raw:      make([]byte, 3200),
	}

	// Degraded assets report the byte-rate estimate.
	if math.Abs(decoded.DurationSeconds()-1.0) > 1e-9 {
		t.Errorf("Expected 1.0s estimate, got %f", decoded.DurationSeconds())
	}
}
