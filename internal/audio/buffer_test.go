package audio

import (
	"math"
	"testing"
)

func testWindowBuffer(t *testing.T) *FixedWindowBuffer {
	t.Helper()
	return NewFixedWindowBuffer(3.0, 60.0, FormatWAV, testConverter(t))
}

func TestFixedWindowBufferFilling(t *testing.T) {
	buffer := testWindowBuffer(t)

	if buffer.IsReady() {
		t.Error("Empty buffer must not be ready")
	}

	// 1 second worth of estimated audio.
	buffer.Add(make([]byte, 3200))

	if buffer.IsReady() {
		t.Error("Buffer must not be ready below chunk duration")
	}

	if math.Abs(buffer.Duration()-1.0) > 1e-9 {
		t.Errorf("Expected estimated duration 1.0s, got %f", buffer.Duration())
	}

	// Two more seconds crosses the 3s chunk duration.
	buffer.Add(make([]byte, 3200))
	buffer.Add(make([]byte, 3200))

	if !buffer.IsReady() {
		t.Error("Buffer must be ready at chunk duration")
	}

	if buffer.ChunkCount() != 3 {
		t.Errorf("Expected 3 chunks, got %d", buffer.ChunkCount())
	}
}

func TestFixedWindowBufferHardCap(t *testing.T) {
	buffer := NewFixedWindowBuffer(3.0, 5.0, FormatWAV, testConverter(t))

	buffer.Add(make([]byte, 3200*4))
	if buffer.IsFull() {
		t.Error("Buffer must not be full below max duration")
	}

	buffer.Add(make([]byte, 3200*2))
	if !buffer.IsFull() {
		t.Error("Buffer must be full at max duration")
	}
}

func TestFixedWindowBufferGetAndReset(t *testing.T) {
	buffer := testWindowBuffer(t)

	wavData, err := EncodeWAV(make([]int16, 16000), 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	buffer.Add(wavData[:200])
	buffer.Add(wavData[200:])

	data, degraded := buffer.GetAndReset()
	if degraded {
		t.Error("Expected clean assembly of split WAV")
	}

	if err := ValidateWAV(data); err != nil {
		t.Errorf("Expected valid WAV output: %v", err)
	}

	// Drained: back to Filling with nothing readable.
	if buffer.ChunkCount() != 0 {
		t.Errorf("Expected 0 chunks after reset, got %d", buffer.ChunkCount())
	}

	if buffer.Duration() != 0 {
		t.Errorf("Expected 0 duration after reset, got %f", buffer.Duration())
	}

	if buffer.IsReady() {
		t.Error("Buffer must not be ready after reset")
	}

	data, degraded = buffer.GetAndReset()
	if data != nil || degraded {
		t.Error("Expected empty result from drained buffer")
	}
}

func TestFixedWindowBufferClear(t *testing.T) {
	buffer := testWindowBuffer(t)

	buffer.Add(make([]byte, 9600))
	buffer.Clear()

	if buffer.ChunkCount() != 0 || buffer.Duration() != 0 {
		t.Error("Expected empty buffer after Clear")
	}
}

func TestFixedWindowBufferDefaults(t *testing.T) {
	buffer := NewFixedWindowBuffer(0, 0, "", testConverter(t))

	// Defaults: 3s chunk duration, 60s cap.
	buffer.Add(make([]byte, 3200*3))
	if !buffer.IsReady() {
		t.Error("Expected default chunk duration of 3s")
	}
	if buffer.IsFull() {
		t.Error("Expected default max duration of 60s")
	}
}
