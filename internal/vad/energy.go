package vad

import (
	"fmt"
	"math"
	"sync"
)

// DefaultSilenceThreshold is the RMS level on a [-1, 1] normalized scale
// below which a fragment is considered silence.
const DefaultSilenceThreshold = 0.01

// Detector classifies audio fragments as speech or silence using RMS energy.
// Classification is per-fragment and decode-free: the fragment bytes are
// interpreted directly as little-endian PCM-16 samples. A fragment that
// cannot be interpreted fails open and is classified as speech, so ambiguous
// audio is never dropped from consideration.
type Detector struct {
	threshold float64

	// Statistics
	totalFragments  uint64
	silentFragments uint64

	mu sync.RWMutex
}

// DetectorStats represents detector statistics for monitoring.
type DetectorStats struct {
	Threshold        float64 `json:"threshold"`
	TotalFragments   uint64  `json:"total_fragments"`
	SilentFragments  uint64  `json:"silent_fragments"`
	SilentPercentage float64 `json:"silent_percentage"`
}

// NewDetector creates a new energy detector with the given RMS threshold.
func NewDetector(threshold float64) (*Detector, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	return &Detector{threshold: threshold}, nil
}

// RMS computes the root-mean-square energy of a fragment interpreted as
// little-endian PCM-16 samples, normalized to [-1, 1]. An odd-length
// fragment cannot be interpreted as 16-bit samples and returns an error.
func RMS(fragment []byte) (float64, error) {
	if len(fragment)%2 != 0 {
		return 0, fmt.Errorf("fragment length must be even to interpret as PCM-16, got %d bytes", len(fragment))
	}

	numSamples := len(fragment) / 2
	if numSamples == 0 {
		return 0, nil
	}

	var sum float64
	for i := 0; i < numSamples; i++ {
		sample := int16(fragment[i*2]) | int16(fragment[i*2+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(numSamples)), nil
}

// IsSilence reports whether a fragment classifies as silence. Empty
// fragments are silence; fragments whose samples cannot be interpreted
// fail open and classify as speech.
func (d *Detector) IsSilence(fragment []byte) bool {
	if len(fragment) == 0 {
		d.record(true)
		return true
	}

	rms, err := RMS(fragment)
	if err != nil {
		// Fail open: treat unanalyzable audio as speech.
		d.record(false)
		return false
	}

	d.mu.RLock()
	threshold := d.threshold
	d.mu.RUnlock()

	silent := rms < threshold
	d.record(silent)
	return silent
}

// Threshold returns the current silence threshold.
func (d *Detector) Threshold() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.threshold
}

// UpdateThreshold updates the silence threshold.
func (d *Detector) UpdateThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.threshold = threshold
	return nil
}

// GetStats returns current detector statistics.
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	silentPercentage := float64(0)
	if d.totalFragments > 0 {
		silentPercentage = float64(d.silentFragments) / float64(d.totalFragments) * 100
	}

	return DetectorStats{
		Threshold:        d.threshold,
		TotalFragments:   d.totalFragments,
		SilentFragments:  d.silentFragments,
		SilentPercentage: silentPercentage,
	}
}

// Reset clears the detector statistics.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalFragments = 0
	d.silentFragments = 0
}

func (d *Detector) record(silent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalFragments++
	if silent {
		d.silentFragments++
	}
}
