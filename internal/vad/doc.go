// Package vad provides lightweight energy-based voice activity detection.
// It classifies raw audio fragments as speech or silence from their RMS
// energy, without decoding, so it costs O(1) work per network fragment.
package vad
