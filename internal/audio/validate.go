package audio

// Validator performs cheap admissibility checks on raw fragments before any
// decode attempt. Decoding a lone streaming fragment is frequently
// impossible, so admission works from byte-rate heuristics alone.
type Validator struct {
	byteRate  int
	converter *Converter
}

// NewValidator creates a validator using the given estimated compressed
// byte rate. A converter is required for full-asset format validation.
func NewValidator(byteRate int, converter *Converter) *Validator {
	if byteRate <= 0 {
		byteRate = estimatedByteRate
	}

	return &Validator{
		byteRate:  byteRate,
		converter: converter,
	}
}

// IsValid reports whether a fragment is plausibly usable: non-empty and at
// least minDuration seconds long under the byte-rate estimate. No decode is
// attempted.
func (v *Validator) IsValid(fragment []byte, minDuration float64) bool {
	if len(fragment) == 0 {
		return false
	}

	minBytes := int(minDuration * float64(v.byteRate))
	return len(fragment) >= minBytes
}

// ValidateFormat attempts a real decode of a complete asset against each of
// the allowed container formats and reports whether any succeeded. An
// unsupported format is an expected, recoverable condition: the result is
// false, never an error. This must only be called on fully-assembled audio,
// never on a single streaming fragment.
func (v *Validator) ValidateFormat(data []byte, allowedFormats []string) bool {
	if len(data) == 0 {
		return false
	}

	if len(allowedFormats) == 0 {
		allowedFormats = []string{FormatWAV, FormatOgg}
	}

	for _, format := range allowedFormats {
		if _, err := v.converter.ToCanonical(data, format); err == nil {
			return true
		}
	}

	return false
}
