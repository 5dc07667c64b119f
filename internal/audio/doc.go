// Package audio implements the streaming-audio ingestion core: format
// conversion with a best-effort decode fallback chain, decode-free fragment
// validation, fixed-window buffering, and silence-triggered utterance
// buffering for transcription.
package audio
