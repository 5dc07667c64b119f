// Package session manages per-client ingestion state: each session owns
// one audio buffer, feeds it from a single connection, and dispatches
// completed utterances to the transcription backend.
//
// A session allows at most one in-flight transcription. A trigger that
// fires while a dispatch is running leaves the fragments buffered; they
// flush when the running call completes. Audio is discarded only when the
// buffer grows past its hard cap while the backend stalls, so a slow
// backend cannot grow unbounded work per client.
package session
