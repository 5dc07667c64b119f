// Package transcription provides the HTTP client for the speech-to-text
// backend. Completed utterances are uploaded as multipart form data with
// retry, exponential backoff, and a concurrency cap.
package transcription
