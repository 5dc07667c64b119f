// Package tts provides the HTTP client for the speech synthesis backend.
package tts
