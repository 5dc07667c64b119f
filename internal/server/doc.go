// Package server provides the two network surfaces of the service: the
// WebSocket ingestion endpoint that clients stream audio to, and the
// HTTP API for health, monitoring, and Prometheus metrics.
package server
