// Package protocol defines the JSON message envelope exchanged with
// clients over the WebSocket transport.
//
// Binary WebSocket frames carry raw audio fragments and need no envelope.
// Text frames carry ClientMessage values for session control (start,
// configuration, explicit stop) and ServerMessage values for transcripts
// and errors flowing back to the client.
package protocol
