package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Client message types.
const (
	TypeStart = "start" // begin or reconfigure a session
	TypeAudio = "audio" // base64 audio fragment (alternative to binary frames)
	TypeStop  = "stop"  // flush pending audio and end the utterance
	TypePing  = "ping"  // liveness probe
)

// Server message types.
const (
	TypeTranscript = "transcript"
	TypeError      = "error"
	TypeStatus     = "status"
	TypePong       = "pong"
)

// MaxMessageSize caps a single text frame. Audio sent inline as base64
// grows by 4/3, so this admits roughly 1.5s of estimated audio per frame.
const MaxMessageSize = 64 * 1024

// ClientMessage is the envelope for client-to-server text frames.
type ClientMessage struct {
	Type     string `json:"type"`
	Audio    string `json:"audio,omitempty"`
	Format   string `json:"format,omitempty"`
	Language string `json:"language,omitempty"`
}

// ServerMessage is the envelope for server-to-client text frames.
type ServerMessage struct {
	Type        string  `json:"type"`
	Text        string  `json:"text,omitempty"`
	Language    string  `json:"language,omitempty"`
	UtteranceID string  `json:"utterance_id,omitempty"`
	Trigger     string  `json:"trigger,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	Degraded    bool    `json:"degraded,omitempty"`
	Error       string  `json:"error,omitempty"`
	Timestamp   int64   `json:"timestamp,omitempty"`
}

// ParseClientMessage decodes and validates a client text frame.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("message too large: %d bytes (max %d)", len(data), MaxMessageSize)
	}

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch msg.Type {
	case TypeStart, TypeStop, TypePing:
	case TypeAudio:
		if msg.Audio == "" {
			return nil, fmt.Errorf("audio message with empty payload")
		}
	default:
		return nil, fmt.Errorf("unknown message type: %q", msg.Type)
	}

	return &msg, nil
}

// AudioBytes decodes the inline base64 audio payload.
func (m *ClientMessage) AudioBytes() ([]byte, error) {
	if m.Audio == "" {
		return nil, fmt.Errorf("no audio payload")
	}

	data, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio: %w", err)
	}
	return data, nil
}

// NewTranscript builds a transcript message for a completed utterance.
func NewTranscript(utteranceID, text, language, trigger string, duration float64, degraded bool) *ServerMessage {
	return &ServerMessage{
		Type:        TypeTranscript,
		Text:        text,
		Language:    language,
		UtteranceID: utteranceID,
		Trigger:     trigger,
		Duration:    duration,
		Degraded:    degraded,
		Timestamp:   time.Now().UnixMilli(),
	}
}

// NewError builds an error message. Errors are advisory: the session
// stays open unless the transport itself failed.
func NewError(message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		Error:     message,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewStatus builds a status message, used to acknowledge start and stop.
func NewStatus(text string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Encode serializes a server message for a text frame.
func (m *ServerMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}
