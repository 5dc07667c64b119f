package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicepipe/voice-ingest-service/internal/config"
	"github.com/voicepipe/voice-ingest-service/internal/protocol"
	"github.com/voicepipe/voice-ingest-service/internal/session"
	"github.com/voicepipe/voice-ingest-service/internal/transcription"
)

type fakeTranscriber struct{}

func (f *fakeTranscriber) Transcribe(ctx context.Context, request *transcription.Request) (*transcription.Result, error) {
	return &transcription.Result{Text: "transcribed", Language: request.Language}, nil
}

func newTestWSServer(t *testing.T) (*WSServer, *httptest.Server) {
	t.Helper()

	mgr, err := session.NewManager(session.ManagerConfig{
		Session: session.Config{
			Format:              "wav",
			MinFragmentDuration: 0.1,
			ChunkDuration:       0.5,
			MaxBufferDuration:   60.0,
		},
		MaxSessions: 10,
		IdleTimeout: time.Minute,
		ByteRate:    3200,
		SampleRate:  16000,
	}, &fakeTranscriber{}, nil, slog.Default())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(mgr.Stop)

	ws := NewWSServer(config.ServerConfig{
		BindAddress:     "127.0.0.1",
		Port:            0,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}, mgr, nil, slog.Default())

	httpServer := httptest.NewServer(http.HandlerFunc(ws.handleUpgrade))
	t.Cleanup(httpServer.Close)

	return ws, httpServer
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessageOfType reads frames until one of the wanted type arrives.
func readMessageOfType(t *testing.T, conn *websocket.Conn, wanted string) protocol.ServerMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Read failed waiting for %q: %v", wanted, err)
		}

		var msg protocol.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Invalid server message: %v", err)
		}

		if msg.Type == wanted {
			return msg
		}
	}
}

func TestBinaryFragmentProducesTranscript(t *testing.T) {
	_, server := newTestWSServer(t)
	conn := dial(t, server, "?language=en")

	// 0.5s of estimated audio fills the fixed window and dispatches.
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 1600)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	msg := readMessageOfType(t, conn, protocol.TypeTranscript)
	if msg.Text != "transcribed" {
		t.Errorf("Expected text 'transcribed', got %q", msg.Text)
	}
	if msg.UtteranceID == "" {
		t.Error("Expected utterance ID on transcript")
	}
}

func TestControlMessages(t *testing.T) {
	_, server := newTestWSServer(t)
	conn := dial(t, server, "")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start","language":"uk"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if msg := readMessageOfType(t, conn, protocol.TypeStatus); msg.Text != "started" {
		t.Errorf("Expected started ack, got %q", msg.Text)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	readMessageOfType(t, conn, protocol.TypePong)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if msg := readMessageOfType(t, conn, protocol.TypeStatus); msg.Text != "stopped" {
		t.Errorf("Expected stopped ack, got %q", msg.Text)
	}
}

func TestMalformedMessageKeepsConnectionOpen(t *testing.T) {
	_, server := newTestWSServer(t)
	conn := dial(t, server, "")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"reboot"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if msg := readMessageOfType(t, conn, protocol.TypeError); msg.Error == "" {
		t.Error("Expected error detail")
	}

	// The session is still usable afterwards.
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 1600)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	readMessageOfType(t, conn, protocol.TypeTranscript)
}

func TestStopFlushesPartialWindow(t *testing.T) {
	_, server := newTestWSServer(t)
	conn := dial(t, server, "")

	// Below the window threshold: no dispatch yet.
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 640)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	readMessageOfType(t, conn, protocol.TypeTranscript)
}

func TestConnectionStats(t *testing.T) {
	ws, server := newTestWSServer(t)
	conn := dial(t, server, "")

	deadline := time.Now().Add(2 * time.Second)
	for ws.GetStats().ConnectionsActive != 1 {
		if time.Now().After(deadline) {
			t.Fatal("Expected 1 active connection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for ws.GetStats().ConnectionsActive != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected connection count to drop after close")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if ws.GetStats().ConnectionsTotal != 1 {
		t.Errorf("Expected 1 total connection, got %d", ws.GetStats().ConnectionsTotal)
	}
}
