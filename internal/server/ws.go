package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicepipe/voice-ingest-service/internal/config"
	"github.com/voicepipe/voice-ingest-service/internal/metrics"
	"github.com/voicepipe/voice-ingest-service/internal/protocol"
	"github.com/voicepipe/voice-ingest-service/internal/session"
)

const writeTimeout = 10 * time.Second

// WSServer accepts WebSocket connections and feeds each one into its own
// session. Binary frames carry raw audio fragments; text frames carry
// protocol envelopes.
type WSServer struct {
	server   *http.Server
	upgrader websocket.Upgrader
	manager  *session.Manager
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// Statistics
	connectionsTotal  uint64
	connectionsActive int

	wg sync.WaitGroup
	mu sync.RWMutex
}

// WSStats represents WebSocket server statistics
type WSStats struct {
	ConnectionsTotal  uint64 `json:"connections_total"`
	ConnectionsActive int    `json:"connections_active"`
}

// NewWSServer creates the WebSocket ingestion server.
func NewWSServer(cfg config.ServerConfig, manager *session.Manager, m *metrics.Metrics, logger *slog.Logger) *WSServer {
	s := &WSServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		manager: manager,
		metrics: m,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Start begins accepting connections.
func (s *WSServer) Start() error {
	s.logger.Info("Starting WebSocket server",
		slog.String("address", s.server.Addr),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("WebSocket server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop shuts the listener down and waits for connection handlers.
func (s *WSServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping WebSocket server...")

	err := s.server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return err
}

// GetStats returns current server statistics
func (s *WSServer) GetStats() WSStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return WSStats{
		ConnectionsTotal:  s.connectionsTotal,
		ConnectionsActive: s.connectionsActive,
	}
}

func (s *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	sess, err := s.manager.CreateSession(r.URL.Query().Get("language"))
	if err != nil {
		s.logger.Warn("Rejecting connection",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		s.writeMessage(conn, protocol.NewError(err.Error()))
		conn.Close()
		return
	}

	s.mu.Lock()
	s.connectionsTotal++
	s.connectionsActive++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.WSConnections.Inc()
	}

	s.logger.Info("Connection established",
		slog.String("remote", r.RemoteAddr),
		slog.String("session_id", sess.ID),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serveConnection(conn, sess, r.RemoteAddr)
	}()
}

// serveConnection owns one connection for its lifetime: a writer
// goroutine pumps session events and acks out, the read loop below feeds
// fragments and control messages in.
func (s *WSServer) serveConnection(conn *websocket.Conn, sess *session.Session, remote string) {
	defer func() {
		s.manager.RemoveSession(sess.ID)
		conn.Close()

		s.mu.Lock()
		s.connectionsActive--
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.WSConnections.Dec()
		}

		s.logger.Info("Connection closed",
			slog.String("remote", remote),
			slog.String("session_id", sess.ID),
		)
	}()

	outbound := make(chan *protocol.ServerMessage, 16)
	done := make(chan struct{})

	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		s.writeLoop(conn, sess, outbound, done)
	}()

	s.readLoop(conn, sess, outbound)

	close(done)
	writerWG.Wait()
}

func (s *WSServer) readLoop(conn *websocket.Conn, sess *session.Session, outbound chan<- *protocol.ServerMessage) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Read error",
					slog.String("session_id", sess.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		if s.metrics != nil {
			s.metrics.RecordWSMessageReceived()
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := sess.AddFragment(data); err != nil {
				return
			}

		case websocket.TextMessage:
			if stop := s.handleTextMessage(data, sess, outbound); stop {
				return
			}
		}
	}
}

// handleTextMessage processes one protocol envelope. It returns true
// when the connection should close.
func (s *WSServer) handleTextMessage(data []byte, sess *session.Session, outbound chan<- *protocol.ServerMessage) bool {
	msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordWSProtocolError()
		}

		s.logger.Debug("Malformed client message",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)

		s.enqueue(outbound, protocol.NewError(err.Error()))
		return false
	}

	switch msg.Type {
	case protocol.TypeStart:
		if msg.Language != "" {
			sess.SetLanguage(msg.Language)
		}
		s.enqueue(outbound, protocol.NewStatus("started"))

	case protocol.TypeAudio:
		payload, err := msg.AudioBytes()
		if err != nil {
			if s.metrics != nil {
				s.metrics.RecordWSProtocolError()
			}
			s.enqueue(outbound, protocol.NewError(err.Error()))
			return false
		}
		if err := sess.AddFragment(payload); err != nil {
			return true
		}

	case protocol.TypeStop:
		sess.Flush()
		s.enqueue(outbound, protocol.NewStatus("stopped"))

	case protocol.TypePing:
		s.enqueue(outbound, &protocol.ServerMessage{
			Type:      protocol.TypePong,
			Timestamp: time.Now().UnixMilli(),
		})
	}

	return false
}

// enqueue drops the message if the outbound queue is full rather than
// blocking the read loop.
func (s *WSServer) enqueue(outbound chan<- *protocol.ServerMessage, msg *protocol.ServerMessage) {
	select {
	case outbound <- msg:
	default:
		s.logger.Warn("Outbound queue full, dropping message",
			slog.String("type", msg.Type),
		)
	}
}

func (s *WSServer) writeLoop(conn *websocket.Conn, sess *session.Session, outbound <-chan *protocol.ServerMessage, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return

		case msg := <-outbound:
			if err := s.writeMessage(conn, msg); err != nil {
				return
			}

		case event := <-sess.Events():
			if err := s.writeMessage(conn, eventToMessage(event)); err != nil {
				return
			}
		}
	}
}

func (s *WSServer) writeMessage(conn *websocket.Conn, msg *protocol.ServerMessage) error {
	data, err := msg.Encode()
	if err != nil {
		s.logger.Error("Failed to encode server message", slog.String("error", err.Error()))
		return nil
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordWSMessageSent()
	}
	return nil
}

func eventToMessage(event session.Event) *protocol.ServerMessage {
	if event.Type == session.EventError {
		msg := protocol.NewError(event.Err.Error())
		msg.UtteranceID = event.UtteranceID
		return msg
	}

	return protocol.NewTranscript(event.UtteranceID, event.Text, event.Language,
		event.Trigger, event.Duration, event.Degraded)
}
