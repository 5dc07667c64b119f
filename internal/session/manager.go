package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicepipe/voice-ingest-service/internal/audio"
	"github.com/voicepipe/voice-ingest-service/internal/metrics"
	"github.com/voicepipe/voice-ingest-service/internal/vad"
)

// Manager owns all active sessions and reaps idle ones.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	config      Config
	maxSessions int
	idleTimeout time.Duration

	converter *audio.Converter
	validator *audio.Validator
	detector  *vad.Detector
	client    Transcriber
	metrics   *metrics.Metrics
	logger    *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// ManagerConfig contains configuration for the session manager.
type ManagerConfig struct {
	Session     Config
	MaxSessions int
	IdleTimeout time.Duration

	ByteRate            int
	SampleRate          int
	RMSSilenceThreshold float64
}

// NewManager creates a session manager and starts its cleanup routine.
func NewManager(config ManagerConfig, client Transcriber, m *metrics.Metrics, logger *slog.Logger) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}

	if config.MaxSessions <= 0 {
		config.MaxSessions = 1000
	}

	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 5 * time.Minute
	}

	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}

	converter, err := audio.NewConverter(config.SampleRate, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create converter: %w", err)
	}

	var detector *vad.Detector
	if config.Session.VADEnabled {
		threshold := config.RMSSilenceThreshold
		if threshold == 0 {
			threshold = vad.DefaultSilenceThreshold
		}
		detector, err = vad.NewDetector(threshold)
		if err != nil {
			return nil, fmt.Errorf("failed to create detector: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions:    make(map[string]*Session),
		config:      config.Session,
		maxSessions: config.MaxSessions,
		idleTimeout: config.IdleTimeout,
		converter:   converter,
		validator:   audio.NewValidator(config.ByteRate, converter),
		detector:    detector,
		client:      client,
		metrics:     m,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		cleanup:     make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// CreateSession creates a new session. The language overrides the
// configured default when non-empty.
func (m *Manager) CreateSession(language string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxSessions {
		return nil, fmt.Errorf("session limit reached: %d", m.maxSessions)
	}

	config := m.config
	if language != "" {
		config.Language = language
	}

	session, err := newSession(config, m.converter, m.validator, m.detector,
		m.client, m.metrics, m.logger)
	if err != nil {
		return nil, err
	}

	m.sessions[session.ID] = session

	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
		m.metrics.SetActiveSessions(len(m.sessions))
	}

	m.logger.Info("Created session",
		slog.String("session_id", session.ID),
		slog.String("language", config.Language),
		slog.Bool("vad_enabled", config.VADEnabled),
	)

	return session, nil
}

// GetSession retrieves an existing session.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// GetActiveSessionCount returns the number of currently active sessions.
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessionInfo returns a snapshot of all sessions for monitoring.
func (m *Manager) GetAllSessionInfo() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, session := range m.sessions {
		infos = append(infos, session.Info())
	}
	return infos
}

// RemoveSession closes a session and drops it from the registry. The
// session's final flush runs fire-and-forget.
func (m *Manager) RemoveSession(id string) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	if !exists {
		return false
	}

	session.Close()

	duration := time.Since(session.StartTime)
	if m.metrics != nil {
		m.metrics.RecordSessionDestroyed(duration.Seconds())
		m.metrics.SetActiveSessions(remaining)
	}

	m.logger.Info("Removed session",
		slog.String("session_id", id),
		slog.Duration("duration", duration),
	)

	return true
}

// Stop closes all sessions and stops the cleanup routine.
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager")

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}

	m.cancel()
	<-m.cleanup

	m.logger.Info("Session manager stopped",
		slog.Int("closed_sessions", len(sessions)),
	)
}

func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupIdleSessions()
		}
	}
}

func (m *Manager) cleanupIdleSessions() {
	now := time.Now()
	expired := make([]string, 0)

	m.mu.RLock()
	for id, session := range m.sessions {
		if now.Sub(session.lastActivity()) > m.idleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.logger.Info("Cleaning up idle sessions",
		slog.Int("expired_count", len(expired)),
	)

	for _, id := range expired {
		m.RemoveSession(id)
	}
}
