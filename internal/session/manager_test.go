package session

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voicepipe/voice-ingest-service/internal/audio"
	"github.com/voicepipe/voice-ingest-service/internal/transcription"
)

// stubTranscriber records requests and returns a canned result.
type stubTranscriber struct {
	mu       sync.Mutex
	requests []*transcription.Request
	block    chan struct{} // when set, Transcribe waits on it
	err      error
}

func (s *stubTranscriber) Transcribe(ctx context.Context, request *transcription.Request) (*transcription.Result, error) {
	s.mu.Lock()
	s.requests = append(s.requests, request)
	block := s.block
	err := s.err
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	return &transcription.Result{Text: "hello", Language: request.Language}, nil
}

func (s *stubTranscriber) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func testManagerConfig(vadEnabled bool) ManagerConfig {
	return ManagerConfig{
		Session: Config{
			Format:              "wav",
			Language:            "en",
			MinFragmentDuration: 0.1,
			VADEnabled:          vadEnabled,
			SilenceThreshold:    time.Second,
			MaxUtterance:        time.Second,
			ChunkDuration:       0.5,
			MaxBufferDuration:   60.0,
		},
		MaxSessions: 10,
		IdleTimeout: time.Minute,
		ByteRate:    3200,
		SampleRate:  16000,
	}
}

func newTestManager(t *testing.T, vadEnabled bool, stub *stubTranscriber) *Manager {
	t.Helper()

	mgr, err := NewManager(testManagerConfig(vadEnabled), stub, nil, slog.Default())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return mgr
}

// speechFragment builds raw PCM-16 with every sample at 16384, which the
// energy detector classifies as speech.
func speechFragment(numBytes int) []byte {
	data := make([]byte, numBytes)
	for i := 0; i+1 < numBytes; i += 2 {
		data[i] = 0x00
		data[i+1] = 0x40
	}
	return data
}

func waitEvent(t *testing.T, s *Session) Event {
	t.Helper()

	select {
	case event := <-s.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for session event")
		return Event{}
	}
}

func TestCreateAndRemoveSession(t *testing.T) {
	mgr := newTestManager(t, false, &stubTranscriber{})

	session, err := mgr.CreateSession("uk")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if session.Language != "uk" {
		t.Errorf("Expected language override uk, got %q", session.Language)
	}

	if got, exists := mgr.GetSession(session.ID); !exists || got != session {
		t.Error("Expected to retrieve created session")
	}

	if mgr.GetActiveSessionCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", mgr.GetActiveSessionCount())
	}

	if !mgr.RemoveSession(session.ID) {
		t.Error("Expected RemoveSession to succeed")
	}

	if mgr.RemoveSession(session.ID) {
		t.Error("Expected second RemoveSession to fail")
	}

	if mgr.GetActiveSessionCount() != 0 {
		t.Errorf("Expected 0 active sessions, got %d", mgr.GetActiveSessionCount())
	}
}

func TestSessionLimit(t *testing.T) {
	config := testManagerConfig(false)
	config.MaxSessions = 1

	mgr, err := NewManager(config, &stubTranscriber{}, nil, slog.Default())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	defer mgr.Stop()

	if _, err := mgr.CreateSession(""); err != nil {
		t.Fatalf("First session failed: %v", err)
	}

	if _, err := mgr.CreateSession(""); err == nil {
		t.Error("Expected error at session limit")
	}
}

func TestFragmentAdmission(t *testing.T) {
	mgr := newTestManager(t, false, &stubTranscriber{})

	session, err := mgr.CreateSession("")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Below the 100ms floor at 3200 B/s.
	if err := session.AddFragment(make([]byte, 100)); err != nil {
		t.Fatalf("AddFragment failed: %v", err)
	}

	if err := session.AddFragment(make([]byte, 320)); err != nil {
		t.Fatalf("AddFragment failed: %v", err)
	}

	info := session.Info()
	if info.FragmentsRejected != 1 {
		t.Errorf("Expected 1 rejected fragment, got %d", info.FragmentsRejected)
	}
	if info.FragmentsAccepted != 1 {
		t.Errorf("Expected 1 accepted fragment, got %d", info.FragmentsAccepted)
	}
}

func TestFixedWindowDispatch(t *testing.T) {
	stub := &stubTranscriber{}
	mgr := newTestManager(t, false, stub)

	session, err := mgr.CreateSession("en")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// 0.5s chunk duration at 3200 B/s: 1600 bytes fills the window.
	if err := session.AddFragment(make([]byte, 1600)); err != nil {
		t.Fatalf("AddFragment failed: %v", err)
	}

	event := waitEvent(t, session)
	if event.Type != EventTranscript {
		t.Fatalf("Expected transcript event, got %q", event.Type)
	}
	if event.Text != "hello" {
		t.Errorf("Expected text 'hello', got %q", event.Text)
	}
	if event.UtteranceID == "" {
		t.Error("Expected utterance ID set")
	}

	if stub.requestCount() != 1 {
		t.Errorf("Expected 1 transcription request, got %d", stub.requestCount())
	}

	stub.mu.Lock()
	request := stub.requests[0]
	stub.mu.Unlock()

	if request.SessionID != session.ID {
		t.Errorf("Expected session ID on request, got %q", request.SessionID)
	}
	if request.Language != "en" {
		t.Errorf("Expected language en, got %q", request.Language)
	}
	if !request.Degraded {
		t.Error("Expected raw PCM assembly to be marked degraded")
	}
}

func TestVADMaxDurationDispatch(t *testing.T) {
	stub := &stubTranscriber{}
	mgr := newTestManager(t, true, stub)

	session, err := mgr.CreateSession("")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Continuous speech past the 1s utterance cap (3200 bytes estimated).
	session.AddFragment(speechFragment(1600))
	session.AddFragment(speechFragment(1600))

	event := waitEvent(t, session)
	if event.Type != EventTranscript {
		t.Fatalf("Expected transcript event, got %q", event.Type)
	}
	if event.Trigger != "max_duration" {
		t.Errorf("Expected max_duration trigger, got %q", event.Trigger)
	}

	// Buffer drained after the flush.
	if session.Info().BufferedChunks != 0 {
		t.Errorf("Expected drained buffer, got %d chunks", session.Info().BufferedChunks)
	}
}

func TestInFlightHoldsBufferedAudio(t *testing.T) {
	block := make(chan struct{})
	stub := &stubTranscriber{block: block}
	mgr := newTestManager(t, false, stub)

	session, err := mgr.CreateSession("")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// First utterance occupies the in-flight slot.
	session.AddFragment(make([]byte, 1600))

	deadline := time.Now().Add(2 * time.Second)
	for stub.requestCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for first dispatch")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The window fills again while the first call is still running. The
	// fragments must stay buffered, unassembled, until the slot frees.
	session.AddFragment(make([]byte, 1600))

	info := session.Info()
	if info.UtterancesDropped != 0 {
		t.Errorf("Expected no dropped utterances, got %d", info.UtterancesDropped)
	}
	if info.UtterancesSent != 1 {
		t.Errorf("Expected 1 sent utterance, got %d", info.UtterancesSent)
	}
	if info.BufferedChunks == 0 {
		t.Error("Expected held fragments to remain buffered")
	}
	if stub.requestCount() != 1 {
		t.Fatalf("Expected held audio to wait for the slot, got %d requests", stub.requestCount())
	}

	close(block)

	event := waitEvent(t, session)
	if event.Type != EventTranscript {
		t.Errorf("Expected transcript for first utterance, got %q", event.Type)
	}

	// Freeing the slot flushes the held audio without another fragment.
	event = waitEvent(t, session)
	if event.Type != EventTranscript {
		t.Errorf("Expected transcript for held utterance, got %q", event.Type)
	}

	if stub.requestCount() != 2 {
		t.Errorf("Expected held utterance to reach the backend, got %d requests", stub.requestCount())
	}

	if session.Info().UtterancesDropped != 0 {
		t.Errorf("Expected no drops after recovery, got %d", session.Info().UtterancesDropped)
	}
}

func TestInFlightDropAtBufferCap(t *testing.T) {
	block := make(chan struct{})
	stub := &stubTranscriber{block: block}

	config := testManagerConfig(true)
	config.Session.MaxBufferDuration = 1.0

	mgr, err := NewManager(config, stub, nil, slog.Default())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(mgr.Stop)

	session, err := mgr.CreateSession("")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// First utterance hits the 1s cap and occupies the in-flight slot.
	session.AddFragment(speechFragment(1600))
	session.AddFragment(speechFragment(1600))

	deadline := time.Now().Add(2 * time.Second)
	for stub.requestCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for first dispatch")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Speech keeps arriving until the buffer reaches the hard cap while
	// the backend stalls. Only then is the audio discarded.
	session.AddFragment(speechFragment(1600))
	session.AddFragment(speechFragment(1600))

	info := session.Info()
	if info.UtterancesDropped != 1 {
		t.Errorf("Expected 1 dropped utterance at the cap, got %d", info.UtterancesDropped)
	}
	if info.BufferedChunks != 0 {
		t.Errorf("Expected cleared buffer after the drop, got %d chunks", info.BufferedChunks)
	}

	close(block)

	event := waitEvent(t, session)
	if event.Type != EventTranscript {
		t.Errorf("Expected transcript for first utterance, got %q", event.Type)
	}

	if stub.requestCount() != 1 {
		t.Errorf("Expected dropped audio to never reach the backend, got %d requests", stub.requestCount())
	}
}

func TestWindowTriggerReasons(t *testing.T) {
	stub := &stubTranscriber{}
	mgr := newTestManager(t, false, stub)

	session, err := mgr.CreateSession("")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Ordinary chunk-duration readiness reports the window trigger, not
	// the hard cap.
	session.AddFragment(make([]byte, 1600))

	event := waitEvent(t, session)
	if event.Trigger != audio.TriggerWindow {
		t.Errorf("Expected window trigger, got %q", event.Trigger)
	}
}

func TestTranscriptionErrorEvent(t *testing.T) {
	stub := &stubTranscriber{err: context.DeadlineExceeded}
	mgr := newTestManager(t, false, stub)

	session, err := mgr.CreateSession("")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	session.AddFragment(make([]byte, 1600))

	event := waitEvent(t, session)
	if event.Type != EventError {
		t.Fatalf("Expected error event, got %q", event.Type)
	}
	if event.Err == nil {
		t.Error("Expected error attached to event")
	}
}

func TestRemoveFlushesPendingAudio(t *testing.T) {
	stub := &stubTranscriber{}
	mgr := newTestManager(t, false, stub)

	session, err := mgr.CreateSession("")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Below the window threshold, so nothing has dispatched yet.
	session.AddFragment(make([]byte, 640))
	if stub.requestCount() != 0 {
		t.Fatal("Unexpected early dispatch")
	}

	mgr.RemoveSession(session.ID)

	// The teardown flush is fire-and-forget but must still reach the
	// backend.
	deadline := time.Now().Add(2 * time.Second)
	for stub.requestCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected teardown flush to dispatch buffered audio")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := session.AddFragment(make([]byte, 640)); err == nil {
		t.Error("Expected error adding to closed session")
	}
}
