package ws

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"quickchat/internal/models"

	"github.com/gorilla/websocket"
)

type mockWS struct {
	writeCh chan any
	readCh  chan []byte
	pingCh  chan struct{}
	closeCh chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	readErr   error
	writeErr  error
}

func newMockWS() *mockWS {
	return &mockWS{
		writeCh: make(chan any, 100),
		readCh:  make(chan []byte, 100),
		pingCh:  make(chan struct{}, 100),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.closeCh)
	})
	return nil
}

func (m *mockWS) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockWS) WriteJSON(v any) error {
	m.mu.Lock()
	err := m.writeErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case m.writeCh <- v:
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

func (m *mockWS) NextReader() (int, io.Reader, error) {
	m.mu.Lock()
	err := m.readErr
	m.mu.Unlock()
	if err != nil {
		return 0, nil, err
	}
	select {
	case frame := <-m.readCh:
		return websocket.TextMessage, bytes.NewReader(frame), nil
	case <-m.closeCh:
		return 0, nil, errors.New("connection closed")
	}
}

func (m *mockWS) Ping() error {
	select {
	case m.pingCh <- struct{}{}:
	default:
	}
	return nil
}

// recordingAnnouncer captures the online snapshot at every announcement.
type recordingAnnouncer struct {
	registry  *Registry
	mu        sync.Mutex
	snapshots [][]string
}

func (a *recordingAnnouncer) announce() {
	snapshot := a.registry.OnlineIdentities()
	a.mu.Lock()
	a.snapshots = append(a.snapshots, snapshot)
	a.mu.Unlock()
}

func (a *recordingAnnouncer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.snapshots)
}

func newRecordingRegistry() (*Registry, *recordingAnnouncer) {
	r := NewRegistry()
	a := &recordingAnnouncer{registry: r}
	r.announcer = a
	return r, a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func receiveEvent(t *testing.T, ch chan any) models.ServerEvent {
	t.Helper()
	select {
	case v := <-ch:
		ev, ok := v.(models.ServerEvent)
		if !ok {
			t.Fatalf("WS received wrong type: %T", v)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("WS did not receive an event")
	}
	return models.ServerEvent{}
}
