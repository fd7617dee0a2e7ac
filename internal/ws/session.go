package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"quickchat/internal/models"

	"github.com/google/uuid"
)

var (
	ErrMissingIdentity = errors.New("session has no user identity")
	ErrSessionClosed   = errors.New("session closed")
	ErrQueueFull       = errors.New("session send queue full")
)

const (
	DefaultQueueSize    = 64
	DefaultPingInterval = 30 * time.Second
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	NextReader() (messageType int, r io.Reader, err error)
	Ping() error
}

type SessionState int32

const (
	StateConnecting SessionState = iota
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type SessionConfig struct {
	QueueSize    int
	PingInterval time.Duration
}

// Session is one live realtime connection. It owns the outbound queue and
// is the only writer to its socket.
type Session struct {
	id       string
	userID   string
	ws       wsConnection
	registry *Registry
	logger   *slog.Logger

	pingInterval time.Duration
	state        atomic.Int32

	mu     sync.Mutex
	closed bool
	send   chan models.ServerEvent

	unregisterOnce sync.Once
}

func NewSession(registry *Registry, ws wsConnection, userID string, cfg SessionConfig, logger *slog.Logger) *Session {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:           uuid.NewString(),
		userID:       userID,
		ws:           ws,
		registry:     registry,
		pingInterval: cfg.PingInterval,
		send:         make(chan models.ServerEvent, cfg.QueueSize),
	}
	s.logger = logger.With("session_id", s.id, "user_id", userID)
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) UserID() string {
	return s.userID
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Enqueue queues event for delivery without blocking.
func (s *Session) Enqueue(event models.ServerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close moves the session to Closed and closes the outbound queue.
// Safe to call any number of times from any goroutine. Unregistering
// happens on the Run goroutine.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.state.Store(int32(StateClosed))
	close(s.send)
}

// Run activates the session and pumps it until the transport fails,
// ctx is cancelled or Close is called. It always closes the socket.
func (s *Session) Run(ctx context.Context) error {
	if s.userID == "" {
		s.Close()
		_ = s.ws.Close()
		return ErrMissingIdentity
	}
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		_ = s.ws.Close()
		return ErrSessionClosed
	}

	s.registry.Register(s.userID, s)
	s.logger.Debug("session active")
	defer s.unregister()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	wg.Go(func() {
		cancel(s.readLoop())
	})
	wg.Go(func() {
		cancel(s.writeLoop(ctx))
	})

	<-ctx.Done()
	err := context.Cause(ctx)
	s.Close()
	_ = s.ws.Close()
	wg.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Session) unregister() {
	s.unregisterOnce.Do(func() {
		s.registry.Unregister(s.userID, s)
		s.logger.Debug("session closed")
	})
}

// readLoop drains client frames. The channel is push-only, so anything the
// client sends is dropped unparsed. Only transport errors end the session.
func (s *Session) readLoop() error {
	for {
		_, r, err := s.ws.NextReader()
		if err != nil {
			return err
		}
		if _, err := io.Copy(io.Discard, r); err != nil {
			return err
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-s.send:
			if !ok {
				return nil
			}
			if err := s.ws.WriteJSON(event); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.ws.Ping(); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
