package ws

import (
	"errors"
	"log/slog"
	"sync"

	"quickchat/internal/models"
)

// Broadcaster fans events out to registered sessions. Enqueueing never
// blocks: a session that cannot keep up is closed and resyncs on reconnect.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger

	// Serializes presence announcements so that the last snapshot a session
	// receives is the most recent one.
	mu sync.Mutex
}

// NewBroadcaster creates a broadcaster and hooks it into the registry so
// every registry mutation announces the new presence snapshot.
func NewBroadcaster(registry *Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broadcaster{
		registry: registry,
		logger:   logger,
	}
	registry.announcer = b
	return b
}

func (b *Broadcaster) announce() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcastPresence(b.registry.OnlineIdentities())
}

// BroadcastPresence sends a presence-updated event to every registered session.
func (b *Broadcaster) BroadcastPresence(identities []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcastPresence(identities)
}

func (b *Broadcaster) broadcastPresence(identities []string) {
	event := models.PresenceUpdated(identities)
	for _, s := range b.registry.AllSessions() {
		b.deliver(s, event)
	}
}

// PushToUser sends event to every session of userID and returns how many
// sessions accepted it. Zero means the user is offline.
func (b *Broadcaster) PushToUser(userID string, event models.ServerEvent) int {
	delivered := 0
	for _, s := range b.registry.Sessions(userID) {
		if b.deliver(s, event) {
			delivered++
		}
	}
	return delivered
}

// DisconnectUser closes every session of userID and returns how many were closed.
func (b *Broadcaster) DisconnectUser(userID string) int {
	sessions := b.registry.Sessions(userID)
	for _, s := range sessions {
		s.Close()
	}
	if len(sessions) > 0 {
		b.logger.Info("user disconnected", "user_id", userID, "sessions", len(sessions))
	}
	return len(sessions)
}

func (b *Broadcaster) deliver(s *Session, event models.ServerEvent) bool {
	err := s.Enqueue(event)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrQueueFull):
		b.logger.Warn("send queue full, closing session",
			"user_id", s.UserID(), "session_id", s.ID(), "event", event.Type)
		s.Close()
	case errors.Is(err, ErrSessionClosed):
		b.logger.Debug("skipping closed session", "user_id", s.UserID(), "session_id", s.ID())
	default:
		b.logger.Error("failed to enqueue event", "user_id", s.UserID(), "session_id", s.ID(), "error", err)
	}
	return false
}
