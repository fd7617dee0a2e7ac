package chat

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"quickchat/internal/content"
	"quickchat/internal/models"

	"github.com/samber/lo"
)

const (
	DefaultMaxImageBytes = 3 << 20
	notifyTimeout        = 30 * time.Second
	pairLockStripes      = 64
)

type MessageStore interface {
	CreateMessage(draft models.Message) (models.Message, error)
	FindMessages(userA, userB string) ([]models.Message, error)
	GetMessage(id string) (models.Message, error)
	SetSeen(id string) error
	CountUnseen(receiverID, senderID string) (int, error)
	UnseenCounts(receiverID string) (map[string]int, error)
}

type UserDirectory interface {
	GetUser(id string) (models.User, error)
	ListUsers() ([]models.User, error)
}

type Presence interface {
	IsOnline(userID string) bool
}

type Pusher interface {
	PushToUser(userID string, event models.ServerEvent) int
}

type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, msg models.Message) error
}

type Config struct {
	MaxImageBytes int
}

// Service is the message delivery pipeline: validate, persist, push.
type Service struct {
	store    MessageStore
	users    UserDirectory
	presence Presence
	pusher   Pusher
	notifier OfflineNotifier
	logger   *slog.Logger

	maxImageBytes int
	// Persist and push for one conversation happen under the same stripe,
	// so the push order of a conversation matches its persistence order.
	pairLocks [pairLockStripes]sync.Mutex
	wg        sync.WaitGroup
}

func NewService(
	store MessageStore,
	users UserDirectory,
	presence Presence,
	pusher Pusher,
	notifier OfflineNotifier,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         store,
		users:         users,
		presence:      presence,
		pusher:        pusher,
		notifier:      notifier,
		logger:        logger,
		maxImageBytes: cfg.MaxImageBytes,
	}
}

// SendMessage validates and persists a message, then pushes it to the
// receiver's live sessions. Once persistence succeeds the send succeeds,
// whatever happens to the push.
func (s *Service) SendMessage(ctx context.Context, senderID, receiverID string, c models.Content) (models.Message, error) {
	draft, err := s.draft(senderID, receiverID, c)
	if err != nil {
		return models.Message{}, err
	}

	if _, err := s.users.GetUser(receiverID); err != nil {
		return models.Message{}, fmt.Errorf("receiver %s: %w", receiverID, err)
	}

	mu := s.pairLock(senderID, receiverID)
	mu.Lock()
	defer mu.Unlock()

	msg, err := s.store.CreateMessage(draft)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %w", models.ErrStore, err)
	}

	if delivered := s.pusher.PushToUser(receiverID, models.NewMessage(msg)); delivered == 0 {
		s.logger.Info("delivery miss", "message_id", msg.ID, "sender_id", senderID, "receiver_id", receiverID)
		s.notifyOffline(ctx, msg)
	} else {
		s.logger.Debug("message pushed", "message_id", msg.ID, "receiver_id", receiverID, "sessions", delivered)
	}

	return msg, nil
}

func (s *Service) draft(senderID, receiverID string, c models.Content) (models.Message, error) {
	if senderID == "" || receiverID == "" {
		return models.Message{}, fmt.Errorf("%w: sender and receiver are required", models.ErrInvalidContent)
	}

	text := strings.TrimSpace(c.Text)
	hasText := text != ""
	hasImage := strings.TrimSpace(c.Image) != ""

	switch {
	case hasText && hasImage:
		return models.Message{}, fmt.Errorf("%w: text and image are mutually exclusive", models.ErrInvalidContent)
	case !hasText && !hasImage:
		return models.Message{}, fmt.Errorf("%w: message is empty", models.ErrInvalidContent)
	}

	draft := models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
	}

	if hasImage {
		img, err := content.DecodeImage(c.Image, s.maxImageBytes)
		if err != nil {
			return models.Message{}, fmt.Errorf("%w: %v", models.ErrInvalidContent, err)
		}
		draft.Content.Image = img.DataURL()
		return draft, nil
	}

	html, err := content.Render(text)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", models.ErrInvalidContent, err)
	}
	draft.Content.Text = text
	draft.HTML = html
	return draft, nil
}

func (s *Service) notifyOffline(ctx context.Context, msg models.Message) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.wg.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyOffline(ctx, msg); err != nil {
			s.logger.Warn("offline notification failed", "message_id", msg.ID, "receiver_id", msg.ReceiverID, "error", err)
		}
	})
}

// Wait blocks until background offline notifications are done.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) pairLock(a, b string) *sync.Mutex {
	if a > b {
		a, b = b, a
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(a))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(b))
	return &s.pairLocks[h.Sum32()%pairLockStripes]
}

// MarkSeen flags the message as seen by its receiver. Repeated calls are no-ops.
func (s *Service) MarkSeen(ctx context.Context, messageID, requesterID string) (models.Message, error) {
	msg, err := s.store.GetMessage(messageID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Message{}, err
		}
		return models.Message{}, fmt.Errorf("%w: %w", models.ErrStore, err)
	}
	if msg.ReceiverID != requesterID {
		return models.Message{}, fmt.Errorf("message %s: %w", messageID, models.ErrForbidden)
	}
	if msg.Seen {
		return msg, nil
	}

	if err := s.store.SetSeen(messageID); err != nil {
		return models.Message{}, fmt.Errorf("%w: %w", models.ErrStore, err)
	}
	msg.Seen = true
	return msg, nil
}

// GetUnseenCounts returns peerID -> number of unseen messages from that peer.
func (s *Service) GetUnseenCounts(ctx context.Context, currentUserID string) (map[string]int, error) {
	counts, err := s.store.UnseenCounts(currentUserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStore, err)
	}
	return lo.PickBy(counts, func(_ string, n int) bool { return n > 0 }), nil
}

// UnseenFrom counts the messages from peerID that currentUserID has not seen.
func (s *Service) UnseenFrom(ctx context.Context, currentUserID, peerID string) (int, error) {
	n, err := s.store.CountUnseen(currentUserID, peerID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrStore, err)
	}
	return n, nil
}

// GetConversation returns the messages between two users, oldest first.
func (s *Service) GetConversation(ctx context.Context, currentUserID, peerID string) ([]models.Message, error) {
	if _, err := s.users.GetUser(peerID); err != nil {
		return nil, err
	}
	msgs, err := s.store.FindMessages(currentUserID, peerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStore, err)
	}
	return msgs, nil
}

// ListContacts returns every other user with their presence and the
// unseen counts for the current user.
func (s *Service) ListContacts(ctx context.Context, currentUserID string) (models.Contacts, error) {
	users, err := s.users.ListUsers()
	if err != nil {
		return models.Contacts{}, fmt.Errorf("%w: %w", models.ErrStore, err)
	}

	contacts := lo.FilterMap(users, func(u models.User, _ int) (models.User, bool) {
		if u.ID == currentUserID {
			return models.User{}, false
		}
		u.Presence.Online = s.presence.IsOnline(u.ID)
		return u, true
	})

	unseen, err := s.GetUnseenCounts(ctx, currentUserID)
	if err != nil {
		return models.Contacts{}, err
	}

	return models.Contacts{
		Users:          contacts,
		UnseenMessages: unseen,
	}, nil
}
