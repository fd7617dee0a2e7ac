package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"quickchat/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

const (
	defaultTTL     = 24 * 60 * 60
	previewRunes   = 120
	imagePreview   = "sent you an image"
	defaultTimeout = 10 * time.Second
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type SubscriptionStore interface {
	UpsertPushSubscription(sub models.PushSubscription) error
	ListPushSubscriptions(userID string) ([]models.PushSubscription, error)
	DeletePushSubscription(userID, endpoint string) error
}

type UserDirectory interface {
	GetUser(id string) (models.User, error)
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Contact for the push service, an email or https URL.
	Subscriber string
	BaseURL    string
}

// WebPushNotifier tells offline users about new messages through the Web
// Push subscriptions their browsers registered.
type WebPushNotifier struct {
	config Config
	store  SubscriptionStore
	users  UserDirectory
	client webpush.HTTPClient
	logger *slog.Logger
}

// Notification is the JSON payload the service worker receives.
type Notification struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	URL       string `json:"url"`
	SenderID  string `json:"senderId"`
	MessageID string `json:"messageId"`
}

func NewWebPushNotifier(config Config, store SubscriptionStore, users UserDirectory, logger *slog.Logger) *WebPushNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebPushNotifier{
		config: config,
		store:  store,
		users:  users,
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger,
	}
}

func (n *WebPushNotifier) PublicKey() string {
	return n.config.VAPIDPublicKey
}

// Subscribe stores the subscription a browser's PushManager handed out.
func (n *WebPushNotifier) Subscribe(sub models.PushSubscription) error {
	if err := validate.Struct(sub); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return n.store.UpsertPushSubscription(sub)
}

func (n *WebPushNotifier) NotifyOffline(ctx context.Context, msg models.Message) error {
	subs, err := n.store.ListPushSubscriptions(msg.ReceiverID)
	if err != nil {
		return fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(n.notification(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	var errs []error
	for _, sub := range subs {
		if err := n.send(ctx, payload, sub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *WebPushNotifier) notification(msg models.Message) Notification {
	title := "New message"
	if sender, err := n.users.GetUser(msg.SenderID); err == nil {
		title = sender.FullName
	}

	body := imagePreview
	if msg.Content.Text != "" {
		body = lo.Ellipsis(msg.Content.Text, previewRunes)
	}

	return Notification{
		Title:     title,
		Body:      body,
		URL:       n.config.BaseURL + "/?chat=" + msg.SenderID,
		SenderID:  msg.SenderID,
		MessageID: msg.ID,
	}
}

func (n *WebPushNotifier) send(ctx context.Context, payload []byte, sub models.PushSubscription) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      n.client,
		Subscriber:      n.config.Subscriber,
		VAPIDPublicKey:  n.config.VAPIDPublicKey,
		VAPIDPrivateKey: n.config.VAPIDPrivateKey,
		TTL:             defaultTTL,
		Urgency:         webpush.UrgencyHigh,
		Topic:           topic(sub.UserID),
	})
	if err != nil {
		return fmt.Errorf("push to %s: %w", sub.Endpoint, err)
	}
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// The browser dropped the subscription.
		n.logger.Info("removing expired push subscription", "user_id", sub.UserID, "status", resp.StatusCode)
		if err := n.store.DeletePushSubscription(sub.UserID, sub.Endpoint); err != nil {
			return fmt.Errorf("failed to delete expired subscription: %w", err)
		}
		return nil
	case resp.StatusCode >= 400:
		return fmt.Errorf("push to %s: unexpected status %d", sub.Endpoint, resp.StatusCode)
	}

	n.logger.Debug("push notification sent", "user_id", sub.UserID, "status", resp.StatusCode)
	return nil
}

// topic collapses pending notifications for one user on the push service.
// Topics are limited to 32 url-safe characters.
func topic(userID string) string {
	t := strings.ReplaceAll(userID, "-", "")
	if len(t) > 32 {
		t = t[:32]
	}
	return t
}
