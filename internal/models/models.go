package models

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUserExists     = errors.New("user already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidContent = errors.New("invalid message content")
	ErrStore          = errors.New("store failure")
)

// User represents a user in the system.
type User struct {
	ID         string   `json:"id"`
	Email      string   `json:"email"`
	FullName   string   `json:"fullName"`
	Bio        string   `json:"bio"`
	ProfilePic string   `json:"profilePic,omitempty"`
	CreatedAt  int64    `json:"createdAt"` // Unix timestamp (milliseconds)
	Presence   Presence `json:"presence"`
}

// Presence represents the online status of a user.
type Presence struct {
	Online bool `json:"online"`
}

// Content is the payload of a message. Exactly one of Text or Image is set.
type Content struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

// Message represents a direct message between two users.
type Message struct {
	ID         string  `json:"id"`
	SenderID   string  `json:"senderId"`
	ReceiverID string  `json:"receiverId"`
	Content    Content `json:"content"`
	HTML       string  `json:"html,omitempty"` // Rendered Content.Text
	CreatedAt  int64   `json:"createdAt"`      // Unix timestamp (milliseconds)
	Seen       bool    `json:"seen"`
}

// Contacts is the conversation list of a user: every other user
// and the number of unseen messages they sent.
type Contacts struct {
	Users          []User         `json:"users"`
	UnseenMessages map[string]int `json:"unseenMessages"`
}

// APIResponse is the common envelope of HTTP API responses.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// UserResponse carries a single user.
type UserResponse struct {
	Success bool `json:"success"`
	User    User `json:"user"`
}

type ContactsResponse struct {
	Success bool `json:"success"`
	Contacts
}

type MessagesResponse struct {
	Success  bool      `json:"success"`
	Messages []Message `json:"messages"`
}

// NewMessageResponse carries the message a send persisted.
type NewMessageResponse struct {
	Success    bool    `json:"success"`
	NewMessage Message `json:"newMessage"`
}

type SeenResponse struct {
	APIResponse
	SeenMessage Message `json:"seenMessage"`
}

type UnseenResponse struct {
	Success bool   `json:"success"`
	PeerID  string `json:"peerId"`
	Count   int    `json:"count"`
}

type ServerEventType string

const (
	ServerEventPresenceUpdated ServerEventType = "presence-updated"
	ServerEventNewMessage      ServerEventType = "new-message"
)

// ServerEvent is pushed from the server to a client over the realtime channel.
type ServerEvent struct {
	Type        ServerEventType `json:"type"`
	OnlineUsers []string        `json:"onlineUsers,omitempty"`
	Message     *Message        `json:"message,omitempty"`
}

func PresenceUpdated(online []string) ServerEvent {
	return ServerEvent{
		Type:        ServerEventPresenceUpdated,
		OnlineUsers: online,
	}
}

func NewMessage(msg Message) ServerEvent {
	return ServerEvent{
		Type:    ServerEventNewMessage,
		Message: &msg,
	}
}

// PushSubscription is a browser Web Push subscription of a user.
type PushSubscription struct {
	UserID   string `json:"userId" validate:"required"`
	Endpoint string `json:"endpoint" validate:"required,url,startswith=https://"`
	P256dh   string `json:"p256dh" validate:"required"`
	Auth     string `json:"auth" validate:"required"`
}
