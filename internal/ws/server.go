package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"quickchat/internal/auth"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	writeWait = 10 * time.Second
	// Client frames are discarded, so there is no reason to accept big ones.
	maxClientFrame = 4096
)

type IdentityVerifier interface {
	Verify(token string) (string, error)
}

type ServerConfig struct {
	QueueSize      int
	PingInterval   time.Duration
	AllowedOrigins []string
}

type Server struct {
	verifier IdentityVerifier
	registry *Registry
	logger   *slog.Logger
	upgrader *websocket.Upgrader
	session  SessionConfig
}

func NewServer(verifier IdentityVerifier, registry *Registry, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}

	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	switch {
	case lo.Contains(cfg.AllowedOrigins, "*"):
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	case len(cfg.AllowedOrigins) > 0:
		upgrader.CheckOrigin = func(r *http.Request) bool {
			return lo.Contains(cfg.AllowedOrigins, r.Header.Get("Origin"))
		}
	}
	// nil CheckOrigin falls back to gorilla's same-origin check.

	return &Server{
		verifier: verifier,
		registry: registry,
		logger:   logger,
		upgrader: upgrader,
		session: SessionConfig{
			QueueSize:    cfg.QueueSize,
			PingInterval: cfg.PingInterval,
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := s.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("error upgrading to websocket", "user_id", userID, "error", err)
		return
	}

	session := NewSession(s.registry, newGorillaConn(conn, s.session.PingInterval), userID, s.session, s.logger)
	if err := session.Run(r.Context()); err != nil {
		if errors.Is(err, ErrMissingIdentity) || websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			s.logger.Warn("session ended with error", "user_id", userID, "session_id", session.ID(), "error", err)
			return
		}
		s.logger.Debug("session ended", "user_id", userID, "session_id", session.ID(), "reason", err)
	}
}

// gorillaConn adds deadlines and keepalive to a gorilla connection.
type gorillaConn struct {
	*websocket.Conn
}

func newGorillaConn(conn *websocket.Conn, pingInterval time.Duration) *gorillaConn {
	pongWait := pingInterval * 2
	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &gorillaConn{Conn: conn}
}

func (c *gorillaConn) WriteJSON(v interface{}) error {
	if err := c.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.Conn.WriteJSON(v)
}

func (c *gorillaConn) Ping() error {
	return c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}
