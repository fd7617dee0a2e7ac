package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"quickchat/internal/api"
	"quickchat/internal/ws"
)

type APIServer struct {
	server *http.Server
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewAPIServer serves the REST API and the websocket endpoint. Request
// contexts derive from ctx, so cancelling it also ends live websocket
// sessions, which http.Server.Shutdown does not track.
func NewAPIServer(ctx context.Context, apiHandlers *api.API, wsServer *ws.Server, addr string, logger *slog.Logger) *APIServer {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", apiHandlers.StatusHandler)

	mux.HandleFunc("POST /api/auth/signup", api.RequireSameOrigin(apiHandlers.SignUpHandler))
	mux.HandleFunc("POST /api/auth/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/auth/logoff", api.RequireSameOrigin(apiHandlers.LogoffHandler))
	mux.HandleFunc("GET /api/auth/check", apiHandlers.RequireAuth(apiHandlers.CheckAuthHandler))
	mux.HandleFunc("PUT /api/auth/update-profile", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.UpdateProfileHandler)))

	mux.HandleFunc("GET /api/messages/users", apiHandlers.RequireAuth(apiHandlers.ContactsHandler))
	mux.HandleFunc("GET /api/messages/unseen/{id}", apiHandlers.RequireAuth(apiHandlers.UnseenHandler))
	mux.HandleFunc("GET /api/messages/{id}", apiHandlers.RequireAuth(apiHandlers.ConversationHandler))
	mux.HandleFunc("POST /api/messages/send/{id}", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SendMessageHandler)))
	mux.HandleFunc("PUT /api/messages/mark/{id}", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.MarkSeenHandler)))

	mux.HandleFunc("POST /api/push/subscribe", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.PushSubscribeHandler)))
	mux.HandleFunc("GET /api/push/vapid-key", apiHandlers.VapidKeyHandler)

	mux.HandleFunc("GET /api/images/{id}", apiHandlers.ImageHandler)

	// WebSocket endpoint
	mux.HandleFunc("GET /api/ws", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		},
		logger: logger,
	}
}

func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	s.logger.Info("API server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
