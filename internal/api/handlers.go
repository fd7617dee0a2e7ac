package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"quickchat/internal/auth"
	"quickchat/internal/chat"
	"quickchat/internal/filestore"
	"quickchat/internal/models"
	"quickchat/internal/notify"
	"quickchat/internal/ws"
)

// Large enough for a base64 encoded image of the configured maximum size.
const maxBodyBytes = 8 << 20

type API struct {
	auth        *auth.AuthService
	chat        *chat.Service
	broadcaster *ws.Broadcaster
	images      *filestore.Images
	push        *notify.WebPushNotifier
	logger      *slog.Logger
}

// New wires the HTTP handlers. push may be nil when Web Push is not configured.
func New(
	authService *auth.AuthService,
	chatService *chat.Service,
	broadcaster *ws.Broadcaster,
	images *filestore.Images,
	push *notify.WebPushNotifier,
	logger *slog.Logger,
) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		auth:        authService,
		chat:        chatService,
		broadcaster: broadcaster,
		images:      images,
		push:        push,
		logger:      logger,
	}
}

func (a *API) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "ok"})
}

func setTokenCookie(w http.ResponseWriter, resp auth.AuthResponse) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    resp.Token,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
		Expires:  time.Unix(resp.TokenExpiry, 0),
	})
}

func (a *API) SignUpHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.SignUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := a.auth.SignUp(req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}

	a.logger.Info("user signed up", "user_id", resp.UserData.ID)
	setTokenCookie(w, resp)
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			writeJSON(w, http.StatusUnauthorized, resp)
			return
		}
		writeServiceError(w, a.logger, err)
		return
	}

	setTokenCookie(w, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := auth.TokenFromRequest(r); token != "" {
		if userID, err := a.auth.Logoff(token); err == nil {
			a.broadcaster.DisconnectUser(userID)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Logged off"})
}

func (a *API) CheckAuthHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	user, err := a.auth.GetUser(userID)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.UserResponse{Success: true, User: user})
}

type updateProfileRequest struct {
	FullName   string `json:"fullName"`
	Bio        string `json:"bio"`
	ProfilePic string `json:"profilePic"`
}

func (a *API) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	update := auth.ProfileUpdate{FullName: req.FullName, Bio: req.Bio}
	if req.ProfilePic != "" {
		url, err := a.images.Save(userID, req.ProfilePic)
		if err != nil {
			writeServiceError(w, a.logger, err)
			return
		}
		update.ProfilePic = url
	}

	user, err := a.auth.UpdateProfile(userID, update)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.UserResponse{Success: true, User: user})
}

func (a *API) ContactsHandler(w http.ResponseWriter, r *http.Request) {
	contacts, err := a.chat.ListContacts(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ContactsResponse{Success: true, Contacts: contacts})
}

func (a *API) ConversationHandler(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.chat.GetConversation(r.Context(), UserIDFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessagesResponse{Success: true, Messages: msgs})
}

type sendMessageRequest struct {
	Content models.Content `json:"content"`
}

func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	msg, err := a.chat.SendMessage(r.Context(), UserIDFromContext(r.Context()), r.PathValue("id"), req.Content)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.NewMessageResponse{Success: true, NewMessage: msg})
}

func (a *API) MarkSeenHandler(w http.ResponseWriter, r *http.Request) {
	msg, err := a.chat.MarkSeen(r.Context(), r.PathValue("id"), UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SeenResponse{
		APIResponse: models.APIResponse{Success: true, Message: "Message marked as seen"},
		SeenMessage: msg,
	})
}

func (a *API) UnseenHandler(w http.ResponseWriter, r *http.Request) {
	peerID := r.PathValue("id")
	n, err := a.chat.UnseenFrom(r.Context(), UserIDFromContext(r.Context()), peerID)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.UnseenResponse{Success: true, PeerID: peerID, Count: n})
}

type pushSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// PushSubscribeHandler accepts the JSON form of a browser PushSubscription.
func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	if a.push == nil {
		writeError(w, http.StatusNotFound, "Push notifications are disabled")
		return
	}

	var req pushSubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := a.push.Subscribe(models.PushSubscription{
		UserID:   UserIDFromContext(r.Context()),
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.APIResponse{Success: true, Message: "Subscribed"})
}

type vapidKeyResponse struct {
	Success   bool   `json:"success"`
	PublicKey string `json:"publicKey"`
}

func (a *API) VapidKeyHandler(w http.ResponseWriter, r *http.Request) {
	if a.push == nil {
		writeError(w, http.StatusNotFound, "Push notifications are disabled")
		return
	}
	writeJSON(w, http.StatusOK, vapidKeyResponse{Success: true, PublicKey: a.push.PublicKey()})
}

func (a *API) ImageHandler(w http.ResponseWriter, r *http.Request) {
	rc, meta, err := a.images.Open(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Length", fmt.Sprint(meta.Size))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, rc); err != nil {
		a.logger.Warn("failed to write image", "file_id", meta.ID, "error", err)
	}
}
