package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"quickchat/internal/auth"
	"quickchat/internal/models"
	"quickchat/internal/ws"
)

type AdminHandler struct {
	authService *auth.AuthService
	registry    *ws.Registry
	broadcaster *ws.Broadcaster
	baseURL     string
	logger      *slog.Logger
}

func NewAdminHandler(authService *auth.AuthService, registry *ws.Registry, broadcaster *ws.Broadcaster, baseURL string, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		authService: authService,
		registry:    registry,
		broadcaster: broadcaster,
		baseURL:     strings.TrimRight(baseURL, "/"),
		logger:      logger,
	}
}

type AddUserRequest struct {
	Email    string `json:"email"`
	FullName string `json:"fullName,omitempty"`
}

type AddUserResponse struct {
	Success  bool        `json:"success"`
	Message  string      `json:"message,omitempty"`
	User     models.User `json:"user"`
	Password string      `json:"password,omitempty"`
	LoginURL string      `json:"loginUrl,omitempty"`
}

func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	user, password, err := h.authService.AddUser(req.Email, req.FullName)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("user added", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, AddUserResponse{
		Success:  true,
		User:     user,
		Password: password,
		LoginURL: h.baseURL + "/login",
	})
}

type OnlineResponse struct {
	Online   []string       `json:"online"`
	Sessions map[string]int `json:"sessions"`
	Total    int            `json:"total"`
}

func (h *AdminHandler) OnlineHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, OnlineResponse{
		Online:   h.registry.OnlineIdentities(),
		Sessions: h.registry.SessionCounts(),
		Total:    h.registry.SessionCount(),
	})
}

func (h *AdminHandler) DisconnectHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	n := h.broadcaster.DisconnectUser(userID)
	writeJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: fmt.Sprintf("Closed %d sessions of user %s", n, userID),
	})
}

type ResetPasswordResponse struct {
	models.APIResponse
	Password string `json:"password,omitempty"`
}

func (h *AdminHandler) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	password, err := h.authService.ResetPassword(userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.broadcaster.DisconnectUser(userID)
	h.logger.Info("password reset", "user_id", userID)
	writeJSON(w, http.StatusOK, ResetPasswordResponse{
		APIResponse: models.APIResponse{
			Success: true,
			Message: fmt.Sprintf("Password for user %s reset successfully", userID),
		},
		Password: password,
	})
}
