package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quickchat/internal/api"
	"quickchat/internal/config"
	"quickchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddUser(t *testing.T) {
	var got api.AddUserRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/users", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.AddUserResponse{
			Success:  true,
			User:     models.User{ID: "u1", Email: got.Email},
			Password: "s3cret",
			LoginURL: "http://localhost:8080/login",
		})
	}))
	defer srv.Close()

	cfg := &config.Config{AdminAddr: strings.TrimPrefix(srv.URL, "http://")}
	var out bytes.Buffer
	require.NoError(t, AddUser("dana@example.com", "Dana", cfg, &out))

	assert.Equal(t, "dana@example.com", got.Email)
	assert.Equal(t, "Dana", got.FullName)
	assert.Contains(t, out.String(), "s3cret")
	assert.Contains(t, out.String(), "u1")
}

func TestAddUser_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"success":false,"message":"User already exists"}`))
	}))
	defer srv.Close()

	cfg := &config.Config{AdminAddr: strings.TrimPrefix(srv.URL, "http://")}
	err := AddUser("dana@example.com", "", cfg, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}
