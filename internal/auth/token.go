package auth

import (
	"net/http"
	"strings"
)

const TokenCookie = "token"

// TokenFromRequest extracts a bearer token from the Authorization header,
// the token cookie or, for websocket handshakes, the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}
