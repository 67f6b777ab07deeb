package api

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// withAuth enforces the configured bearer token. With no hash set every
// request passes. The health probe and the root banner stay open so
// orchestrators can check liveness without credentials.
func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.authHash == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/api/health":
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" || bcrypt.CompareHashAndPassword([]byte(s.authHash), []byte(token)) != nil {
			s.errorResponse(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the credential from the Authorization header,
// falling back to a token query parameter for WebSocket clients, which
// cannot set headers from a browser.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return r.URL.Query().Get("token")
}
