// Package middleware holds the HTTP middleware shared by the identity routes.
package middleware

import (
	"net/http"
	"strings"

	"identity-service/backend/internal/server/respond"
	userdomain "identity-service/backend/internal/user/domain"
)

const bearerPrefix = "bearer "

// SessionValidator validates a session token and returns its profile.
type SessionValidator interface {
	ValidateSession(token string) (*userdomain.Profile, error)
}

// Authenticate rejects requests without a valid Bearer session token with 401 and stores
// the token's profile in the request context.
func Authenticate(tokens SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r.Header.Get("Authorization"))
			if token == "" {
				respond.Unauthorized(w)
				return
			}
			caller, err := tokens.ValidateSession(token)
			if err != nil || caller == nil {
				respond.Unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// extractBearer returns the Bearer token from an Authorization value, or "" if missing or malformed.
func extractBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
