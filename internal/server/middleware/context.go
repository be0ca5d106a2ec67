package middleware

import (
	"context"

	userdomain "identity-service/backend/internal/user/domain"
)

type contextKey struct{ name string }

var callerKey = contextKey{"caller"}

// WithCaller returns a context carrying the authenticated profile.
func WithCaller(ctx context.Context, caller *userdomain.Profile) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFrom returns the profile set by Authenticate, or nil if the request is anonymous.
func CallerFrom(ctx context.Context) *userdomain.Profile {
	p, _ := ctx.Value(callerKey).(*userdomain.Profile)
	return p
}
