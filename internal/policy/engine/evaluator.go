package engine

import (
	"context"

	userdomain "identity-service/backend/internal/user/domain"
)

// Evaluator decides whether a session holder may change their own profile.
type Evaluator interface {
	// AllowEdit reports whether caller may edit its profile. A nil caller is never allowed.
	AllowEdit(ctx context.Context, caller *userdomain.Profile) (bool, error)
}
