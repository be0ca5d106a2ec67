package repository

import (
	"context"
	"fmt"
	"strings"

	"identity-service/backend/internal/user/domain"
	"identity-service/backend/internal/user/query"
)

// Repository defines persistence for users. Implementations are built per request over
// an explicit handle and hold no other state.
type Repository interface {
	// FindByEmailAndMethod returns the account for (email, method), or nil if there is none.
	FindByEmailAndMethod(ctx context.Context, email string, method domain.AuthMethod) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	// Insert validates and persists u, returning the stored row.
	// A uniqueness violation is returned as *ConstraintError.
	Insert(ctx context.Context, u *domain.User) (*domain.User, error)
	// UpdateWhere applies update to every row matching match. Zero rows is not an error.
	UpdateWhere(ctx context.Context, update query.UpdateSpec, match query.MatchSpec) (*UpdateResult, error)
	// LockIdentity serializes work on (email, method) until the surrounding transaction ends.
	LockIdentity(ctx context.Context, email string, method domain.AuthMethod) error
}

// UpdateResult reports what an UpdateWhere touched.
type UpdateResult struct {
	RowCount int
	Rows     []*domain.User
}

// ConstraintError is a uniqueness violation on insert.
type ConstraintError struct {
	Constraint string
	Columns    []string
	Err        error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("unique violation on %s (%s)", e.Constraint, strings.Join(e.Columns, ", "))
}

func (e *ConstraintError) Unwrap() error { return e.Err }
