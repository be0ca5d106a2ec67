package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"identity-service/backend/internal/db"
	"identity-service/backend/internal/user/domain"
	"identity-service/backend/internal/user/query"
)

const uniqueViolation = "23505"

var columns = []string{
	"id", "email", "password_hash", "salt", "name", "info", "mobile", "avatar",
	"permission", "method", "provider_id", "created_at", "updated_at",
}

const userColumns = `id, email, password_hash, salt, name, info, mobile, avatar, permission, method, provider_id, created_at, updated_at`

// updateStmt restricts UpdateWhere to real user columns.
var updateStmt = query.Statement{
	Table:     "users",
	Columns:   query.NewColumns(columns...),
	Returning: columns,
}

// constraintColumns maps known unique constraints to the columns they cover.
var constraintColumns = map[string][]string{
	"users_email_method_key": {"email", "method"},
	"users_pkey":             {"id"},
}

// userRow is the scan target for users; info is scanned as raw bytes so NULL stays nil.
type userRow struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash *string   `db:"password_hash"`
	Salt         *string   `db:"salt"`
	Name         *string   `db:"name"`
	Info         []byte    `db:"info"`
	Mobile       *string   `db:"mobile"`
	Avatar       *string   `db:"avatar"`
	Permission   string    `db:"permission"`
	Method       string    `db:"method"`
	ProviderID   *string   `db:"provider_id"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

type PostgresRepository struct {
	db db.Queryer
}

// NewPostgresRepository returns a user repository that runs every statement on h.
// h is a pool or a transaction; the repository does not care which.
func NewPostgresRepository(h db.Queryer) *PostgresRepository {
	return &PostgresRepository{db: h}
}

// FindByEmailAndMethod returns the user for (email, method), or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) FindByEmailAndMethod(ctx context.Context, email string, method domain.AuthMethod) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1 AND method = $2`, email, string(method))
}

// FindByID returns the user for id, or nil if not found. A malformed id is not found.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, q string, args ...any) (*domain.User, error) {
	var row userRow
	if err := sqlx.GetContext(ctx, r.db, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return row.toDomain(), nil
}

// Insert persists u. ID and timestamps are assigned when unset; u itself is not modified.
func (r *PostgresRepository) Insert(ctx context.Context, u *domain.User) (*domain.User, error) {
	if u == nil {
		return nil, errors.New("user: nil user")
	}
	in := *u
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	if in.UpdatedAt.IsZero() {
		in.UpdatedAt = in.CreatedAt
	}

	q := `INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + userColumns
	var row userRow
	err := sqlx.GetContext(ctx, r.db, &row, q,
		in.ID, in.Email, in.PasswordHash, in.Salt, in.Name, jsonArg(in.Info), in.Mobile, in.Avatar,
		string(in.Permission), string(in.Method), in.ProviderID, in.CreatedAt, in.UpdatedAt)
	if err != nil {
		if ce := asConstraintError(err); ce != nil {
			return nil, ce
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return row.toDomain(), nil
}

// UpdateWhere bumps updated_at on every matched row along with update.
func (r *PostgresRepository) UpdateWhere(ctx context.Context, update query.UpdateSpec, match query.MatchSpec) (*UpdateResult, error) {
	if len(update) == 0 {
		return nil, query.ErrEmptyUpdate
	}
	full := make(query.UpdateSpec, 0, len(update)+1)
	for _, a := range update {
		full = append(full, query.Assignment{Key: a.Key, Value: normalizeArg(a.Value)})
	}
	full = append(full, query.Assignment{Key: "updated_at", Value: query.Now})
	conds := make(query.MatchSpec, 0, len(match))
	for _, a := range match {
		conds = append(conds, query.Assignment{Key: a.Key, Value: normalizeArg(a.Value)})
	}

	q, args, err := updateStmt.Compile(full, conds)
	if err != nil {
		return nil, err
	}
	var rows []userRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	res := &UpdateResult{RowCount: len(rows), Rows: make([]*domain.User, 0, len(rows))}
	for i := range rows {
		res.Rows = append(res.Rows, rows[i].toDomain())
	}
	return res, nil
}

// LockIdentity takes a transaction-scoped advisory lock keyed by (email, method). Outside a
// transaction the lock is released as soon as the statement ends.
func (r *PostgresRepository) LockIdentity(ctx context.Context, email string, method domain.AuthMethod) error {
	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(method)+":"+email); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (row *userRow) toDomain() *domain.User {
	u := &domain.User{
		ID:           row.ID,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		Salt:         row.Salt,
		Name:         row.Name,
		Mobile:       row.Mobile,
		Avatar:       row.Avatar,
		Permission:   domain.Permission(row.Permission),
		Method:       domain.AuthMethod(row.Method),
		ProviderID:   row.ProviderID,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.Info != nil {
		u.Info = append([]byte(nil), row.Info...)
	}
	return u
}

// jsonArg sends raw JSON as text so the driver casts it to jsonb. Empty or null JSON
// becomes SQL NULL.
func jsonArg(m json.RawMessage) any {
	if query.IsNull(m) {
		return nil
	}
	return string(m)
}

// normalizeArg converts domain values the driver cannot bind directly.
func normalizeArg(v any) any {
	switch t := v.(type) {
	case domain.AuthMethod:
		return string(t)
	case domain.Permission:
		return string(t)
	case json.RawMessage:
		return jsonArg(t)
	}
	return v
}

func asConstraintError(err error) *ConstraintError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}
	return &ConstraintError{
		Constraint: pgErr.ConstraintName,
		Columns:    constraintColumns[pgErr.ConstraintName],
		Err:        err,
	}
}
