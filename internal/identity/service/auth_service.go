package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"identity-service/backend/internal/apperr"
	"identity-service/backend/internal/db"
	"identity-service/backend/internal/social"
	"identity-service/backend/internal/telemetry"
	userdomain "identity-service/backend/internal/user/domain"
	"identity-service/backend/internal/user/query"
	"identity-service/backend/internal/user/repository"
)

var tracer trace.Tracer = otel.Tracer("identity-service/identity")

// AuthResult is the outcome of Login and LoginSocial.
type AuthResult struct {
	AccessToken string
	ExpiresAt   time.Time
	Profile     *userdomain.Profile
	// Created is set when LoginSocial registered a new account.
	Created bool
}

// SignupInput is a password registration. Avatar is the stored upload reference, if any.
type SignupInput struct {
	Email    string
	Password string
	Name     string
	Info     json.RawMessage
	Mobile   string
	Avatar   *string
}

// EditInput holds the profile fields a caller may change. Empty values leave the column
// as stored.
type EditInput struct {
	Name   string
	Info   json.RawMessage
	Mobile string
	Avatar *string
}

// Store opens per-request handles. *db.Store satisfies it.
type Store interface {
	Handle() db.Queryer
	WithTx(ctx context.Context, fn func(ctx context.Context, tx db.Queryer) error) error
}

// RepoFactory builds a user repository over a handle.
type RepoFactory func(h db.Queryer) repository.Repository

// PasswordHasher is the subset of security.Hasher the flows use.
type PasswordHasher interface {
	Hash(password, salt string) (string, error)
	GenerateSalt() (string, error)
	Verify(password, salt, expectedHash string) (bool, error)
}

// TokenIssuer signs session tokens for a profile.
type TokenIssuer interface {
	IssueSession(profile *userdomain.Profile) (string, time.Time, error)
}

// ProfileResolver turns a provider access token into a normalized profile.
type ProfileResolver interface {
	Resolve(ctx context.Context, accessToken string, method userdomain.AuthMethod) (*social.Profile, error)
}

// EditPolicy decides whether a caller may edit its profile.
type EditPolicy interface {
	AllowEdit(ctx context.Context, caller *userdomain.Profile) (bool, error)
}

// AuthService reconciles password and social identities with stored accounts.
type AuthService struct {
	store    Store
	repos    RepoFactory
	hasher   PasswordHasher
	tokens   TokenIssuer
	resolver ProfileResolver
	policy   EditPolicy
	events   telemetry.EventEmitter
}

// NewAuthService returns an AuthService. events may be nil.
func NewAuthService(
	store Store,
	repos RepoFactory,
	hasher PasswordHasher,
	tokens TokenIssuer,
	resolver ProfileResolver,
	policy EditPolicy,
	events telemetry.EventEmitter,
) *AuthService {
	return &AuthService{
		store:    store,
		repos:    repos,
		hasher:   hasher,
		tokens:   tokens,
		resolver: resolver,
		policy:   policy,
		events:   events,
	}
}

// Login verifies password credentials and issues a session token. An unknown email and a
// wrong password return the same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (res *AuthResult, err error) {
	ctx, done := s.begin(ctx, telemetry.EventLogin, string(userdomain.AuthMethodPassword))
	defer func() { done(res, err) }()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperr.Unauthorized()
	}
	u, err := s.repos(s.store.Handle()).FindByEmailAndMethod(ctx, email, userdomain.AuthMethodPassword)
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	if u == nil || u.PasswordHash == nil || u.Salt == nil {
		return nil, apperr.Unauthorized()
	}
	ok, err := s.hasher.Verify(password, *u.Salt, *u.PasswordHash)
	if err != nil || !ok {
		return nil, apperr.Unauthorized()
	}
	return s.issue(u, false)
}

// Signup registers a password account with USER permission.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (err error) {
	ctx, done := s.begin(ctx, telemetry.EventSignup, string(userdomain.AuthMethodPassword))
	var created *userdomain.User
	defer func() {
		var res *AuthResult
		if created != nil {
			res = &AuthResult{Profile: userdomain.NewProfile(created), Created: true}
		}
		done(res, err)
	}()

	email := strings.TrimSpace(in.Email)
	if email == "" || in.Password == "" {
		return apperr.Validation(apperr.MsgInvalidRequest, nil,
			apperr.Detail{Message: "email and password are required"})
	}
	salt, err := s.hasher.GenerateSalt()
	if err != nil {
		return apperr.Unexpected(err)
	}
	hash, err := s.hasher.Hash(in.Password, salt)
	if err != nil {
		return apperr.Unexpected(err)
	}
	u := &userdomain.User{
		Email:        email,
		PasswordHash: &hash,
		Salt:         &salt,
		Name:         social.NonEmpty(strings.TrimSpace(in.Name)),
		Info:         nullIfEmpty(in.Info),
		Mobile:       social.NonEmpty(strings.TrimSpace(in.Mobile)),
		Avatar:       in.Avatar,
		Permission:   userdomain.PermissionUser,
		Method:       userdomain.AuthMethodPassword,
	}
	created, err = s.repos(s.store.Handle()).Insert(ctx, u)
	if err != nil {
		created = nil
		return constraintOrUnexpected(err)
	}
	return nil
}

// LoginSocial resolves accessToken with the provider for method, then updates the matching
// account or creates it if there is none. The update and the conditional insert run in one
// transaction with the identity locked, so concurrent first logins create one row.
func (s *AuthService) LoginSocial(ctx context.Context, accessToken string, method userdomain.AuthMethod) (res *AuthResult, err error) {
	ctx, done := s.begin(ctx, telemetry.EventLoginSocial, string(method))
	defer func() { done(res, err) }()

	prof, err := s.resolver.Resolve(ctx, accessToken, method)
	if err != nil {
		return nil, apperr.SocialAuth(err)
	}

	var (
		account *userdomain.User
		created bool
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx db.Queryer) error {
		repo := s.repos(tx)
		if err := repo.LockIdentity(ctx, prof.Email, method); err != nil {
			return err
		}
		update := query.Build([]query.Assignment{
			{Key: "name", Value: prof.Name},
			{Key: "avatar", Value: prof.Avatar},
			{Key: "provider_id", Value: prof.ProviderID},
		}, query.Options{RemainFieldIfNull: true})
		match := query.Match(
			query.Assignment{Key: "email", Value: prof.Email},
			query.Assignment{Key: "method", Value: method},
		)
		result, err := repo.UpdateWhere(ctx, update, match)
		if err != nil {
			return err
		}
		if result.RowCount > 0 {
			account = result.Rows[0]
			return nil
		}
		providerID := prof.ProviderID
		u, err := repo.Insert(ctx, &userdomain.User{
			Email:      prof.Email,
			Name:       prof.Name,
			Avatar:     prof.Avatar,
			Permission: userdomain.PermissionUser,
			Method:     method,
			ProviderID: &providerID,
		})
		if err != nil {
			return apperr.Reconciliation(apperr.MsgCreateFailed, err)
		}
		account, created = u, true
		return nil
	})
	if err != nil {
		var tagged *apperr.Error
		if errors.As(err, &tagged) {
			return nil, tagged
		}
		return nil, apperr.Reconciliation(apperr.MsgSocialFailed, err)
	}
	res, err = s.issue(account, created)
	if err != nil {
		return nil, apperr.Reconciliation(apperr.MsgSocialFailed, err)
	}
	return res, nil
}

// Edit applies the non-empty fields of in to the caller's own account. The policy is
// checked before any storage access.
func (s *AuthService) Edit(ctx context.Context, caller *userdomain.Profile, in EditInput) (err error) {
	method := ""
	if caller != nil {
		method = string(caller.Method)
	}
	ctx, done := s.begin(ctx, telemetry.EventEdit, method)
	var edited *userdomain.User
	defer func() {
		var res *AuthResult
		if edited != nil {
			res = &AuthResult{Profile: userdomain.NewProfile(edited)}
		}
		done(res, err)
	}()

	if caller == nil || caller.ID == "" {
		return apperr.Forbidden()
	}
	allowed, err := s.policy.AllowEdit(ctx, caller)
	if err != nil {
		log.Printf("identity: edit policy evaluation failed: %v", err)
		return apperr.Forbidden()
	}
	if !allowed {
		return apperr.Forbidden()
	}

	update := query.Build([]query.Assignment{
		{Key: "info", Value: nullIfEmpty(in.Info)},
		{Key: "mobile", Value: social.NonEmpty(strings.TrimSpace(in.Mobile))},
		{Key: "name", Value: social.NonEmpty(strings.TrimSpace(in.Name))},
		{Key: "avatar", Value: in.Avatar},
	}, query.Options{RemainFieldIfNull: true})
	trace.SpanFromContext(ctx).SetAttributes(attribute.StringSlice("identity.fields", update.Keys()))
	if len(update) == 0 {
		return apperr.NotFoundOrUnchanged(query.ErrEmptyUpdate)
	}
	result, err := s.repos(s.store.Handle()).UpdateWhere(ctx, update,
		query.Match(query.Assignment{Key: "id", Value: caller.ID}))
	if err != nil {
		// The caller only learns the row was not updated.
		log.Printf("identity: edit update for user %s failed: %v", caller.ID, err)
		return apperr.NotFoundOrUnchanged(err)
	}
	if result.RowCount == 0 {
		return apperr.NotFoundOrUnchanged(nil)
	}
	edited = result.Rows[0]
	return nil
}

func (s *AuthService) issue(u *userdomain.User, created bool) (*AuthResult, error) {
	profile := userdomain.NewProfile(u)
	token, exp, err := s.tokens.IssueSession(profile)
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	return &AuthResult{AccessToken: token, ExpiresAt: exp, Profile: profile, Created: created}, nil
}

// begin starts a span for one flow and returns a func that ends it and emits the auth event.
func (s *AuthService) begin(ctx context.Context, typ telemetry.EventType, method string) (context.Context, func(*AuthResult, error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "identity."+string(typ),
		trace.WithAttributes(attribute.String("auth.method", method)))
	return ctx, func(res *AuthResult, err error) {
		event := &telemetry.AuthEvent{
			Type:     typ,
			Outcome:  telemetry.OutcomeSuccess,
			Method:   method,
			Duration: float64(time.Since(start).Microseconds()) / 1000,
		}
		if res != nil && res.Profile != nil {
			event.UserID = res.Profile.ID
			event.Created = res.Created
		}
		if err != nil {
			ae := apperr.As(err)
			event.Outcome = telemetry.OutcomeFailure
			event.Reason = ae.Kind.String()
			span.SetStatus(codes.Error, ae.Message)
			if ae.Kind == apperr.KindUnexpected || ae.Kind == apperr.KindReconciliation {
				log.Printf("identity: %s failed: %v", typ, err)
			}
		}
		span.End()
		telemetry.EmitAsync(s.events, ctx, event)
	}
}

func constraintOrUnexpected(err error) error {
	var ce *repository.ConstraintError
	if !errors.As(err, &ce) {
		return apperr.Unexpected(err)
	}
	details := make([]apperr.Detail, 0, len(ce.Columns))
	for _, col := range ce.Columns {
		details = append(details, apperr.Detail{Message: apperr.MsgEmailExists, Field: col, Constraint: ce.Constraint})
	}
	if len(details) == 0 {
		details = append(details, apperr.Detail{Message: apperr.MsgEmailExists, Constraint: ce.Constraint})
	}
	return apperr.Constraint(err, details...)
}

func nullIfEmpty(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == `""` {
		return nil
	}
	return json.RawMessage(trimmed)
}
