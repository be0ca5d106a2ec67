package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-service/backend/internal/apperr"
	"identity-service/backend/internal/db"
	policyengine "identity-service/backend/internal/policy/engine"
	"identity-service/backend/internal/security"
	"identity-service/backend/internal/social"
	"identity-service/backend/internal/telemetry"
	userdomain "identity-service/backend/internal/user/domain"
	"identity-service/backend/internal/user/query"
	"identity-service/backend/internal/user/repository"
)

// memStore serializes transactions; a repository built over any handle shares one memRepo.
type memStore struct {
	txMu sync.Mutex
	txs  int
}

func (s *memStore) Handle() db.Queryer { return nil }

func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx db.Queryer) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.txs++
	return fn(ctx, nil)
}

type memRepo struct {
	mu      sync.Mutex
	users   map[string]*userdomain.User
	calls   int
	inserts int
	// insertErr, when set, is returned by Insert.
	insertErr error
	// updateErr, when set, is returned by UpdateWhere.
	updateErr error
}

func newMemRepo() *memRepo {
	return &memRepo{users: make(map[string]*userdomain.User)}
}

func (r *memRepo) factory(db.Queryer) repository.Repository { return r }

func (r *memRepo) FindByEmailAndMethod(ctx context.Context, email string, method userdomain.AuthMethod) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	for _, u := range r.users {
		if u.Email == email && u.Method == method {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memRepo) FindByID(ctx context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if u, ok := r.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (r *memRepo) Insert(ctx context.Context, u *userdomain.User) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.insertErr != nil {
		return nil, r.insertErr
	}
	c := *u
	if err := c.Validate(); err != nil {
		return nil, err
	}
	for _, existing := range r.users {
		if existing.Email == c.Email && existing.Method == c.Method {
			return nil, &repository.ConstraintError{Constraint: "users_email_method_key", Columns: []string{"email", "method"}}
		}
	}
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	r.users[c.ID] = &c
	r.inserts++
	out := c
	return &out, nil
}

func (r *memRepo) UpdateWhere(ctx context.Context, update query.UpdateSpec, match query.MatchSpec) (*repository.UpdateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	if len(update) == 0 {
		return nil, query.ErrEmptyUpdate
	}
	res := &repository.UpdateResult{}
	for _, u := range r.users {
		if !matches(u, match) {
			continue
		}
		for _, a := range update {
			apply(u, a)
		}
		c := *u
		res.Rows = append(res.Rows, &c)
		res.RowCount++
	}
	return res, nil
}

func (r *memRepo) LockIdentity(ctx context.Context, email string, method userdomain.AuthMethod) error {
	return nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func (r *memRepo) storageCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func matches(u *userdomain.User, match query.MatchSpec) bool {
	for _, m := range match {
		var got string
		switch m.Key {
		case "id":
			got = u.ID
		case "email":
			got = u.Email
		case "method":
			got = string(u.Method)
		default:
			return false
		}
		if got != toString(m.Value) {
			return false
		}
	}
	return true
}

func apply(u *userdomain.User, a query.Assignment) {
	switch a.Key {
	case "name":
		u.Name = toPtr(a.Value)
	case "avatar":
		u.Avatar = toPtr(a.Value)
	case "mobile":
		u.Mobile = toPtr(a.Value)
	case "provider_id":
		u.ProviderID = toPtr(a.Value)
	case "info":
		if raw, ok := a.Value.(json.RawMessage); ok {
			u.Info = raw
		} else {
			u.Info = nil
		}
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case *string:
		if t != nil {
			return *t
		}
	case userdomain.AuthMethod:
		return string(t)
	}
	return ""
}

func toPtr(v any) *string {
	if query.IsNull(v) {
		return nil
	}
	s := toString(v)
	return &s
}

type fakeResolver struct {
	profile *social.Profile
	err     error
}

func (f *fakeResolver) Resolve(ctx context.Context, token string, method userdomain.AuthMethod) (*social.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := *f.profile
	return &p, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []*telemetry.AuthEvent
}

func (e *recordingEmitter) Emit(ctx context.Context, ev *telemetry.AuthEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

type fixture struct {
	svc      *AuthService
	repo     *memRepo
	store    *memStore
	resolver *fakeResolver
	tokens   *security.TokenProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	require.NoError(t, err)
	policy, err := policyengine.NewOPAEvaluator(context.Background(), "")
	require.NoError(t, err)
	f := &fixture{
		repo:   newMemRepo(),
		store:  &memStore{},
		tokens: tokens,
		resolver: &fakeResolver{profile: &social.Profile{
			Email:      "s@x.com",
			Name:       social.NonEmpty("Sam"),
			ProviderID: "g-123",
		}},
	}
	f.svc = NewAuthService(f.store, f.repo.factory, security.NewHasher(10), tokens, f.resolver, policy, nil)
	return f
}

func requireKind(t *testing.T, err error, kind apperr.Kind, msg string) {
	t.Helper()
	require.Error(t, err)
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae), "want *apperr.Error, got %T", err)
	assert.Equal(t, kind, ae.Kind)
	assert.Equal(t, msg, ae.Message)
}

func TestSignupThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.Signup(ctx, SignupInput{Email: "a@x.com", Password: "hunter2", Name: "Alice", Info: json.RawMessage(`{"lang":"en"}`)})
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, "a@x.com", "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)

	profile, err := f.tokens.ValidateSession(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", profile.Email)
	assert.Equal(t, userdomain.AuthMethodPassword, profile.Method)
	assert.Equal(t, userdomain.PermissionUser, profile.Permission)
	assert.JSONEq(t, `{"lang":"en"}`, string(profile.Info))
}

func TestSignup_EmptyOptionalFieldsStoredAsNull(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Signup(context.Background(), SignupInput{Email: "a@x.com", Password: "pw", Info: json.RawMessage(`""`)}))

	u, err := f.repo.FindByEmailAndMethod(context.Background(), "a@x.com", userdomain.AuthMethodPassword)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Nil(t, u.Info)
	assert.Nil(t, u.Mobile)
	assert.Nil(t, u.Name)
	require.NotNil(t, u.PasswordHash)
	assert.NotEqual(t, "pw", *u.PasswordHash)
}

func TestSignup_DuplicateIsConstraintError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Signup(ctx, SignupInput{Email: "a@x.com", Password: "pw"}))

	err := f.svc.Signup(ctx, SignupInput{Email: "a@x.com", Password: "other"})
	requireKind(t, err, apperr.KindConstraint, apperr.MsgEmailExists)
	ae := apperr.As(err)
	require.NotEmpty(t, ae.Details)
	assert.Equal(t, "users_email_method_key", ae.Details[0].Constraint)
	assert.Equal(t, 1, f.repo.count())
}

func TestSignup_StorageFailureIsUnexpected(t *testing.T) {
	f := newFixture(t)
	f.repo.insertErr = errors.New("connection reset")
	err := f.svc.Signup(context.Background(), SignupInput{Email: "a@x.com", Password: "pw"})
	requireKind(t, err, apperr.KindUnexpected, apperr.MsgUnexpected)
}

func TestSignup_MissingCredentials(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Signup(context.Background(), SignupInput{Email: " ", Password: "pw"})
	requireKind(t, err, apperr.KindValidation, apperr.MsgInvalidRequest)
	assert.Zero(t, f.repo.storageCalls())
}

func TestLogin_UnknownEmailAndWrongPasswordAreIdentical(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Signup(ctx, SignupInput{Email: "a@x.com", Password: "right"}))

	_, unknown := f.svc.Login(ctx, "nobody@x.com", "right")
	_, wrong := f.svc.Login(ctx, "a@x.com", "wrong")
	requireKind(t, unknown, apperr.KindUnauthorized, apperr.MsgBadCredentials)
	requireKind(t, wrong, apperr.KindUnauthorized, apperr.MsgBadCredentials)
	assert.Equal(t, unknown.Error(), wrong.Error())
}

func TestLogin_SocialAccountCannotUsePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.LoginSocial(ctx, "provider-token", userdomain.AuthMethodGoogle)
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "s@x.com", "")
	requireKind(t, err, apperr.KindUnauthorized, apperr.MsgBadCredentials)
}

func TestLoginSocial_InsertThenUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.LoginSocial(ctx, "provider-token", userdomain.AuthMethodGoogle)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, 1, f.repo.count())

	f.resolver.profile = &social.Profile{
		Email:      "s@x.com",
		Name:       social.NonEmpty("Samantha"),
		ProviderID: "g-123",
		Avatar:     nil,
	}
	second, err := f.svc.LoginSocial(ctx, "provider-token", userdomain.AuthMethodGoogle)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, 1, f.repo.count(), "second login must not create a row")
	assert.Equal(t, first.Profile.ID, second.Profile.ID)
	require.NotNil(t, second.Profile.Name)
	assert.Equal(t, "Samantha", *second.Profile.Name)

	profile, err := f.tokens.ValidateSession(second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userdomain.AuthMethodGoogle, profile.Method)
	assert.Equal(t, userdomain.PermissionUser, profile.Permission)
}

func TestLoginSocial_KeepsStoredFieldsWhenProviderOmitsThem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.resolver.profile.Avatar = social.NonEmpty("https://img/1.png")
	_, err := f.svc.LoginSocial(ctx, "t", userdomain.AuthMethodGoogle)
	require.NoError(t, err)

	f.resolver.profile = &social.Profile{Email: "s@x.com", ProviderID: "g-123"}
	res, err := f.svc.LoginSocial(ctx, "t", userdomain.AuthMethodGoogle)
	require.NoError(t, err)
	require.NotNil(t, res.Profile.Avatar)
	assert.Equal(t, "https://img/1.png", *res.Profile.Avatar)
	require.NotNil(t, res.Profile.Name)
	assert.Equal(t, "Sam", *res.Profile.Name)
}

func TestLoginSocial_SameEmailDifferentMethodsAreDistinct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Signup(ctx, SignupInput{Email: "s@x.com", Password: "pw"}))
	_, err := f.svc.LoginSocial(ctx, "t", userdomain.AuthMethodGoogle)
	require.NoError(t, err)
	_, err = f.svc.LoginSocial(ctx, "t", userdomain.AuthMethodFacebook)
	require.NoError(t, err)
	assert.Equal(t, 3, f.repo.count())
}

func TestLoginSocial_ConcurrentFirstLoginsCreateOneRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.LoginSocial(ctx, "t", userdomain.AuthMethodGoogle)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.repo.count())
	assert.Equal(t, 8, f.store.txs)
}

func TestLoginSocial_ResolverFailure(t *testing.T) {
	f := newFixture(t)
	f.resolver.err = social.ErrSocialAuth
	_, err := f.svc.LoginSocial(context.Background(), "bad", userdomain.AuthMethodGoogle)
	requireKind(t, err, apperr.KindSocialAuth, apperr.MsgSocialFailed)
	assert.Zero(t, f.repo.storageCalls())
	assert.Zero(t, f.store.txs)
}

func TestLoginSocial_InsertFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.insertErr = errors.New("insert failed")
	_, err := f.svc.LoginSocial(context.Background(), "t", userdomain.AuthMethodGoogle)
	requireKind(t, err, apperr.KindReconciliation, apperr.MsgCreateFailed)
	assert.Zero(t, f.repo.count())
}

func TestEdit_PasswordCallerUpdatesOwnRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Signup(ctx, SignupInput{Email: "a@x.com", Password: "pw", Name: "Alice", Mobile: "555"}))
	res, err := f.svc.Login(ctx, "a@x.com", "pw")
	require.NoError(t, err)

	err = f.svc.Edit(ctx, res.Profile, EditInput{Name: "Alicia", Info: json.RawMessage(`{"bio":"hi"}`)})
	require.NoError(t, err)

	u, err := f.repo.FindByID(ctx, res.Profile.ID)
	require.NoError(t, err)
	require.NotNil(t, u.Name)
	assert.Equal(t, "Alicia", *u.Name)
	require.NotNil(t, u.Mobile)
	assert.Equal(t, "555", *u.Mobile, "empty mobile keeps the stored value")
	assert.JSONEq(t, `{"bio":"hi"}`, string(u.Info))
}

func TestEdit_SocialCallerForbiddenWithoutStorageCall(t *testing.T) {
	f := newFixture(t)
	caller := &userdomain.Profile{ID: uuid.New().String(), Email: "s@x.com", Method: userdomain.AuthMethodGoogle, Permission: userdomain.PermissionUser}

	err := f.svc.Edit(context.Background(), caller, EditInput{Name: "x"})
	requireKind(t, err, apperr.KindForbidden, apperr.MsgCannotEdit)
	assert.Zero(t, f.repo.storageCalls())
}

func TestEdit_NoCallerForbidden(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Edit(context.Background(), nil, EditInput{Name: "x"})
	requireKind(t, err, apperr.KindForbidden, apperr.MsgCannotEdit)
	assert.Zero(t, f.repo.storageCalls())
}

func TestEdit_NotFoundOrUnchanged(t *testing.T) {
	f := newFixture(t)
	caller := &userdomain.Profile{ID: uuid.New().String(), Email: "gone@x.com", Method: userdomain.AuthMethodPassword}

	testCases := []struct {
		name string
		in   EditInput
	}{
		{"missing row", EditInput{Name: "x"}},
		{"nothing to change", EditInput{Name: "  ", Info: json.RawMessage("null")}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.svc.Edit(context.Background(), caller, tc.in)
			requireKind(t, err, apperr.KindNotFoundOrUnchanged, apperr.MsgUserNotFound)
		})
	}
}

func TestEdit_StorageFailureLoggedNotLeaked(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	f := newFixture(t)
	f.repo.updateErr = errors.New("connection refused")
	caller := &userdomain.Profile{ID: uuid.New().String(), Email: "a@x.com", Method: userdomain.AuthMethodPassword}

	err := f.svc.Edit(context.Background(), caller, EditInput{Name: "x"})
	requireKind(t, err, apperr.KindNotFoundOrUnchanged, apperr.MsgUserNotFound)
	assert.NotContains(t, apperr.As(err).Message, "connection refused")
	assert.Contains(t, buf.String(), "connection refused")
	assert.Contains(t, buf.String(), caller.ID)
}

func TestAuthEventsEmitted(t *testing.T) {
	f := newFixture(t)
	em := &recordingEmitter{}
	f.svc.events = em
	ctx := context.Background()

	_, _ = f.svc.Login(ctx, "nobody@x.com", "pw")
	_, err := f.svc.LoginSocial(ctx, "t", userdomain.AuthMethodGoogle)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		em.mu.Lock()
		defer em.mu.Unlock()
		return len(em.events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	em.mu.Lock()
	defer em.mu.Unlock()
	byType := make(map[telemetry.EventType]*telemetry.AuthEvent)
	for _, ev := range em.events {
		byType[ev.Type] = ev
	}
	login := byType[telemetry.EventLogin]
	require.NotNil(t, login)
	assert.Equal(t, telemetry.OutcomeFailure, login.Outcome)
	assert.Equal(t, "unauthorized", login.Reason)
	sl := byType[telemetry.EventLoginSocial]
	require.NotNil(t, sl)
	assert.Equal(t, telemetry.OutcomeSuccess, sl.Outcome)
	assert.True(t, sl.Created)
	assert.NotEmpty(t, sl.UserID)
	assert.False(t, sl.CreatedAt.IsZero())
}
