package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// User is the persisted user record. Nullable columns are pointers so a NULL is never
// confused with an empty value.
type User struct {
	ID           string
	Email        string
	PasswordHash *string
	Salt         *string
	Name         *string
	Info         json.RawMessage
	Mobile       *string
	Avatar       *string
	Permission   Permission
	Method       AuthMethod
	ProviderID   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuthMethod is the channel an account authenticates through. The same email may own one
// account per method.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "PASSWORD"
	AuthMethodGoogle   AuthMethod = "GOOGLE"
	AuthMethodFacebook AuthMethod = "FACEBOOK"
)

// IsSocial reports whether m is a third-party provider method.
func (m AuthMethod) IsSocial() bool {
	return m == AuthMethodGoogle || m == AuthMethodFacebook
}

// Valid reports whether m is a known method.
func (m AuthMethod) Valid() bool {
	return m == AuthMethodPassword || m.IsSocial()
}

type Permission string

const (
	PermissionUser  Permission = "USER"
	PermissionAdmin Permission = "ADMIN"
)

var (
	ErrEmailRequired          = errors.New("email is required")
	ErrInvalidMethod          = errors.New("invalid auth method")
	ErrInvalidPermission      = errors.New("invalid permission")
	ErrPasswordFieldsMissing  = errors.New("password accounts require password_hash and salt")
	ErrPasswordFieldsOnSocial = errors.New("social accounts must not carry password_hash or salt")
)

// Validate checks the record invariants before persistence. An empty permission defaults
// to USER. Returns the first violation found.
func (u *User) Validate() error {
	if u.Email == "" {
		return ErrEmailRequired
	}
	if !u.Method.Valid() {
		return ErrInvalidMethod
	}
	if u.Permission == "" {
		u.Permission = PermissionUser
	}
	if u.Permission != PermissionUser && u.Permission != PermissionAdmin {
		return ErrInvalidPermission
	}
	hasHash := u.PasswordHash != nil && *u.PasswordHash != ""
	hasSalt := u.Salt != nil && *u.Salt != ""
	if u.Method == AuthMethodPassword {
		if !hasHash || !hasSalt {
			return ErrPasswordFieldsMissing
		}
		return nil
	}
	if u.PasswordHash != nil || u.Salt != nil {
		return ErrPasswordFieldsOnSocial
	}
	return nil
}
