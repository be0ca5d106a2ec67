// Package apperr defines the tagged failure variants the identity flows return. Each Kind
// maps to one HTTP status and a client-facing message; the transport renders them once.
package apperr

import (
	"errors"
	"net/http"
)

// Kind tags a failure.
type Kind int

const (
	KindUnexpected Kind = iota
	KindUnauthorized
	KindValidation
	KindConstraint
	KindSocialAuth
	KindReconciliation
	KindNotFoundOrUnchanged
	KindForbidden
)

var kindNames = map[Kind]string{
	KindUnexpected:          "unexpected",
	KindUnauthorized:        "unauthorized",
	KindValidation:          "validation",
	KindConstraint:          "constraint",
	KindSocialAuth:          "social_auth",
	KindReconciliation:      "reconciliation",
	KindNotFoundOrUnchanged: "not_found_or_unchanged",
	KindForbidden:           "forbidden",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Status returns the HTTP status for k.
func (k Kind) Status() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindValidation, KindConstraint, KindSocialAuth, KindReconciliation,
		KindNotFoundOrUnchanged, KindForbidden:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Client-facing messages.
const (
	MsgBadCredentials  = "Email or password is incorrect"
	MsgInvalidRequest  = "Invalid request"
	MsgUploadFailed    = "Error upload file"
	MsgEmailExists     = "Email already exists"
	MsgSocialFailed    = "Login social failed"
	MsgCreateFailed    = "Create user failed"
	MsgUserNotFound    = "User doesn't exist"
	MsgCannotEdit      = "Cannot edit user"
	MsgUnexpected      = "Unexpected error"
	MsgUnauthenticated = "Unauthorized"
)

// Detail is one entry of the error list rendered to clients.
type Detail struct {
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	Constraint string `json:"constraint,omitempty"`
}

// Error is a tagged failure. Message and Details are safe to show; Err is not.
type Error struct {
	Kind    Kind
	Message string
	Details []Detail
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and message, so two bad-credential errors compare equal
// regardless of cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

// As returns err as an *Error. Untagged errors become KindUnexpected wrapping err.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnexpected, Message: MsgUnexpected, Err: err}
}

// New returns an *Error of kind with msg.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func Unauthorized() *Error { return &Error{Kind: KindUnauthorized, Message: MsgBadCredentials} }

func Validation(msg string, cause error, details ...Detail) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details, Err: cause}
}

func Constraint(cause error, details ...Detail) *Error {
	return &Error{Kind: KindConstraint, Message: MsgEmailExists, Details: details, Err: cause}
}

func SocialAuth(cause error) *Error {
	return &Error{Kind: KindSocialAuth, Message: MsgSocialFailed, Err: cause}
}

func Reconciliation(msg string, cause error) *Error {
	return &Error{Kind: KindReconciliation, Message: msg, Err: cause}
}

func NotFoundOrUnchanged(cause error) *Error {
	return &Error{Kind: KindNotFoundOrUnchanged, Message: MsgUserNotFound, Err: cause}
}

func Forbidden() *Error { return &Error{Kind: KindForbidden, Message: MsgCannotEdit} }

func Unexpected(cause error) *Error {
	return &Error{Kind: KindUnexpected, Message: MsgUnexpected, Err: cause}
}

// Upload reports a failed avatar store.
func Upload(cause error) *Error {
	return Validation(MsgUploadFailed, cause, Detail{Message: MsgUploadFailed, Field: "avatar"})
}
