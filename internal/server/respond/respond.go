// Package respond writes the JSON envelopes every route answers with.
package respond

import (
	"encoding/json"
	"log"
	"net/http"

	"identity-service/backend/internal/apperr"
)

// Envelope is the success body.
type Envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorEnvelope is the failure body. Errors is never null.
type ErrorEnvelope struct {
	Errors  []apperr.Detail `json:"errors"`
	Status  int             `json:"status"`
	Message string          `json:"message"`
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("respond: encode: %v", err)
	}
}

// OK writes a success envelope. data may be nil to omit it.
func OK(w http.ResponseWriter, status int, message string, data any) {
	JSON(w, status, Envelope{Status: status, Message: message, Data: data})
}

// Error renders err once. Untagged errors are logged and answered with a generic 500; their
// text is never sent.
func Error(w http.ResponseWriter, err error) {
	ae := apperr.As(err)
	if ae.Kind == apperr.KindUnexpected {
		log.Printf("respond: unexpected error: %v", err)
	}
	status := ae.Kind.Status()
	details := ae.Details
	if details == nil {
		details = []apperr.Detail{}
	}
	JSON(w, status, ErrorEnvelope{Errors: details, Status: status, Message: ae.Message})
}

// Unauthorized answers a request without a valid session.
func Unauthorized(w http.ResponseWriter) {
	JSON(w, http.StatusUnauthorized, ErrorEnvelope{
		Errors:  []apperr.Detail{},
		Status:  http.StatusUnauthorized,
		Message: apperr.MsgUnauthenticated,
	})
}

// NotFound answers a request that matched no route.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	status(w, http.StatusNotFound)
}

// MethodNotAllowed answers a request whose path matched a route registered for other methods.
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	status(w, http.StatusMethodNotAllowed)
}

func status(w http.ResponseWriter, code int) {
	JSON(w, code, ErrorEnvelope{Errors: []apperr.Detail{}, Status: code, Message: http.StatusText(code)})
}
