package telemetry

import (
	"context"
	"errors"
	"time"
)

// EventType names the identity flow an event describes.
type EventType string

const (
	EventLogin       EventType = "login"
	EventSignup      EventType = "signup"
	EventLoginSocial EventType = "login_social"
	EventEdit        EventType = "edit"
)

// Outcome is the result of the flow.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// AuthEvent records one identity-flow attempt. It carries no credentials or tokens.
type AuthEvent struct {
	Type      EventType `json:"event_type"`
	Outcome   Outcome   `json:"outcome"`
	UserID    string    `json:"user_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Created   bool      `json:"created,omitempty"`
	Duration  float64   `json:"duration_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// EventEmitter emits auth events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *AuthEvent) error
}

// Multi fans an event out to every non-nil emitter and joins their errors.
type Multi []EventEmitter

func (m Multi) Emit(ctx context.Context, event *AuthEvent) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
