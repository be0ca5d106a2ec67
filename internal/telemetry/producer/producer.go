// Package producer publishes auth events to a message broker.
package producer

import "identity-service/backend/internal/telemetry"

// Producer emits auth events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	telemetry.EventEmitter
	// Close flushes pending writes and releases the connection. Safe to call if already closed.
	Close() error
}
