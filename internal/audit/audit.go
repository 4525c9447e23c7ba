// Package audit records who issued which control-plane action against which
// process and what happened.
package audit

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes an audit event.
type EventType string

const (
	EventRPCRequest     EventType = "rpc.request"
	EventProcessStart   EventType = "process.start"
	EventProcessStop    EventType = "process.stop"
	EventProcessRestart EventType = "process.restart"
	EventProcessFailed  EventType = "process.failed"
	EventConfigReload   EventType = "config.reload"
	EventSystemHalt     EventType = "system.halt"
)

// Status is the outcome of the audited action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Event is one audit log entry. ID uniquely identifies it for correlation
// with downstream log aggregation.
type Event struct {
	ID        string
	Timestamp time.Time
	EventType EventType
	Process   string // empty for daemon-wide events
	Status    Status
	Message   string
}

// Logger wraps a *slog.Logger with the audit subsystem tag, threaded
// (not global) into the control server.
type Logger struct {
	logger *slog.Logger
}

// NewLogger builds an audit logger from an injected base logger.
func NewLogger(base *slog.Logger) *Logger {
	return &Logger{logger: base.With("subsystem", "audit")}
}

// Log records one audit event at a level derived from its status.
func (l *Logger) Log(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	attrs := []any{
		"id", e.ID,
		"event_type", e.EventType,
		"process", e.Process,
		"status", e.Status,
		"message", e.Message,
	}

	if e.Status == StatusFailure {
		l.logger.Error("audit_event", attrs...)
		return
	}
	l.logger.Info("audit_event", attrs...)
}
