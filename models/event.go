package models

import "time"

// Event severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event types recorded by the gate, the submission service and the worker.
const (
	EventAuthGranted     = "auth_granted"
	EventAuthDenied      = "auth_denied"
	EventContentRejected = "content_rejected"
	EventMessageQueued   = "message_queued"
	EventDecryptFailed   = "decrypt_failed"
	EventDeliveryFailed  = "delivery_failed"
	EventDeliverySent    = "delivery_sent"
)

// Event is one journal entry. Subject identifies what the event is about
// (a code tag, a message id) and never holds message content or raw codes.
type Event struct {
	ID        int64
	Type      string
	Subject   string
	Details   map[string]any
	Severity  string
	Timestamp time.Time
}

// Event query limits.
const (
	DefaultEventLimit = 100
	MaxEventLimit     = 1000
)

// EventFilter narrows an event query. Zero fields match everything.
type EventFilter struct {
	Type     string
	Severity string
	// Since keeps events at or after this instant.
	Since time.Time
	Limit int
}

// EffectiveLimit clamps Limit into [1, MaxEventLimit], using
// DefaultEventLimit when unset.
func (f EventFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultEventLimit
	case f.Limit > MaxEventLimit:
		return MaxEventLimit
	default:
		return f.Limit
	}
}

// Matches reports whether e passes the filter, ignoring Limit.
func (f EventFilter) Matches(e Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// ValidSeverity reports whether s is one of the event severities.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}
