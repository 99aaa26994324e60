package events

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSessionIssued      EventType = "session.issued"
	EventSessionRotated     EventType = "session.rotated"
	EventSessionRevoked     EventType = "session.revoked"
	EventSessionsRevokedAll EventType = "sessions.revoked_all"
	EventLoginFailed        EventType = "login.failed"
)

// AllEventTypes lists every type a subscriber can listen to.
var AllEventTypes = []EventType{
	EventSessionIssued,
	EventSessionRotated,
	EventSessionRevoked,
	EventSessionsRevokedAll,
	EventLoginFailed,
}

// Event represents a session lifecycle event emitted by services. Events never
// carry token or password values.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// NewEvent stamps an event with a ULID and the given time in UTC.
func NewEvent(eventType EventType, userID string, at time.Time, payload any) Event {
	return Event{
		ID:        ulid.Make().String(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: at.UTC(),
		Payload:   payload,
	}
}

// SessionIssuedPayload payload.
type SessionIssuedPayload struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionRotatedPayload payload.
type SessionRotatedPayload struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionsRevokedAllPayload payload.
type SessionsRevokedAllPayload struct {
	Count int64 `json:"count"`
}

// LoginFailedPayload payload. Reason is internal only and never shown to callers.
type LoginFailedPayload struct {
	Reason string `json:"reason"`
}
