// Package queue carries security audit events over RabbitMQ.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// EventType names what happened in an AuthEvent.
type EventType string

const (
	LoginSucceeded  EventType = "login.success"
	LoginFailed     EventType = "login.failure"
	TokenRefreshed  EventType = "token.refreshed"
	TokenReuse      EventType = "token.reuse_detected"
	LoggedOut       EventType = "logout"
	LoggedOutAll    EventType = "logout.all"
	SessionRevoked  EventType = "session.revoked"
	PasswordChanged EventType = "password.changed"
	UserCreated     EventType = "user.created"
	UserUpdated     EventType = "user.updated"
	AccessDenied    EventType = "access.denied"
	AuthRejected    EventType = "auth.rejected"
)

// AuthEvent is published for every security relevant action.  It contains
// enough information for a consumer to write an audit trail without
// querying the primary database.
type AuthEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	UserID     uint64    `json:"user_id,omitempty"`
	Username   string    `json:"username,omitempty"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent returns an event of type t stamped with a fresh id.
func NewEvent(t EventType, at time.Time) AuthEvent {
	return AuthEvent{ID: uuid.NewString(), Type: t, OccurredAt: at.UTC()}
}
