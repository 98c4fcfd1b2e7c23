package domain

import (
	"errors"
	"fmt"
	"time"

	apperrors "livedoc/internal/platform/errors"
	"livedoc/internal/platform/events"
)

var (
	ErrJoinTimeout     = errors.New("join timed out")
	ErrJoinRejected    = errors.New("join rejected")
	ErrNoActiveSession = apperrors.ErrNoActiveSession
)

// JoinRejectedError carries the reason the server gave for refusing a join.
type JoinRejectedError struct {
	DocumentID string
	Reason     string
}

func (e *JoinRejectedError) Error() string {
	return fmt.Sprintf("join %s rejected: %s", e.DocumentID, e.Reason)
}

func (e *JoinRejectedError) Unwrap() error { return ErrJoinRejected }

// Session binds one user to one document under a server-assigned id.
type Session struct {
	DocumentID   string    `json:"documentId"`
	UserID       string    `json:"userId"`
	SessionID    string    `json:"sessionId"`
	JoinedAt     time.Time `json:"joinedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

const (
	EventSessionJoined     events.Kind = "session.joined"
	EventSessionJoinError  events.Kind = "session.join_error"
	EventSessionLeft       events.Kind = "session.left"
	EventSessionLost       events.Kind = "session.lost"
	EventOperationApplied  events.Kind = "operation.applied"
	EventOperationSkipped  events.Kind = "operation.skipped"
	EventParticipantJoined events.Kind = "participant.joined"
	EventParticipantLeft   events.Kind = "participant.left"
	EventPresenceUpdated   events.Kind = "presence.updated"
)

type SessionJoined struct {
	Session  Session
	Document Document
}

type SessionEnded struct {
	Session Session
	Err     error
}

type JoinFailed struct {
	DocumentID string
	Err        error
}

type OperationApplied struct {
	Operation Operation
	Version   int
	Local     bool
}

type OperationSkipped struct {
	Operation Operation
	Err       error
}

type PresenceUpdate struct {
	DocumentID  string
	Participant Participant
}
