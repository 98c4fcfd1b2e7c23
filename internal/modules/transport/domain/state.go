package domain

import (
	"errors"
	"fmt"
	"time"

	"livedoc/internal/platform/events"
)

var ErrConnection = errors.New("connection error")

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Credential is the opaque pair presented on every (re)connect.
type Credential struct {
	UserID string
	Token  string
}

func (c Credential) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrConnection)
	}
	return nil
}

const (
	EventStateChanged       events.Kind = "connection.state"
	EventConnected          events.Kind = "connection.connected"
	EventDisconnected       events.Kind = "connection.disconnected"
	EventError              events.Kind = "connection.error"
	EventReconnectScheduled events.Kind = "connection.reconnect_scheduled"

	EventNotification  events.Kind = "message.notification"
	EventChatMessage   events.Kind = "message.chat"
	EventMessageStatus events.Kind = "message.status"
	EventUserStatus    events.Kind = "message.user_status"
	EventUserJoined    events.Kind = "message.user_joined"
	EventUserLeft      events.Kind = "message.user_left"
	EventTyping        events.Kind = "message.typing"
	EventCollaboration events.Kind = "message.collaboration"
	EventUnknown       events.Kind = "message.unknown"
)

// EventFor maps an inbound route to the event kind it is published under.
// Pong has no event: heartbeats are consumed by the transport.
func EventFor(r Route) (events.Kind, bool) {
	switch r {
	case RouteNotification:
		return EventNotification, true
	case RouteChatMessage:
		return EventChatMessage, true
	case RouteMessageStatus:
		return EventMessageStatus, true
	case RouteUserStatus:
		return EventUserStatus, true
	case RouteUserJoined:
		return EventUserJoined, true
	case RouteUserLeft:
		return EventUserLeft, true
	case RouteTyping:
		return EventTyping, true
	case RouteCollaboration:
		return EventCollaboration, true
	case RoutePong:
		return "", false
	default:
		return EventUnknown, true
	}
}

type StateChange struct {
	From    ConnectionState
	To      ConnectionState
	Attempt int
	At      time.Time
}

type ReconnectScheduled struct {
	Attempt int
	Delay   time.Duration
}

type ConnectionFailure struct {
	Err     error
	Attempt int
}

// Disconnection is published when a live connection drops and again, with
// Final set, when reconnection gives up.
type Disconnection struct {
	Intentional bool
	Final       bool
	Err         error
}
