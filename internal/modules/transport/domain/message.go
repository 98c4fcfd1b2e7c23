package domain

import (
	"encoding/json"
	"fmt"
)

// MessageType is the `type` tag of the wire envelope.
type MessageType string

const (
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"

	TypeCollabJoin      MessageType = "collaboration_join"
	TypeCollabJoined    MessageType = "collaboration_joined"
	TypeCollabJoinError MessageType = "collaboration_join_error"
	TypeCollabLeave     MessageType = "collaboration_leave"
	TypeCollabOperation MessageType = "collaboration_operation"
	TypeCollabCursor    MessageType = "collaboration_cursor"
	TypeCollabSelection MessageType = "collaboration_selection"
	TypeCollabHeartbeat MessageType = "collaboration_heartbeat"

	TypeChatMessage   MessageType = "chat_message"
	TypeMarkAsRead    MessageType = "mark_as_read"
	TypeMessageStatus MessageType = "message_status"
	TypeJoinRoom      MessageType = "join_room"
	TypeLeaveRoom     MessageType = "leave_room"
	TypeUserStatus    MessageType = "user_status"
	TypeUserJoined    MessageType = "user_joined"
	TypeUserLeft      MessageType = "user_left"
	TypeTyping        MessageType = "typing"
	TypeNotification  MessageType = "notification"
)

// Route is the inbound category a message is dispatched to.
type Route int

const (
	RouteUnknown Route = iota
	RouteNotification
	RouteChatMessage
	RouteMessageStatus
	RouteUserStatus
	RouteUserJoined
	RouteUserLeft
	RouteTyping
	RoutePong
	RouteCollaboration
	// RouteOutbound covers types the server is not expected to send back.
	RouteOutbound
)

func (r Route) String() string {
	switch r {
	case RouteNotification:
		return "notification"
	case RouteChatMessage:
		return "chat_message"
	case RouteMessageStatus:
		return "message_status"
	case RouteUserStatus:
		return "user_status"
	case RouteUserJoined:
		return "user_joined"
	case RouteUserLeft:
		return "user_left"
	case RouteTyping:
		return "typing"
	case RoutePong:
		return "pong"
	case RouteCollaboration:
		return "collaboration"
	case RouteOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

func (t MessageType) Route() Route {
	switch t {
	case TypeNotification:
		return RouteNotification
	case TypeChatMessage:
		return RouteChatMessage
	case TypeMessageStatus:
		return RouteMessageStatus
	case TypeUserStatus:
		return RouteUserStatus
	case TypeUserJoined:
		return RouteUserJoined
	case TypeUserLeft:
		return RouteUserLeft
	case TypeTyping:
		return RouteTyping
	case TypePong:
		return RoutePong
	case TypeCollabJoined, TypeCollabJoinError, TypeCollabLeave, TypeCollabOperation,
		TypeCollabCursor, TypeCollabSelection, TypeCollabHeartbeat:
		return RouteCollaboration
	case TypePing, TypeCollabJoin, TypeMarkAsRead, TypeJoinRoom, TypeLeaveRoom:
		return RouteOutbound
	default:
		return RouteUnknown
	}
}

// Message is the bidirectional wire envelope.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
	ID        string          `json:"id,omitempty"`
}

func NewMessage(t MessageType, data any) (Message, error) {
	msg := Message{Type: t}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s data: %w", t, err)
	}
	msg.Data = raw
	return msg, nil
}

// Decode unmarshals the data section into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", m.Type, err)
	}
	return nil
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("decode envelope: missing type")
	}
	return m, nil
}

type ChatPayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

type ReadReceiptPayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

type RoomPayload struct {
	RoomID string `json:"roomId"`
}

type TypingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type StatusPayload struct {
	Status string `json:"status"`
}
