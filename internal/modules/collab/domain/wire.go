package domain

// Payloads carried in the data section of collaboration_* envelopes.

type JoinRequest struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Name       string `json:"name,omitempty"`
}

type JoinAck struct {
	DocumentID string   `json:"documentId"`
	SessionID  string   `json:"sessionId"`
	Document   Document `json:"document"`
}

type JoinError struct {
	DocumentID string `json:"documentId"`
	Error      string `json:"error"`
}

type LeaveRequest struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	SessionID  string `json:"sessionId,omitempty"`
}

type OperationMessage struct {
	DocumentID string    `json:"documentId"`
	Operation  Operation `json:"operation"`
}

type CursorMessage struct {
	DocumentID string   `json:"documentId"`
	UserID     string   `json:"userId"`
	Name       string   `json:"name,omitempty"`
	Cursor     Position `json:"cursor"`
}

type SelectionMessage struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Name       string `json:"name,omitempty"`
	Selection  Range  `json:"selection"`
}

type Heartbeat struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	SessionID  string `json:"sessionId"`
}

// MemberEvent is the data of user_joined and user_left.
type MemberEvent struct {
	UserID     string `json:"userId"`
	DocumentID string `json:"documentId,omitempty"`
	Name       string `json:"name,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
}
