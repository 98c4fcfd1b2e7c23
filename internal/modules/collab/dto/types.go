package dto

import "time"

type PositionOutput struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type ParticipantOutput struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Color     string           `json:"color"`
	Cursor    *PositionOutput  `json:"cursor,omitempty"`
	Selection []PositionOutput `json:"selection,omitempty"`
}

type DocumentOutput struct {
	ID           string              `json:"id"`
	Content      string              `json:"content"`
	Version      int                 `json:"version"`
	LastModified time.Time           `json:"last_modified"`
	Participants []ParticipantOutput `json:"participants"`
}

type SessionOutput struct {
	DocumentID   string    `json:"document_id"`
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id"`
	JoinedAt     time.Time `json:"joined_at"`
	LastActivity time.Time `json:"last_activity"`
}

type OperationOutput struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Version int    `json:"version"`
}

type StatusOutput struct {
	Connection string         `json:"connection"`
	Queued     int            `json:"queued"`
	Session    *SessionOutput `json:"session,omitempty"`
}

type JournalEntryOutput struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	DocumentID string    `json:"document_id,omitempty"`
	Payload    string    `json:"payload"`
	At         time.Time `json:"at"`
}
