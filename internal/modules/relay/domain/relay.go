package domain

import (
	"errors"
	"time"

	collabdomain "livedoc/internal/modules/collab/domain"
)

var (
	ErrSessionFull  = errors.New("session full")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotMember    = errors.New("not a member of the document session")
)

// Member is one joined session on the relay.
type Member struct {
	ConnID    string
	UserID    string
	SessionID string
	JoinedAt  time.Time
	LastSeen  time.Time
}

// DocumentState is the relay's working copy of a document plus its members.
type DocumentState struct {
	Document collabdomain.Document
	Members  map[string]*Member
}

func NewDocumentState(doc collabdomain.Document) *DocumentState {
	return &DocumentState{Document: doc, Members: map[string]*Member{}}
}

// Snapshot is what a joining client receives: the document without its local
// operation log.
func (s *DocumentState) Snapshot() collabdomain.Document {
	doc := s.Document.Clone()
	doc.Operations = nil
	return doc
}

func (s *DocumentState) HasUser(userID string) bool {
	for _, m := range s.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// Stale lists members not heard from since cutoff.
func (s *DocumentState) Stale(cutoff time.Time) []*Member {
	var out []*Member
	for _, m := range s.Members {
		if m.LastSeen.Before(cutoff) {
			out = append(out, m)
		}
	}
	return out
}

// DocumentRoom and ChatRoom name hub rooms.
func DocumentRoom(documentID string) string { return "doc:" + documentID }
func ChatRoom(roomID string) string         { return "room:" + roomID }
