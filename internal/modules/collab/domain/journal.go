package domain

import (
	"encoding/json"
	"time"
)

// JournalEntry is one recorded event, kept for local replay and debugging.
type JournalEntry struct {
	ID         int64
	Kind       string
	DocumentID string
	Payload    json.RawMessage
	At         time.Time
}
