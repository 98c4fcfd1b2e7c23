package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"livedoc/internal/modules/collab/domain"
	collabout "livedoc/internal/modules/collab/port/out"
	transportdomain "livedoc/internal/modules/transport/domain"
	"livedoc/internal/platform/events"
)

const journalBuffer = 256

// JournalRecorder copies connection, session and operation events into the
// journal on a background goroutine. Events are dropped when it falls behind.
type JournalRecorder struct {
	journal collabout.Journal
	logger  *slog.Logger
	entries chan domain.JournalEntry
	unsub   events.Unsubscribe
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewJournalRecorder(journal collabout.Journal, bus *events.Bus) *JournalRecorder {
	r := &JournalRecorder{
		journal: journal,
		logger:  slog.Default().With("component", "journal"),
		entries: make(chan domain.JournalEntry, journalBuffer),
		done:    make(chan struct{}),
	}
	r.unsub = bus.OnAny(r.observe)
	go r.run()
	return r
}

func (r *JournalRecorder) observe(e events.Event) {
	entry, ok := journalEntryFor(e)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.entries <- entry:
	default:
		r.logger.Warn("journal full, dropping event", "kind", entry.Kind)
	}
}

func (r *JournalRecorder) run() {
	defer close(r.done)
	for entry := range r.entries {
		if err := r.journal.Record(context.Background(), entry); err != nil {
			r.logger.Warn("journal write failed", "kind", entry.Kind, "error", err)
		}
	}
}

// Close stops recording and waits for buffered entries to be written.
func (r *JournalRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.unsub()
	close(r.entries)
	r.mu.Unlock()
	<-r.done
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func journalEntryFor(e events.Event) (domain.JournalEntry, bool) {
	var documentID string
	var body any
	switch p := e.Payload.(type) {
	case transportdomain.StateChange:
		body = map[string]any{"from": p.From.String(), "to": p.To.String(), "attempt": p.Attempt}
	case transportdomain.Disconnection:
		body = map[string]any{"intentional": p.Intentional, "final": p.Final, "error": errString(p.Err)}
	case transportdomain.ConnectionFailure:
		body = map[string]any{"attempt": p.Attempt, "error": errString(p.Err)}
	case transportdomain.ReconnectScheduled:
		body = map[string]any{"attempt": p.Attempt, "delayMs": p.Delay.Milliseconds()}
	case domain.SessionJoined:
		documentID = p.Session.DocumentID
		body = map[string]any{"sessionId": p.Session.SessionID, "userId": p.Session.UserID, "version": p.Document.Version}
	case domain.SessionEnded:
		documentID = p.Session.DocumentID
		body = map[string]any{"sessionId": p.Session.SessionID, "error": errString(p.Err)}
	case domain.JoinFailed:
		documentID = p.DocumentID
		body = map[string]any{"error": errString(p.Err)}
	case domain.OperationApplied:
		documentID = p.Operation.DocumentID
		body = map[string]any{"operation": p.Operation, "version": p.Version, "local": p.Local}
	case domain.OperationSkipped:
		documentID = p.Operation.DocumentID
		body = map[string]any{"operation": p.Operation, "error": errString(p.Err)}
	default:
		return domain.JournalEntry{}, false
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return domain.JournalEntry{}, false
	}
	return domain.JournalEntry{Kind: string(e.Kind), DocumentID: documentID, Payload: raw, At: e.At}, true
}
