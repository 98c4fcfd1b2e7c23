package service

import (
	"context"
	"log/slog"

	"livedoc/internal/modules/collab/domain"
	collabout "livedoc/internal/modules/collab/port/out"
	transportdomain "livedoc/internal/modules/transport/domain"
	"livedoc/internal/platform/clock"
	"livedoc/internal/platform/events"
)

// PresenceBroadcaster sends full cursor and selection state and keeps the
// latest state received per participant.
type PresenceBroadcaster struct {
	sessions  *SessionManager
	transport collabout.Transport
	bus       *events.Bus
	clock     clock.Clock
	logger    *slog.Logger
	unsub     events.Unsubscribe
}

func NewPresenceBroadcaster(sessions *SessionManager, transport collabout.Transport, bus *events.Bus, clk clock.Clock) *PresenceBroadcaster {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	p := &PresenceBroadcaster{
		sessions:  sessions,
		transport: transport,
		bus:       bus,
		clock:     clk,
		logger:    slog.Default().With("component", "presence"),
	}
	p.unsub = events.Subscribe(bus, transportdomain.EventCollaboration, p.handleCollaboration)
	return p
}

func (p *PresenceBroadcaster) SendCursor(ctx context.Context, line, column int) error {
	cursor := domain.Position{Line: line, Column: column}
	var msg domain.CursorMessage
	err := p.touchSelf(func(sess *domain.Session, self *domain.Participant) {
		self.Cursor = &cursor
		msg = domain.CursorMessage{DocumentID: sess.DocumentID, UserID: sess.UserID, Name: self.Name, Cursor: cursor}
	})
	if err != nil {
		return err
	}
	_, err = p.transport.Send(ctx, transportdomain.TypeCollabCursor, msg)
	return err
}

func (p *PresenceBroadcaster) SendSelection(ctx context.Context, start, end domain.Position) error {
	selection := domain.Range{Start: start, End: end}
	var msg domain.SelectionMessage
	err := p.touchSelf(func(sess *domain.Session, self *domain.Participant) {
		self.Selection = &selection
		msg = domain.SelectionMessage{DocumentID: sess.DocumentID, UserID: sess.UserID, Name: self.Name, Selection: selection}
	})
	if err != nil {
		return err
	}
	_, err = p.transport.Send(ctx, transportdomain.TypeCollabSelection, msg)
	return err
}

func (p *PresenceBroadcaster) touchSelf(fn func(sess *domain.Session, self *domain.Participant)) error {
	now := p.clock.Now()
	return p.sessions.withDocument(func(sess *domain.Session, doc *domain.Document) error {
		sess.LastActivity = now
		self, ok := doc.Participant(sess.UserID)
		if !ok {
			self = domain.NewParticipant(sess.UserID, "")
		}
		self = self.Clone()
		fn(sess, &self)
		doc.Upsert(self)
		return nil
	})
}

// Participants returns the roster of the active document, or nil.
func (p *PresenceBroadcaster) Participants() []domain.Participant {
	doc, ok := p.sessions.Document()
	if !ok {
		return nil
	}
	return doc.ActiveUsers
}

func (p *PresenceBroadcaster) Close() {
	if p.unsub != nil {
		p.unsub()
	}
}

func (p *PresenceBroadcaster) handleCollaboration(msg transportdomain.Message) {
	switch msg.Type {
	case transportdomain.TypeCollabCursor:
		var in domain.CursorMessage
		if err := msg.Decode(&in); err != nil {
			p.logger.Debug("bad cursor update", "error", err)
			return
		}
		cursor := in.Cursor
		p.upsert(in.DocumentID, in.UserID, in.Name, func(u *domain.Participant) { u.Cursor = &cursor })
	case transportdomain.TypeCollabSelection:
		var in domain.SelectionMessage
		if err := msg.Decode(&in); err != nil {
			p.logger.Debug("bad selection update", "error", err)
			return
		}
		selection := in.Selection
		p.upsert(in.DocumentID, in.UserID, in.Name, func(u *domain.Participant) { u.Selection = &selection })
	}
}

func (p *PresenceBroadcaster) upsert(documentID, userID, name string, set func(*domain.Participant)) {
	if userID == "" {
		return
	}
	var updated domain.Participant
	err := p.sessions.withDocument(func(sess *domain.Session, doc *domain.Document) error {
		if documentID != doc.ID || userID == sess.UserID {
			return errStaleDocument
		}
		u, ok := doc.Participant(userID)
		if !ok {
			u = domain.NewParticipant(userID, name)
		}
		u = u.Clone()
		if name != "" {
			u.Name = name
		}
		set(&u)
		doc.Upsert(u)
		updated = u.Clone()
		return nil
	})
	if err != nil {
		return
	}
	p.bus.Emit(domain.EventPresenceUpdated, domain.PresenceUpdate{DocumentID: documentID, Participant: updated})
}
