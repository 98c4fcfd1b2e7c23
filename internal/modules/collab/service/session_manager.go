package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"livedoc/internal/modules/collab/domain"
	collabout "livedoc/internal/modules/collab/port/out"
	transportdomain "livedoc/internal/modules/transport/domain"
	"livedoc/internal/platform/clock"
	apperrors "livedoc/internal/platform/errors"
	"livedoc/internal/platform/events"
)

type Settings struct {
	HeartbeatInterval time.Duration
	JoinTimeout       time.Duration
}

func DefaultSettings() Settings {
	return Settings{HeartbeatInterval: 30 * time.Second, JoinTimeout: 10 * time.Second}
}

type joinResult struct {
	doc       domain.Document
	sessionID string
	err       error
}

type joinWaiter struct {
	documentID string
	userID     string
	timer      clock.Timer
	done       chan joinResult
}

// SessionManager owns the active Session and the working Document. The
// operation engine and presence broadcaster reach them through withDocument.
type SessionManager struct {
	transport collabout.Transport
	bus       *events.Bus
	clock     clock.Clock
	settings  Settings
	logger    *slog.Logger

	mu        sync.Mutex
	session   *domain.Session
	doc       *domain.Document
	pending   *joinWaiter
	heartbeat clock.Timer
	hbGen     uint64
	closed    bool
	unsubs    []events.Unsubscribe
}

func NewSessionManager(transport collabout.Transport, bus *events.Bus, clk clock.Clock, settings Settings) *SessionManager {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if settings.HeartbeatInterval <= 0 {
		settings.HeartbeatInterval = DefaultSettings().HeartbeatInterval
	}
	if settings.JoinTimeout <= 0 {
		settings.JoinTimeout = DefaultSettings().JoinTimeout
	}
	s := &SessionManager{
		transport: transport,
		bus:       bus,
		clock:     clk,
		settings:  settings,
		logger:    slog.Default().With("component", "session"),
	}
	s.unsubs = append(s.unsubs,
		events.Subscribe(bus, transportdomain.EventCollaboration, s.handleCollaboration),
		events.Subscribe(bus, transportdomain.EventUserJoined, s.handleUserJoined),
		events.Subscribe(bus, transportdomain.EventUserLeft, s.handleUserLeft),
		events.Subscribe(bus, transportdomain.EventDisconnected, s.handleDisconnected),
	)
	return s
}

// JoinSession asks the server for documentID and waits for the snapshot. Any
// session already active is left first. On timeout or refusal no session is
// recorded.
func (s *SessionManager) JoinSession(ctx context.Context, documentID, userID string) (domain.Document, error) {
	documentID, userID = strings.TrimSpace(documentID), strings.TrimSpace(userID)
	if documentID == "" || userID == "" {
		return domain.Document{}, fmt.Errorf("%w: document id and user id are required", apperrors.ErrInvalidInput)
	}
	if _, ok := s.Active(); ok {
		if err := s.LeaveSession(ctx); err != nil {
			s.logger.Warn("leave before join failed", "error", err)
		}
	}

	w := &joinWaiter{documentID: documentID, userID: userID, done: make(chan joinResult, 1)}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Document{}, apperrors.ErrClosed
	}
	if s.pending != nil {
		s.mu.Unlock()
		return domain.Document{}, fmt.Errorf("%w: join of %s already in progress", apperrors.ErrInvalidInput, s.pending.documentID)
	}
	s.pending = w
	w.timer = s.clock.AfterFunc(s.settings.JoinTimeout, func() {
		s.resolveJoin(w, joinResult{err: fmt.Errorf("%w after %s", domain.ErrJoinTimeout, s.settings.JoinTimeout)})
	})
	s.mu.Unlock()

	if _, err := s.transport.Send(ctx, transportdomain.TypeCollabJoin, domain.JoinRequest{DocumentID: documentID, UserID: userID}); err != nil {
		s.resolveJoin(w, joinResult{err: err})
	}

	select {
	case res := <-w.done:
		return res.doc, res.err
	case <-ctx.Done():
		s.resolveJoin(w, joinResult{err: ctx.Err()})
		res := <-w.done
		return res.doc, res.err
	}
}

// resolveJoin settles w exactly once. A successful result installs the
// session before any later message can be dispatched.
func (s *SessionManager) resolveJoin(w *joinWaiter, res joinResult) {
	s.mu.Lock()
	if s.pending != w {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	if w.timer != nil {
		w.timer.Stop()
	}
	var joined domain.Session
	if res.err == nil {
		now := s.clock.Now()
		doc := res.doc.Clone()
		if _, ok := doc.Participant(w.userID); !ok {
			doc.Upsert(domain.NewParticipant(w.userID, ""))
		}
		joined = domain.Session{
			DocumentID:   w.documentID,
			UserID:       w.userID,
			SessionID:    res.sessionID,
			JoinedAt:     now,
			LastActivity: now,
		}
		s.session = &joined
		s.doc = &doc
		s.hbGen++
		s.scheduleHeartbeatLocked(s.hbGen)
		res.doc = doc.Clone()
	}
	s.mu.Unlock()

	if res.err != nil {
		s.logger.Warn("join failed", "documentId", w.documentID, "error", res.err)
		s.bus.Emit(domain.EventSessionJoinError, domain.JoinFailed{DocumentID: w.documentID, Err: res.err})
	} else {
		s.logger.Info("joined session", "documentId", joined.DocumentID, "sessionId", joined.SessionID)
		s.bus.Emit(domain.EventSessionJoined, domain.SessionJoined{Session: joined, Document: res.doc})
	}
	w.done <- res
}

// LeaveSession is a no-op without an active session.
func (s *SessionManager) LeaveSession(ctx context.Context) error {
	s.mu.Lock()
	sess := s.endLocked()
	s.mu.Unlock()
	if sess == nil {
		return nil
	}
	_, err := s.transport.Send(ctx, transportdomain.TypeCollabLeave, domain.LeaveRequest{
		DocumentID: sess.DocumentID,
		UserID:     sess.UserID,
		SessionID:  sess.SessionID,
	})
	s.logger.Info("left session", "documentId", sess.DocumentID)
	s.bus.Emit(domain.EventSessionLeft, domain.SessionEnded{Session: *sess, Err: err})
	return err
}

func (s *SessionManager) endLocked() *domain.Session {
	sess := s.session
	s.session = nil
	s.doc = nil
	s.hbGen++
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
	return sess
}

// Active returns a copy of the current session.
func (s *SessionManager) Active() (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return domain.Session{}, false
	}
	return *s.session, true
}

// Document returns a copy of the working document.
func (s *SessionManager) Document() (domain.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return domain.Document{}, false
	}
	return s.doc.Clone(), true
}

// withDocument runs fn with exclusive access to the session and document.
func (s *SessionManager) withDocument(fn func(sess *domain.Session, doc *domain.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.doc == nil {
		return domain.ErrNoActiveSession
	}
	return fn(s.session, s.doc)
}

// Close leaves the active session and stops listening to the bus.
func (s *SessionManager) Close(ctx context.Context) error {
	err := s.LeaveSession(ctx)
	s.mu.Lock()
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	pending := s.pending
	s.mu.Unlock()
	if pending != nil {
		s.resolveJoin(pending, joinResult{err: apperrors.ErrClosed})
	}
	for _, off := range unsubs {
		off()
	}
	return err
}

func (s *SessionManager) scheduleHeartbeatLocked(gen uint64) {
	s.heartbeat = s.clock.AfterFunc(s.settings.HeartbeatInterval, func() { s.beat(gen) })
}

func (s *SessionManager) beat(gen uint64) {
	s.mu.Lock()
	if gen != s.hbGen || s.session == nil {
		s.mu.Unlock()
		return
	}
	s.session.LastActivity = s.clock.Now()
	hb := domain.Heartbeat{DocumentID: s.session.DocumentID, UserID: s.session.UserID, SessionID: s.session.SessionID}
	s.scheduleHeartbeatLocked(gen)
	s.mu.Unlock()

	if _, err := s.transport.Send(context.Background(), transportdomain.TypeCollabHeartbeat, hb); err != nil {
		s.logger.Debug("session heartbeat failed", "documentId", hb.DocumentID, "error", err)
	}
}

func (s *SessionManager) handleCollaboration(msg transportdomain.Message) {
	switch msg.Type {
	case transportdomain.TypeCollabJoined:
		var ack domain.JoinAck
		if err := msg.Decode(&ack); err != nil {
			s.logger.Warn("bad join ack", "error", err)
			return
		}
		if w := s.waiterFor(ack.DocumentID); w != nil {
			doc := ack.Document
			if doc.ID == "" {
				doc.ID = ack.DocumentID
			}
			s.resolveJoin(w, joinResult{doc: doc, sessionID: ack.SessionID})
		}
	case transportdomain.TypeCollabJoinError:
		var refusal domain.JoinError
		if err := msg.Decode(&refusal); err != nil {
			s.logger.Warn("bad join error", "error", err)
			return
		}
		if w := s.waiterFor(refusal.DocumentID); w != nil {
			s.resolveJoin(w, joinResult{err: &domain.JoinRejectedError{DocumentID: refusal.DocumentID, Reason: refusal.Error}})
		}
	case transportdomain.TypeCollabLeave:
		var leave domain.LeaveRequest
		if err := msg.Decode(&leave); err != nil {
			return
		}
		s.removeParticipant(leave.DocumentID, leave.UserID)
	}
}

func (s *SessionManager) waiterFor(documentID string) *joinWaiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil || s.pending.documentID != documentID {
		return nil
	}
	return s.pending
}

func (s *SessionManager) handleUserJoined(msg transportdomain.Message) {
	var member domain.MemberEvent
	if err := msg.Decode(&member); err != nil || member.UserID == "" {
		return
	}
	s.mu.Lock()
	if s.doc == nil || member.DocumentID != s.doc.ID {
		s.mu.Unlock()
		return
	}
	p, ok := s.doc.Participant(member.UserID)
	if !ok {
		p = domain.NewParticipant(member.UserID, member.Name)
	}
	if member.Name != "" {
		p.Name = member.Name
	}
	if member.Avatar != "" {
		p.Avatar = member.Avatar
	}
	s.doc.Upsert(p)
	documentID := s.doc.ID
	s.mu.Unlock()

	s.bus.Emit(domain.EventParticipantJoined, domain.PresenceUpdate{DocumentID: documentID, Participant: p.Clone()})
}

func (s *SessionManager) handleUserLeft(msg transportdomain.Message) {
	var member domain.MemberEvent
	if err := msg.Decode(&member); err != nil {
		return
	}
	s.removeParticipant(member.DocumentID, member.UserID)
}

func (s *SessionManager) removeParticipant(documentID, userID string) {
	s.mu.Lock()
	if s.doc == nil || documentID != s.doc.ID {
		s.mu.Unlock()
		return
	}
	p, ok := s.doc.Participant(userID)
	if ok {
		s.doc.Remove(userID)
	}
	s.mu.Unlock()
	if ok {
		s.bus.Emit(domain.EventParticipantLeft, domain.PresenceUpdate{DocumentID: documentID, Participant: p})
	}
}

// handleDisconnected drops the session; a fresh join is needed after reconnect.
func (s *SessionManager) handleDisconnected(d transportdomain.Disconnection) {
	s.mu.Lock()
	sess := s.endLocked()
	s.mu.Unlock()
	if sess == nil {
		return
	}
	s.logger.Warn("session lost with connection", "documentId", sess.DocumentID)
	s.bus.Emit(domain.EventSessionLost, domain.SessionEnded{Session: *sess, Err: d.Err})
}
