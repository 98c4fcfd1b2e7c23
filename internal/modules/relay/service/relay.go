package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	collabdomain "livedoc/internal/modules/collab/domain"
	"livedoc/internal/modules/relay/domain"
	"livedoc/internal/modules/relay/dto"
	relayin "livedoc/internal/modules/relay/port/in"
	relayout "livedoc/internal/modules/relay/port/out"
	transportdomain "livedoc/internal/modules/transport/domain"
	"livedoc/internal/platform/clock"
	"livedoc/internal/platform/id"
)

type Settings struct {
	InstanceID      string
	MaxParticipants int
	MemberTimeout   time.Duration
}

// fanoutEnvelope wraps a room payload published to other relay instances.
type fanoutEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// Relay is the server half of the wire protocol. It keeps one authoritative
// working copy per open document and forwards traffic between its members.
type Relay struct {
	hub      *Hub
	store    relayout.SnapshotStore
	fanout   relayout.Fanout
	verifier relayout.TokenVerifier
	clk      clock.Clock
	ids      id.Generator
	settings Settings

	mu     sync.Mutex
	docs   map[string]*domain.DocumentState
	conns  map[string]relayin.Conn
	joined map[string]map[string]struct{}
	sweep  clock.Timer
	closed bool
}

// NewRelay builds a relay. fanout and verifier may be nil: without a fanout
// the relay is standalone, without a verifier any non-empty user id is let in.
func NewRelay(hub *Hub, store relayout.SnapshotStore, fanout relayout.Fanout, verifier relayout.TokenVerifier, clk clock.Clock, settings Settings) *Relay {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if settings.InstanceID == "" {
		settings.InstanceID = id.UUID{}.New()
	}
	return &Relay{
		hub:      hub,
		store:    store,
		fanout:   fanout,
		verifier: verifier,
		clk:      clk,
		ids:      id.UUID{},
		settings: settings,
		docs:     map[string]*domain.DocumentState{},
		conns:    map[string]relayin.Conn{},
		joined:   map[string]map[string]struct{}{},
	}
}

// Start subscribes to the fanout and begins sweeping stale members.
func (r *Relay) Start(ctx context.Context) error {
	if r.fanout != nil {
		if err := r.fanout.Subscribe(ctx, r.deliverRemote); err != nil {
			return fmt.Errorf("subscribe fanout: %w", err)
		}
	}
	r.mu.Lock()
	r.scheduleSweepLocked()
	r.mu.Unlock()
	return nil
}

func (r *Relay) Authenticate(userID, token string) error {
	if userID == "" {
		return fmt.Errorf("%w: missing userId", domain.ErrUnauthorized)
	}
	if r.verifier == nil {
		return nil
	}
	if err := r.verifier.Verify(userID, token); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return nil
}

func (r *Relay) Attach(conn relayin.Conn) {
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	r.mu.Unlock()
	r.hub.Attach(conn)
}

// Detach ends every document session held by conn.
func (r *Relay) Detach(ctx context.Context, conn relayin.Conn) {
	r.mu.Lock()
	docs := make([]string, 0, len(r.joined[conn.ID()]))
	for documentID := range r.joined[conn.ID()] {
		docs = append(docs, documentID)
	}
	r.mu.Unlock()

	for _, documentID := range docs {
		r.leave(ctx, conn.ID(), documentID)
	}
	for _, name := range r.hub.Detach(conn) {
		r.broadcast(ctx, name, conn, transportdomain.TypeUserLeft, collabdomain.MemberEvent{UserID: conn.UserID()})
	}

	r.mu.Lock()
	delete(r.conns, conn.ID())
	delete(r.joined, conn.ID())
	r.mu.Unlock()
}

func (r *Relay) Handle(ctx context.Context, conn relayin.Conn, data []byte) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("message handler panic", "clientId", conn.ID(), "panic", p)
		}
	}()
	msg, err := transportdomain.Decode(data)
	if err != nil {
		slog.Warn("invalid message", "clientId", conn.ID(), "error", err)
		return
	}

	switch msg.Type {
	case transportdomain.TypePing:
		pong := transportdomain.Message{Type: transportdomain.TypePong, Timestamp: msg.Timestamp}
		if raw, err := transportdomain.Encode(pong); err == nil {
			_ = conn.Send(raw)
		}
	case transportdomain.TypeCollabJoin:
		r.handleJoin(ctx, conn, msg)
	case transportdomain.TypeCollabLeave:
		var req collabdomain.LeaveRequest
		if err := msg.Decode(&req); err != nil {
			slog.Warn("invalid leave", "clientId", conn.ID(), "error", err)
			return
		}
		r.leave(ctx, conn.ID(), req.DocumentID)
	case transportdomain.TypeCollabOperation:
		r.handleOperation(ctx, conn, msg)
	case transportdomain.TypeCollabCursor:
		r.handleCursor(ctx, conn, msg)
	case transportdomain.TypeCollabSelection:
		r.handleSelection(ctx, conn, msg)
	case transportdomain.TypeCollabHeartbeat:
		var hb collabdomain.Heartbeat
		if err := msg.Decode(&hb); err != nil {
			slog.Warn("invalid heartbeat", "clientId", conn.ID(), "error", err)
			return
		}
		r.touch(conn.ID(), hb.DocumentID)
	case transportdomain.TypeJoinRoom, transportdomain.TypeLeaveRoom:
		r.handleRoom(ctx, conn, msg)
	case transportdomain.TypeChatMessage, transportdomain.TypeTyping:
		var room transportdomain.RoomPayload
		if err := msg.Decode(&room); err != nil || room.RoomID == "" {
			slog.Warn("message without room", "clientId", conn.ID(), "type", msg.Type)
			return
		}
		r.forward(ctx, domain.ChatRoom(room.RoomID), conn, msg)
	case transportdomain.TypeMarkAsRead:
		var receipt transportdomain.ReadReceiptPayload
		if err := msg.Decode(&receipt); err != nil || receipt.RoomID == "" {
			slog.Warn("invalid read receipt", "clientId", conn.ID(), "error", err)
			return
		}
		r.broadcast(ctx, domain.ChatRoom(receipt.RoomID), conn, transportdomain.TypeMessageStatus, map[string]string{
			"roomId":    receipt.RoomID,
			"messageId": receipt.MessageID,
			"userId":    conn.UserID(),
			"status":    "read",
		})
	case transportdomain.TypeUserStatus:
		stamped, err := stampUser(msg, conn.UserID())
		if err != nil {
			slog.Warn("invalid status", "clientId", conn.ID(), "error", err)
			return
		}
		if raw, err := r.encode(stamped); err == nil {
			r.hub.BroadcastAll(conn, raw)
		}
	default:
		slog.Warn("unhandled message type", "clientId", conn.ID(), "type", msg.Type)
	}
}

func (r *Relay) handleJoin(ctx context.Context, conn relayin.Conn, msg transportdomain.Message) {
	var req collabdomain.JoinRequest
	if err := msg.Decode(&req); err != nil || req.DocumentID == "" {
		r.reply(conn, transportdomain.TypeCollabJoinError, collabdomain.JoinError{DocumentID: req.DocumentID, Error: "invalid join request"})
		return
	}
	state, err := r.open(ctx, req.DocumentID)
	if err != nil {
		slog.Error("load snapshot failed", "documentId", req.DocumentID, "error", err)
		r.reply(conn, transportdomain.TypeCollabJoinError, collabdomain.JoinError{DocumentID: req.DocumentID, Error: "document unavailable"})
		return
	}

	now := r.clk.Now()
	r.mu.Lock()
	// The last member may have left between open and here.
	if current, ok := r.docs[req.DocumentID]; ok {
		state = current
	} else {
		r.docs[req.DocumentID] = state
	}
	if _, rejoin := state.Members[conn.ID()]; !rejoin && len(state.Members) >= r.settings.MaxParticipants {
		r.mu.Unlock()
		r.reply(conn, transportdomain.TypeCollabJoinError, collabdomain.JoinError{DocumentID: req.DocumentID, Error: domain.ErrSessionFull.Error()})
		return
	}
	member := &domain.Member{
		ConnID:    conn.ID(),
		UserID:    conn.UserID(),
		SessionID: r.ids.New(),
		JoinedAt:  now,
		LastSeen:  now,
	}
	state.Members[conn.ID()] = member
	state.Document.Upsert(collabdomain.NewParticipant(conn.UserID(), req.Name))
	if r.joined[conn.ID()] == nil {
		r.joined[conn.ID()] = map[string]struct{}{}
	}
	r.joined[conn.ID()][req.DocumentID] = struct{}{}
	snapshot := state.Snapshot()
	r.mu.Unlock()

	room := domain.DocumentRoom(req.DocumentID)
	r.hub.Join(room, conn)
	r.reply(conn, transportdomain.TypeCollabJoined, collabdomain.JoinAck{
		DocumentID: req.DocumentID,
		SessionID:  member.SessionID,
		Document:   snapshot,
	})
	r.broadcast(ctx, room, conn, transportdomain.TypeUserJoined, collabdomain.MemberEvent{
		UserID:     conn.UserID(),
		DocumentID: req.DocumentID,
		Name:       req.Name,
	})
	slog.Info("session joined", "documentId", req.DocumentID, "userId", conn.UserID(), "sessionId", member.SessionID)
}

// open returns the working copy of documentID, loading it from the snapshot
// store or starting an empty one.
func (r *Relay) open(ctx context.Context, documentID string) (*domain.DocumentState, error) {
	r.mu.Lock()
	state, ok := r.docs[documentID]
	r.mu.Unlock()
	if ok {
		return state, nil
	}

	doc, found, err := r.store.Load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !found {
		doc = collabdomain.Document{ID: documentID, LastModified: r.clk.Now()}
	}
	doc.ActiveUsers = nil
	doc.Operations = nil

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.docs[documentID]; ok {
		return existing, nil
	}
	state = domain.NewDocumentState(doc)
	r.docs[documentID] = state
	return state, nil
}

// leave ends the session of connID on documentID. The last member out saves
// the document and drops it from memory.
func (r *Relay) leave(ctx context.Context, connID, documentID string) {
	r.mu.Lock()
	state, ok := r.docs[documentID]
	if !ok {
		r.mu.Unlock()
		return
	}
	member, ok := state.Members[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(state.Members, connID)
	if !state.HasUser(member.UserID) {
		state.Document.Remove(member.UserID)
	}
	delete(r.joined[connID], documentID)
	empty := len(state.Members) == 0
	var final collabdomain.Document
	if empty {
		delete(r.docs, documentID)
		final = state.Snapshot()
		final.ActiveUsers = nil
	}
	conn := r.conns[connID]
	r.mu.Unlock()

	room := domain.DocumentRoom(documentID)
	r.hub.Leave(room, connID)
	r.broadcast(ctx, room, conn, transportdomain.TypeUserLeft, collabdomain.MemberEvent{
		UserID:     member.UserID,
		DocumentID: documentID,
	})
	slog.Info("session left", "documentId", documentID, "userId", member.UserID, "sessionId", member.SessionID)

	if empty {
		if err := r.store.Save(ctx, final); err != nil {
			slog.Error("save snapshot failed", "documentId", documentID, "error", err)
		}
	}
}

func (r *Relay) handleOperation(ctx context.Context, conn relayin.Conn, msg transportdomain.Message) {
	var in collabdomain.OperationMessage
	if err := msg.Decode(&in); err != nil {
		slog.Warn("invalid operation", "clientId", conn.ID(), "error", err)
		return
	}
	documentID := in.DocumentID
	if documentID == "" {
		documentID = in.Operation.DocumentID
	}
	op := in.Operation
	op.DocumentID = documentID
	op.UserID = conn.UserID()

	op, err := r.applyLocal(conn.ID(), op)
	if err != nil {
		slog.Warn("operation skipped", "clientId", conn.ID(), "documentId", documentID, "operationId", op.ID, "error", err)
		return
	}

	r.broadcast(ctx, domain.DocumentRoom(documentID), conn, transportdomain.TypeCollabOperation, collabdomain.OperationMessage{
		DocumentID: documentID,
		Operation:  op,
	})
}

// applyLocal folds op from member connID into the working copy and returns it
// stamped with the new version.
func (r *Relay) applyLocal(connID string, op collabdomain.Operation) (collabdomain.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.docs[op.DocumentID]
	if !ok || state.Members[connID] == nil {
		return op, domain.ErrNotMember
	}
	state.Members[connID].LastSeen = r.clk.Now()
	if err := state.Document.Apply(op, r.clk.Now()); err != nil {
		return op, err
	}
	op.Version = state.Document.Version
	state.Document.Operations = nil
	return op, nil
}

func (r *Relay) handleCursor(ctx context.Context, conn relayin.Conn, msg transportdomain.Message) {
	var in collabdomain.CursorMessage
	if err := msg.Decode(&in); err != nil {
		slog.Warn("invalid cursor", "clientId", conn.ID(), "error", err)
		return
	}
	in.UserID = conn.UserID()
	cursor := in.Cursor
	if !r.updatePresence(conn, in.DocumentID, in.Name, func(p *collabdomain.Participant) { p.Cursor = &cursor }) {
		return
	}
	r.broadcast(ctx, domain.DocumentRoom(in.DocumentID), conn, transportdomain.TypeCollabCursor, in)
}

func (r *Relay) handleSelection(ctx context.Context, conn relayin.Conn, msg transportdomain.Message) {
	var in collabdomain.SelectionMessage
	if err := msg.Decode(&in); err != nil {
		slog.Warn("invalid selection", "clientId", conn.ID(), "error", err)
		return
	}
	in.UserID = conn.UserID()
	selection := in.Selection
	if !r.updatePresence(conn, in.DocumentID, in.Name, func(p *collabdomain.Participant) { p.Selection = &selection }) {
		return
	}
	r.broadcast(ctx, domain.DocumentRoom(in.DocumentID), conn, transportdomain.TypeCollabSelection, in)
}

func (r *Relay) updatePresence(conn relayin.Conn, documentID, name string, update func(*collabdomain.Participant)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.docs[documentID]
	if !ok || state.Members[conn.ID()] == nil {
		slog.Warn("presence rejected", "clientId", conn.ID(), "documentId", documentID, "error", domain.ErrNotMember)
		return false
	}
	state.Members[conn.ID()].LastSeen = r.clk.Now()
	p, ok := state.Document.Participant(conn.UserID())
	if !ok {
		p = collabdomain.NewParticipant(conn.UserID(), name)
	}
	update(&p)
	state.Document.Upsert(p)
	return true
}

func (r *Relay) touch(connID, documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.docs[documentID]; ok {
		if member := state.Members[connID]; member != nil {
			member.LastSeen = r.clk.Now()
		}
	}
}

func (r *Relay) handleRoom(ctx context.Context, conn relayin.Conn, msg transportdomain.Message) {
	var room transportdomain.RoomPayload
	if err := msg.Decode(&room); err != nil || room.RoomID == "" {
		slog.Warn("invalid room request", "clientId", conn.ID(), "type", msg.Type)
		return
	}
	name := domain.ChatRoom(room.RoomID)
	if msg.Type == transportdomain.TypeJoinRoom {
		r.hub.Join(name, conn)
		r.broadcast(ctx, name, conn, transportdomain.TypeUserJoined, collabdomain.MemberEvent{UserID: conn.UserID()})
		return
	}
	r.hub.Leave(name, conn.ID())
	r.broadcast(ctx, name, conn, transportdomain.TypeUserLeft, collabdomain.MemberEvent{UserID: conn.UserID()})
}

// forward relays msg to the room with the sender's user id stamped in.
func (r *Relay) forward(ctx context.Context, room string, conn relayin.Conn, msg transportdomain.Message) {
	stamped, err := stampUser(msg, conn.UserID())
	if err != nil {
		slog.Warn("forward failed", "clientId", conn.ID(), "type", msg.Type, "error", err)
		return
	}
	raw, err := r.encode(stamped)
	if err != nil {
		return
	}
	r.hub.Broadcast(room, conn, raw)
	r.publish(ctx, room, raw)
}

func (r *Relay) broadcast(ctx context.Context, room string, sender relayin.Conn, t transportdomain.MessageType, data any) {
	msg, err := transportdomain.NewMessage(t, data)
	if err != nil {
		slog.Warn("encode broadcast failed", "type", t, "error", err)
		return
	}
	raw, err := r.encode(msg)
	if err != nil {
		return
	}
	r.hub.Broadcast(room, sender, raw)
	r.publish(ctx, room, raw)
}

func (r *Relay) reply(conn relayin.Conn, t transportdomain.MessageType, data any) {
	msg, err := transportdomain.NewMessage(t, data)
	if err != nil {
		slog.Warn("encode reply failed", "type", t, "error", err)
		return
	}
	raw, err := r.encode(msg)
	if err != nil {
		return
	}
	if err := conn.Send(raw); err != nil {
		slog.Warn("reply dropped", "clientId", conn.ID(), "type", t, "error", err)
	}
}

func (r *Relay) encode(msg transportdomain.Message) ([]byte, error) {
	if msg.Timestamp == 0 {
		msg.Timestamp = r.clk.Now().UnixMilli()
	}
	raw, err := transportdomain.Encode(msg)
	if err != nil {
		slog.Warn("encode failed", "type", msg.Type, "error", err)
	}
	return raw, err
}

func (r *Relay) publish(ctx context.Context, room string, raw []byte) {
	if r.fanout == nil {
		return
	}
	env, err := json.Marshal(fanoutEnvelope{Origin: r.settings.InstanceID, Payload: raw})
	if err != nil {
		return
	}
	if err := r.fanout.Publish(ctx, room, env); err != nil {
		slog.Warn("fanout publish failed", "room", room, "error", err)
	}
}

// deliverRemote hands traffic from another instance to local room members.
// Operations are folded into the local working copy first.
func (r *Relay) deliverRemote(room string, payload []byte) {
	var env fanoutEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Warn("invalid fanout payload", "room", room, "error", err)
		return
	}
	if env.Origin == r.settings.InstanceID {
		return
	}
	msg, err := transportdomain.Decode(env.Payload)
	if err != nil {
		slog.Warn("invalid fanout message", "room", room, "error", err)
		return
	}
	if msg.Type == transportdomain.TypeCollabOperation {
		var in collabdomain.OperationMessage
		if err := msg.Decode(&in); err == nil {
			if err := r.applyRemote(in); err != nil {
				slog.Warn("remote operation skipped", "documentId", in.DocumentID, "operationId", in.Operation.ID, "error", err)
			}
		}
	}
	r.hub.Broadcast(room, nil, env.Payload)
}

func (r *Relay) applyRemote(in collabdomain.OperationMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.docs[in.DocumentID]
	if !ok {
		return nil
	}
	defer func() { state.Document.Operations = nil }()
	return state.Document.Apply(in.Operation, r.clk.Now())
}

// Sweep ends sessions whose members have not been heard from within the
// member timeout. It returns how many were ended.
func (r *Relay) Sweep(ctx context.Context) int {
	cutoff := r.clk.Now().Add(-r.settings.MemberTimeout)
	type stale struct{ connID, documentID string }
	var ended []stale
	r.mu.Lock()
	for documentID, state := range r.docs {
		for _, m := range state.Stale(cutoff) {
			ended = append(ended, stale{m.ConnID, documentID})
		}
	}
	r.mu.Unlock()

	for _, s := range ended {
		slog.Info("ending stale session", "documentId", s.documentID, "clientId", s.connID)
		r.leave(ctx, s.connID, s.documentID)
	}
	return len(ended)
}

func (r *Relay) scheduleSweepLocked() {
	if r.closed || r.settings.MemberTimeout <= 0 {
		return
	}
	r.sweep = r.clk.AfterFunc(r.settings.MemberTimeout/2, func() {
		r.Sweep(context.Background())
		r.mu.Lock()
		r.scheduleSweepLocked()
		r.mu.Unlock()
	})
}

func (r *Relay) Stats() dto.StatsOutput {
	rooms, clients := r.hub.Stats()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := dto.StatsOutput{
		Rooms:       rooms,
		Clients:     clients,
		Documents:   len(r.docs),
		Connections: len(r.conns),
	}
	for _, state := range r.docs {
		out.Sessions += len(state.Members)
	}
	return out
}

// Document returns a copy of the working copy of documentID, if open.
func (r *Relay) Document(documentID string) (collabdomain.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.docs[documentID]
	if !ok {
		return collabdomain.Document{}, false
	}
	return state.Document.Clone(), true
}

// Close stops sweeping and saves every open document.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.sweep != nil {
		r.sweep.Stop()
	}
	docs := make([]collabdomain.Document, 0, len(r.docs))
	for _, state := range r.docs {
		doc := state.Snapshot()
		doc.ActiveUsers = nil
		docs = append(docs, doc)
	}
	r.mu.Unlock()

	var errs []error
	for _, doc := range docs {
		if err := r.store.Save(ctx, doc); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", doc.ID, err))
		}
	}
	return errors.Join(errs...)
}

// stampUser sets data.userId to the authenticated sender.
func stampUser(msg transportdomain.Message, userID string) (transportdomain.Message, error) {
	fields := map[string]any{}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &fields); err != nil {
			return msg, fmt.Errorf("decode %s data: %w", msg.Type, err)
		}
	}
	fields["userId"] = userID
	raw, err := json.Marshal(fields)
	if err != nil {
		return msg, err
	}
	msg.Data = raw
	return msg, nil
}

var _ relayin.Gateway = (*Relay)(nil)
