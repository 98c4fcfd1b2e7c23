package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"livedoc/internal/modules/collab/domain"
	"livedoc/internal/modules/collab/service"
	transportdomain "livedoc/internal/modules/transport/domain"
	"livedoc/internal/platform/clock"
	"livedoc/internal/platform/events"
	"livedoc/internal/platform/id"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []transportdomain.Message
	notify chan transportdomain.MessageType
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{notify: make(chan transportdomain.MessageType, 64)}
}

func (f *fakeTransport) Send(_ context.Context, t transportdomain.MessageType, data any) (transportdomain.Message, error) {
	msg, err := transportdomain.NewMessage(t, data)
	if err != nil {
		return transportdomain.Message{}, err
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	select {
	case f.notify <- t:
	default:
	}
	return msg, nil
}

func (f *fakeTransport) ofType(t transportdomain.MessageType) []transportdomain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []transportdomain.Message
	for _, msg := range f.sent {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

type harness struct {
	bus       *events.Bus
	clock     *clock.Manual
	transport *fakeTransport
	sessions  *service.SessionManager
	engine    *service.OperationEngine
	presence  *service.PresenceBroadcaster

	mu     sync.Mutex
	events []events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bus:       events.NewBus(),
		clock:     clock.NewManual(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)),
		transport: newFakeTransport(),
	}
	h.bus.OnAny(func(e events.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, e)
	})
	h.sessions = service.NewSessionManager(h.transport, h.bus, h.clock, service.Settings{
		HeartbeatInterval: 30 * time.Second,
		JoinTimeout:       10 * time.Second,
	})
	h.engine = service.NewOperationEngine(h.sessions, h.transport, h.bus, h.clock, &id.Sequence{Prefix: "op"})
	h.presence = service.NewPresenceBroadcaster(h.sessions, h.transport, h.bus, h.clock)
	t.Cleanup(func() {
		h.engine.Close()
		h.presence.Close()
		_ = h.sessions.Close(context.Background())
	})
	return h
}

func (h *harness) count(kind events.Kind) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (h *harness) payloads(kind events.Kind) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []any
	for _, e := range h.events {
		if e.Kind == kind {
			out = append(out, e.Payload)
		}
	}
	return out
}

func (h *harness) waitSent(t *testing.T, want transportdomain.MessageType) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-h.transport.notify:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("no %s message sent", want)
		}
	}
}

func (h *harness) inbound(t *testing.T, kind events.Kind, typ transportdomain.MessageType, data any) {
	t.Helper()
	msg, err := transportdomain.NewMessage(typ, data)
	require.NoError(t, err)
	h.bus.Emit(kind, msg)
}

func (h *harness) collab(t *testing.T, typ transportdomain.MessageType, data any) {
	t.Helper()
	h.inbound(t, transportdomain.EventCollaboration, typ, data)
}

type joinOutcome struct {
	doc domain.Document
	err error
}

func (h *harness) startJoin(documentID, userID string) <-chan joinOutcome {
	out := make(chan joinOutcome, 1)
	go func() {
		doc, err := h.sessions.JoinSession(context.Background(), documentID, userID)
		out <- joinOutcome{doc: doc, err: err}
	}()
	return out
}

func awaitJoin(t *testing.T, ch <-chan joinOutcome) joinOutcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("join did not settle")
		return joinOutcome{}
	}
}

// join completes a join of documentID as alice with the given snapshot.
func (h *harness) join(t *testing.T, documentID, content string) domain.Document {
	t.Helper()
	pending := h.startJoin(documentID, "alice")
	h.waitSent(t, transportdomain.TypeCollabJoin)
	h.collab(t, transportdomain.TypeCollabJoined, domain.JoinAck{
		DocumentID: documentID,
		SessionID:  "sess-1",
		Document:   domain.Document{ID: documentID, Content: content},
	})
	out := awaitJoin(t, pending)
	require.NoError(t, out.err)
	return out.doc
}
