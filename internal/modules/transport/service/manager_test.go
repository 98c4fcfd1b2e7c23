package service_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livedoc/internal/modules/transport/domain"
	transportout "livedoc/internal/modules/transport/port/out"
	"livedoc/internal/modules/transport/service"
	"livedoc/internal/platform/clock"
	"livedoc/internal/platform/events"
	"livedoc/internal/platform/id"
)

type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case raw := <-c.inbound:
		return raw, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(payload []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) messages(t *testing.T) []domain.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, 0, len(c.written))
	for _, raw := range c.written {
		msg, err := domain.Decode(raw)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func (c *fakeConn) push(t *testing.T, msg domain.Message) {
	t.Helper()
	raw, err := domain.Encode(msg)
	require.NoError(t, err)
	c.inbound <- raw
}

type fakeDialer struct {
	// gate, when set, holds every dial until it is closed.
	gate chan struct{}

	mu    sync.Mutex
	fail  bool
	dials int
	creds []domain.Credential
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, cred domain.Credential) (transportout.Conn, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.creds = append(d.creds, cred)
	if d.fail {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) record(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) count(kind events.Kind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

const base = 100 * time.Millisecond

func newManager(dialer *fakeDialer) (*service.Manager, *clock.Manual, *recorder) {
	bus := events.NewBus()
	rec := &recorder{}
	bus.OnAny(rec.record)
	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	m := service.NewManager(dialer, bus, clk, &id.Sequence{Prefix: "msg"}, service.Settings{
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   base,
		MaxReconnectAttempts: 5,
	})
	return m, clk, rec
}

func TestManagerReconnectBackoffSequence(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{fail: true}
	m, clk, rec := newManager(dialer)

	err := m.Connect(context.Background(), "alice", "token")
	require.Error(t, err)
	assert.True(t, service.IsConnectionError(err))
	assert.Equal(t, domain.StateReconnecting, m.State())

	delay := base
	for i := 0; i < 5; i++ {
		clk.Advance(delay)
		delay *= 2
	}

	assert.Equal(t, []time.Duration{base, 2 * base, 4 * base, 8 * base, 16 * base}, clk.Delays())
	assert.Equal(t, 6, dialer.dialCount())
	assert.Equal(t, 0, clk.Pending(), "no sixth attempt may be scheduled")
	assert.Equal(t, domain.StateDisconnected, m.State())
	assert.Equal(t, 5, rec.count(domain.EventReconnectScheduled))
	assert.Equal(t, 6, rec.count(domain.EventError))

	clk.Advance(time.Hour)
	assert.Equal(t, 6, dialer.dialCount())
}

func TestManagerQueuesWhileDisconnectedAndFlushesInOrder(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{fail: true}
	m, clk, _ := newManager(dialer)
	ctx := context.Background()

	require.Error(t, m.Connect(ctx, "alice", "token"))

	var sent []domain.Message
	for _, room := range []string{"r1", "r2", "r3"} {
		msg, err := m.SendChat(ctx, room, "hello "+room)
		require.NoError(t, err)
		sent = append(sent, msg)
	}
	assert.Equal(t, 3, m.QueueLen())

	dialer.setFail(false)
	clk.Advance(base)

	require.Equal(t, domain.StateConnected, m.State())
	assert.Equal(t, 0, m.QueueLen())
	written := dialer.last().messages(t)
	require.Len(t, written, 3)
	for i := range sent {
		assert.Equal(t, sent[i].ID, written[i].ID)
		var payload domain.ChatPayload
		require.NoError(t, written[i].Decode(&payload))
		assert.Equal(t, "hello "+payload.RoomID, payload.Content)
	}
	assert.Equal(t, []string{"r1", "r2", "r3"}, roomsOf(t, written))
}

func roomsOf(t *testing.T, msgs []domain.Message) []string {
	t.Helper()
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		var payload domain.ChatPayload
		require.NoError(t, msg.Decode(&payload))
		out = append(out, payload.RoomID)
	}
	return out
}

func TestManagerSendStampsIDAndTimestamp(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	m, clk, _ := newManager(dialer)
	require.NoError(t, m.Connect(context.Background(), "alice", "secret"))

	msg, err := m.Send(context.Background(), domain.TypeUserStatus, domain.StatusPayload{Status: "away"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, clk.Now().UnixMilli(), msg.Timestamp)

	written := dialer.last().messages(t)
	require.Len(t, written, 1)
	assert.Equal(t, msg.ID, written[0].ID)
	assert.Equal(t, domain.TypeUserStatus, written[0].Type)
	assert.Equal(t, []domain.Credential{{UserID: "alice", Token: "secret"}}, dialer.creds)
}

func TestManagerHeartbeatPingAndSilentPong(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	m, clk, rec := newManager(dialer)
	require.NoError(t, m.Connect(context.Background(), "alice", "token"))
	conn := dialer.last()

	clk.Advance(30 * time.Second)
	clk.Advance(30 * time.Second)
	pings := 0
	for _, msg := range conn.messages(t) {
		if msg.Type == domain.TypePing {
			pings++
		}
	}
	assert.Equal(t, 2, pings)

	conn.push(t, domain.Message{Type: domain.TypePong})
	conn.push(t, domain.Message{Type: domain.TypeNotification, Data: []byte(`{"title":"hi"}`)})
	require.Eventually(t, func() bool { return rec.count(domain.EventNotification) == 1 }, time.Second, 5*time.Millisecond)
	for _, kind := range rec.kinds() {
		assert.NotEqual(t, domain.EventUnknown, kind)
	}
}

func TestManagerDispatchesByRoute(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	m, _, rec := newManager(dialer)
	require.NoError(t, m.Connect(context.Background(), "alice", "token"))
	conn := dialer.last()

	conn.push(t, domain.Message{Type: domain.TypeChatMessage, Data: []byte(`{"roomId":"r","content":"x"}`)})
	conn.push(t, domain.Message{Type: domain.TypeUserJoined, Data: []byte(`{"userId":"bob"}`)})
	conn.push(t, domain.Message{Type: domain.TypeCollabOperation, Data: []byte(`{}`)})
	conn.push(t, domain.Message{Type: "shiny_new_feature", Data: []byte(`{}`)})

	require.Eventually(t, func() bool { return rec.count(domain.EventUnknown) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.count(domain.EventChatMessage))
	assert.Equal(t, 1, rec.count(domain.EventUserJoined))
	assert.Equal(t, 1, rec.count(domain.EventCollaboration))
}

func TestManagerUnexpectedCloseReconnects(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	m, clk, rec := newManager(dialer)
	require.NoError(t, m.Connect(context.Background(), "alice", "token"))

	_ = dialer.last().Close()
	require.Eventually(t, func() bool { return m.State() == domain.StateReconnecting }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.count(domain.EventDisconnected))

	clk.Advance(base)
	assert.Equal(t, domain.StateConnected, m.State())
	assert.Equal(t, 2, dialer.dialCount())
	assert.Equal(t, 0, m.Attempts())
}

func TestManagerDisconnectCancelsPendingTimers(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{fail: true}
	m, clk, rec := newManager(dialer)
	require.Error(t, m.Connect(context.Background(), "alice", "token"))
	require.Equal(t, 1, clk.Pending())

	require.NoError(t, m.Disconnect())
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, domain.StateDisconnected, m.State())
	assert.Equal(t, 5, m.Attempts())

	clk.Advance(time.Hour)
	assert.Equal(t, 1, dialer.dialCount())

	_, err := m.Send(context.Background(), domain.TypeTyping, domain.TypingPayload{RoomID: "r"})
	require.NoError(t, err)
	assert.Equal(t, 1, dialer.dialCount(), "send after disconnect must not redial")

	last := rec.kinds()[len(rec.kinds())-1]
	assert.Equal(t, domain.EventDisconnected, last)
}

func TestManagerSendRedialsAfterExhaustion(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{fail: true}
	m, clk, _ := newManager(dialer)
	require.Error(t, m.Connect(context.Background(), "alice", "token"))
	for delay := base; delay <= 16*base; delay *= 2 {
		clk.Advance(delay)
	}
	require.Equal(t, domain.StateDisconnected, m.State())

	dialer.setFail(false)
	_, err := m.Send(context.Background(), domain.TypeUserStatus, domain.StatusPayload{Status: "online"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.State() == domain.StateConnected }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return m.QueueLen() == 0 }, time.Second, 5*time.Millisecond)
	assert.Len(t, dialer.last().messages(t), 1)
}

func TestManagerOverlappingConnectWaitsForDial(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{gate: make(chan struct{})}
	m, _, _ := newManager(dialer)

	first := make(chan error, 1)
	go func() { first <- m.Connect(context.Background(), "alice", "token") }()
	require.Eventually(t, func() bool { return m.State() == domain.StateConnecting }, time.Second, 5*time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- m.Connect(context.Background(), "alice", "token") }()
	select {
	case err := <-second:
		t.Fatalf("second Connect returned %v while the dial was still pending", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(dialer.gate)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, domain.StateConnected, m.State())
	assert.Equal(t, 1, dialer.dialCount())
}

func TestManagerCloseIsTerminal(t *testing.T) {
	t.Parallel()
	dialer := &fakeDialer{}
	m, _, _ := newManager(dialer)
	require.NoError(t, m.Connect(context.Background(), "alice", "token"))
	require.NoError(t, m.Close())

	assert.Error(t, m.Connect(context.Background(), "alice", "token"))
	_, err := m.Send(context.Background(), domain.TypePing, nil)
	assert.Error(t, err)
}
