package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"livedoc/internal/modules/transport/domain"
	transportout "livedoc/internal/modules/transport/port/out"
	"livedoc/internal/platform/clock"
	apperrors "livedoc/internal/platform/errors"
	"livedoc/internal/platform/events"
	"livedoc/internal/platform/id"
)

type Settings struct {
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
}

func DefaultSettings() Settings {
	return Settings{
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   time.Second,
		MaxReconnectAttempts: 5,
	}
}

// Manager owns one logical connection over a sequence of physical ones.
// Messages sent while not connected are queued and flushed in FIFO order on
// the next successful connect.
type Manager struct {
	dialer   transportout.Dialer
	bus      *events.Bus
	clock    clock.Clock
	ids      id.Generator
	settings Settings
	logger   *slog.Logger

	// sendMu orders direct writes behind queue flushes.
	sendMu sync.Mutex

	mu             sync.Mutex
	state          domain.ConnectionState
	cred           domain.Credential
	hasCred        bool
	conn           transportout.Conn
	connCancel     context.CancelFunc
	gen            uint64
	inflight       *dialAttempt
	attempts       int
	backoff        backoff.BackOff
	reconnectTimer clock.Timer
	heartbeatTimer clock.Timer
	queue          []domain.Message
	closed         bool
	terminated     bool
}

// dialAttempt is one dial in progress. err is set before done is closed.
type dialAttempt struct {
	done chan struct{}
	err  error
}

func NewManager(dialer transportout.Dialer, bus *events.Bus, clk clock.Clock, ids id.Generator, settings Settings) *Manager {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if ids == nil {
		ids = id.UUID{}
	}
	if settings.HeartbeatInterval <= 0 {
		settings.HeartbeatInterval = DefaultSettings().HeartbeatInterval
	}
	if settings.ReconnectBaseDelay <= 0 {
		settings.ReconnectBaseDelay = DefaultSettings().ReconnectBaseDelay
	}
	m := &Manager{
		dialer:   dialer,
		bus:      bus,
		clock:    clk,
		ids:      ids,
		settings: settings,
		logger:   slog.Default().With("component", "transport"),
	}
	m.backoff = newBackoff(settings)
	return m
}

// newBackoff yields base, 2*base, 4*base ... and stops after MaxReconnectAttempts.
func newBackoff(settings Settings) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = settings.ReconnectBaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = time.Duration(math.MaxInt64)
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(max(settings.MaxReconnectAttempts, 0)))
}

func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.UserID
}

// Connect dials with the given credential and returns once the connection is
// Connected. A failed dial is reported and treated like an unexpected close,
// so automatic reconnection still applies.
func (m *Manager) Connect(ctx context.Context, userID, token string) error {
	cred := domain.Credential{UserID: userID, Token: token}
	if err := cred.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return apperrors.ErrClosed
	}
	if m.state == domain.StateConnected && m.cred == cred {
		m.mu.Unlock()
		return nil
	}
	previous := m.detachLocked()
	m.closed = false
	m.cred = cred
	m.hasCred = true
	m.attempts = 0
	m.backoff.Reset()
	m.stopReconnectLocked()
	m.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}
	return m.dial(ctx, domain.StateConnecting)
}

// Disconnect closes the connection on purpose. Pending reconnect and heartbeat
// timers are cancelled and queued messages are dropped.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.closed = true
	m.attempts = m.settings.MaxReconnectAttempts
	m.stopReconnectLocked()
	conn := m.detachLocked()
	m.queue = nil
	change, changed := m.transitionLocked(domain.StateDisconnected)
	m.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if changed {
		m.emitState(change)
		m.bus.Emit(domain.EventDisconnected, domain.Disconnection{Intentional: true})
	}
	return err
}

// Close disconnects and makes the manager unusable.
func (m *Manager) Close() error {
	err := m.Disconnect()
	m.mu.Lock()
	m.terminated = true
	m.mu.Unlock()
	return err
}

// Send stamps the message with an id and timestamp and writes it, or queues it
// when no connection is up. Queuing triggers a reconnect with the last known
// credential unless Disconnect was called.
func (m *Manager) Send(ctx context.Context, t domain.MessageType, data any) (domain.Message, error) {
	msg, err := domain.NewMessage(t, data)
	if err != nil {
		return domain.Message{}, err
	}
	msg.ID = m.ids.New()
	msg.Timestamp = m.clock.Now().UnixMilli()

	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return domain.Message{}, apperrors.ErrClosed
	}
	if m.state != domain.StateConnected || m.conn == nil {
		m.queue = append(m.queue, msg)
		redial := m.state == domain.StateDisconnected && m.hasCred && !m.closed && m.inflight == nil
		m.mu.Unlock()
		m.logger.Debug("message queued", "type", string(t), "id", msg.ID)
		if redial {
			go func() {
				_ = m.dial(context.WithoutCancel(ctx), domain.StateConnecting)
			}()
		}
		return msg, nil
	}
	conn, gen := m.conn, m.gen
	m.mu.Unlock()

	if err := m.write(conn, msg); err != nil {
		m.mu.Lock()
		m.queue = append(m.queue, msg)
		m.mu.Unlock()
		go m.connectionLost(gen, err)
	}
	return msg, nil
}

func (m *Manager) write(conn transportout.Conn, msg domain.Message) error {
	raw, err := domain.Encode(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(raw)
}

// dial connects with the current credential. A caller arriving while another
// dial is in flight waits for that dial's outcome instead of starting its own.
func (m *Manager) dial(ctx context.Context, via domain.ConnectionState) error {
	m.mu.Lock()
	if m.closed || m.terminated {
		m.mu.Unlock()
		return apperrors.ErrClosed
	}
	if a := m.inflight; a != nil {
		m.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a := &dialAttempt{done: make(chan struct{})}
	m.inflight = a
	cred := m.cred
	change, changed := m.transitionLocked(via)
	m.mu.Unlock()
	if changed {
		m.emitState(change)
	}

	conn, err := m.dialer.Dial(ctx, cred)
	a.err = m.establish(cred, conn, err)
	close(a.done)
	return a.err
}

// establish finishes a dial: it installs conn, or reports err and schedules a
// reconnect.
func (m *Manager) establish(cred domain.Credential, conn transportout.Conn, err error) error {
	m.mu.Lock()
	m.inflight = nil
	if err != nil {
		attempt := m.attempts
		m.mu.Unlock()
		m.logger.Warn("dial failed", "userId", cred.UserID, "attempt", attempt, "error", err)
		m.bus.Emit(domain.EventError, domain.ConnectionFailure{Err: err, Attempt: attempt})
		m.scheduleReconnect(err)
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	if m.closed || m.terminated {
		m.mu.Unlock()
		_ = conn.Close()
		return apperrors.ErrClosed
	}
	m.gen++
	gen := m.gen
	connCtx, cancel := context.WithCancel(context.Background())
	m.conn = conn
	m.connCancel = cancel
	m.attempts = 0
	m.backoff.Reset()
	change, changed := m.transitionLocked(domain.StateConnected)
	m.scheduleHeartbeatLocked(connCtx, gen)
	m.mu.Unlock()

	m.logger.Info("connected", "userId", cred.UserID)
	if changed {
		m.emitState(change)
	}
	m.bus.Emit(domain.EventConnected, change)
	go m.readLoop(connCtx, gen, conn)
	m.flush(gen)
	return nil
}

// connectionLost handles an unexpected close of generation gen.
func (m *Manager) connectionLost(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.detachLocked()
	m.mu.Unlock()

	_ = conn.Close()
	m.logger.Warn("connection lost", "error", cause)
	m.bus.Emit(domain.EventDisconnected, domain.Disconnection{Err: cause})
	m.scheduleReconnect(cause)
}

func (m *Manager) scheduleReconnect(cause error) {
	m.mu.Lock()
	if m.closed || m.terminated {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.settings.MaxReconnectAttempts {
		change, changed := m.transitionLocked(domain.StateDisconnected)
		attempts := m.attempts
		m.mu.Unlock()
		if changed {
			m.emitState(change)
			m.logger.Error("reconnect attempts exhausted", "attempts", attempts)
			m.bus.Emit(domain.EventDisconnected, domain.Disconnection{Err: cause, Final: true})
		}
		return
	}
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		m.attempts = m.settings.MaxReconnectAttempts
		m.mu.Unlock()
		m.scheduleReconnect(cause)
		return
	}
	m.attempts++
	attempt := m.attempts
	m.stopReconnectLocked()
	m.reconnectTimer = m.clock.AfterFunc(delay, m.reconnect)
	change, changed := m.transitionLocked(domain.StateReconnecting)
	m.mu.Unlock()

	if changed {
		m.emitState(change)
	}
	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	m.bus.Emit(domain.EventReconnectScheduled, domain.ReconnectScheduled{Attempt: attempt, Delay: delay})
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	m.reconnectTimer = nil
	stop := m.closed || m.terminated || m.inflight != nil
	m.mu.Unlock()
	if stop {
		return
	}
	_ = m.dial(context.Background(), domain.StateReconnecting)
}

func (m *Manager) flush(gen uint64) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	for {
		m.mu.Lock()
		if gen != m.gen || m.conn == nil || len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		msg, conn := m.queue[0], m.conn
		m.mu.Unlock()

		if err := m.write(conn, msg); err != nil {
			go m.connectionLost(gen, err)
			return
		}
		m.mu.Lock()
		if len(m.queue) > 0 && m.queue[0].ID == msg.ID {
			m.queue = m.queue[1:]
		}
		m.mu.Unlock()
	}
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn transportout.Conn) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.connectionLost(gen, err)
			return
		}
		msg, err := domain.Decode(raw)
		if err != nil {
			m.logger.Warn("dropping inbound message", "error", err)
			continue
		}
		m.dispatch(msg)
	}
}

func (m *Manager) dispatch(msg domain.Message) {
	route := msg.Type.Route()
	kind, ok := domain.EventFor(route)
	if !ok {
		m.logger.Debug("heartbeat ack", "id", msg.ID)
		return
	}
	if route == domain.RouteUnknown || route == domain.RouteOutbound {
		m.logger.Debug("unrecognized message type", "type", string(msg.Type))
	}
	m.bus.Emit(kind, msg)
}

func (m *Manager) scheduleHeartbeatLocked(ctx context.Context, gen uint64) {
	m.heartbeatTimer = m.clock.AfterFunc(m.settings.HeartbeatInterval, func() {
		if ctx.Err() != nil {
			return
		}
		m.ping(gen)
		m.mu.Lock()
		defer m.mu.Unlock()
		if ctx.Err() == nil && gen == m.gen {
			m.scheduleHeartbeatLocked(ctx, gen)
		}
	})
}

// ping is fire-and-forget; it is never queued.
func (m *Manager) ping(gen uint64) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	m.mu.Lock()
	if gen != m.gen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.mu.Unlock()

	msg := domain.Message{Type: domain.TypePing, ID: m.ids.New(), Timestamp: m.clock.Now().UnixMilli()}
	if err := m.write(conn, msg); err != nil {
		m.logger.Debug("heartbeat write failed", "error", err)
	}
}

func (m *Manager) detachLocked() transportout.Conn {
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
	conn := m.conn
	m.conn = nil
	return conn
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) transitionLocked(to domain.ConnectionState) (domain.StateChange, bool) {
	from := m.state
	m.state = to
	change := domain.StateChange{From: from, To: to, Attempt: m.attempts, At: m.clock.Now()}
	return change, from != to
}

func (m *Manager) emitState(change domain.StateChange) {
	m.bus.Emit(domain.EventStateChanged, change)
}

// IsConnectionError reports whether err came from establishing the transport.
func IsConnectionError(err error) bool {
	return errors.Is(err, domain.ErrConnection)
}
