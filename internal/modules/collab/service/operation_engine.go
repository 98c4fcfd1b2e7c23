package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"livedoc/internal/modules/collab/domain"
	collabout "livedoc/internal/modules/collab/port/out"
	transportdomain "livedoc/internal/modules/transport/domain"
	"livedoc/internal/platform/clock"
	"livedoc/internal/platform/events"
	"livedoc/internal/platform/id"
)

type queuedOp struct {
	op    domain.Operation
	local bool
}

// OperationEngine applies local and remote operations through one queue, in
// arrival order. Remote edits are not transformed against local ones, so two
// clients that see edits in different orders can end up with different text.
type OperationEngine struct {
	sessions  *SessionManager
	transport collabout.Transport
	bus       *events.Bus
	clock     clock.Clock
	ids       id.Generator
	logger    *slog.Logger

	mu       sync.Mutex
	pending  []queuedOp
	draining bool
	unsub    events.Unsubscribe
}

func NewOperationEngine(sessions *SessionManager, transport collabout.Transport, bus *events.Bus, clk clock.Clock, ids id.Generator) *OperationEngine {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if ids == nil {
		ids = id.NewULID()
	}
	e := &OperationEngine{
		sessions:  sessions,
		transport: transport,
		bus:       bus,
		clock:     clk,
		ids:       ids,
		logger:    slog.Default().With("component", "operations"),
	}
	e.unsub = events.Subscribe(bus, transportdomain.EventCollaboration, e.handleCollaboration)
	return e
}

// SendOperation stamps p with identity and the current document version,
// applies it locally and transmits it. An operation missing the content or
// length its type needs is rejected without being sent.
func (e *OperationEngine) SendOperation(ctx context.Context, p domain.PartialOperation) (domain.Operation, error) {
	now := e.clock.Now()
	var op domain.Operation
	err := e.sessions.withDocument(func(sess *domain.Session, doc *domain.Document) error {
		op = domain.Operation{
			ID:         e.ids.New(),
			Type:       p.Type,
			Position:   p.Position,
			Content:    p.Content,
			Length:     p.Length,
			UserID:     sess.UserID,
			Timestamp:  now.UnixMilli(),
			Version:    doc.Version,
			DocumentID: doc.ID,
		}
		sess.LastActivity = now
		return nil
	})
	if err != nil {
		return domain.Operation{}, err
	}
	if err := op.Validate(); err != nil {
		e.skip(op, err)
		return domain.Operation{}, err
	}

	e.enqueue(queuedOp{op: op, local: true})
	if _, err := e.transport.Send(ctx, transportdomain.TypeCollabOperation, domain.OperationMessage{DocumentID: op.DocumentID, Operation: op}); err != nil {
		return op, err
	}
	return op, nil
}

func (e *OperationEngine) Insert(ctx context.Context, line, column int, content string) (domain.Operation, error) {
	return e.SendOperation(ctx, domain.Insert(line, column, content))
}

func (e *OperationEngine) Delete(ctx context.Context, line, column, length int) (domain.Operation, error) {
	return e.SendOperation(ctx, domain.Delete(line, column, length))
}

func (e *OperationEngine) Replace(ctx context.Context, line, column, length int, content string) (domain.Operation, error) {
	return e.SendOperation(ctx, domain.Replace(line, column, length, content))
}

// Pending reports operations waiting for the drain.
func (e *OperationEngine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *OperationEngine) Close() {
	if e.unsub != nil {
		e.unsub()
	}
}

// enqueue appends q and drains unless a drain is already running, in which
// case that drain picks q up.
func (e *OperationEngine) enqueue(q queuedOp) {
	e.mu.Lock()
	e.pending = append(e.pending, q)
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.mu.Unlock()

	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.draining = false
			e.mu.Unlock()
			return
		}
		next := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()
		e.apply(next)
	}
}

func (e *OperationEngine) apply(q queuedOp) {
	// A panic here would unwind the drain and leave it marked as running.
	defer func() {
		if r := recover(); r != nil {
			e.skip(q.op, fmt.Errorf("%w: %v", domain.ErrMalformedOperation, r))
		}
	}()
	var version int
	err := e.sessions.withDocument(func(_ *domain.Session, doc *domain.Document) error {
		if q.op.DocumentID != doc.ID {
			return errStaleDocument
		}
		if err := doc.Apply(q.op, e.clock.Now()); err != nil {
			return err
		}
		version = doc.Version
		return nil
	})
	switch {
	case errors.Is(err, domain.ErrNoActiveSession), errors.Is(err, errStaleDocument):
		e.logger.Debug("dropping operation outside active session", "id", q.op.ID, "documentId", q.op.DocumentID)
	case err != nil:
		e.skip(q.op, err)
	default:
		e.bus.Emit(domain.EventOperationApplied, domain.OperationApplied{Operation: q.op, Version: version, Local: q.local})
	}
}

var errStaleDocument = errors.New("operation targets another document")

func (e *OperationEngine) skip(op domain.Operation, err error) {
	e.logger.Warn("skipping operation", "id", op.ID, "userId", op.UserID, "documentId", op.DocumentID, "error", err)
	e.bus.Emit(domain.EventOperationSkipped, domain.OperationSkipped{Operation: op, Err: err})
}

func (e *OperationEngine) handleCollaboration(msg transportdomain.Message) {
	if msg.Type != transportdomain.TypeCollabOperation {
		return
	}
	sess, ok := e.sessions.Active()
	if !ok {
		return
	}
	var in domain.OperationMessage
	if err := msg.Decode(&in); err != nil {
		e.skip(domain.Operation{DocumentID: sess.DocumentID}, errors.Join(domain.ErrMalformedOperation, err))
		return
	}
	op := in.Operation
	if op.DocumentID == "" {
		op.DocumentID = in.DocumentID
	}
	if op.DocumentID != sess.DocumentID || op.UserID == sess.UserID {
		return
	}
	e.enqueue(queuedOp{op: op})
}
