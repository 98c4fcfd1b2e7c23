package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"livedoc/internal/modules/collab/domain"
	"livedoc/internal/modules/collab/dto"
	collabin "livedoc/internal/modules/collab/port/in"
	collabout "livedoc/internal/modules/collab/port/out"
	apperrors "livedoc/internal/platform/errors"
)

type sessionPort interface {
	JoinSession(ctx context.Context, documentID, userID string) (domain.Document, error)
	LeaveSession(ctx context.Context) error
	Active() (domain.Session, bool)
	Document() (domain.Document, bool)
	Close(ctx context.Context) error
}

type operationPort interface {
	Insert(ctx context.Context, line, column int, content string) (domain.Operation, error)
	Delete(ctx context.Context, line, column, length int) (domain.Operation, error)
	Replace(ctx context.Context, line, column, length int, content string) (domain.Operation, error)
	Close()
}

type presencePort interface {
	SendCursor(ctx context.Context, line, column int) error
	SendSelection(ctx context.Context, start, end domain.Position) error
	Participants() []domain.Participant
	Close()
}

type recorderPort interface {
	Close()
}

type Deps struct {
	Connection collabout.Connection
	Sessions   sessionPort
	Operations operationPort
	Presence   presencePort
	Journal    collabout.Journal
	Recorder   recorderPort
}

// Interactor is the client facade. It is constructed explicitly and torn down
// with Close; several can live in one process.
type Interactor struct {
	deps Deps

	mu     sync.Mutex
	userID string
	closed bool
}

func NewInteractor(deps Deps) collabin.Usecase {
	return &Interactor{deps: deps}
}

func (i *Interactor) Connect(ctx context.Context, userID, token string) error {
	if err := i.deps.Connection.Connect(ctx, userID, token); err != nil {
		return err
	}
	i.mu.Lock()
	i.userID = userID
	i.mu.Unlock()
	return nil
}

func (i *Interactor) Disconnect(ctx context.Context) error {
	leaveErr := i.deps.Sessions.LeaveSession(ctx)
	return errors.Join(leaveErr, i.deps.Connection.Disconnect())
}

func (i *Interactor) Status(context.Context) (dto.StatusOutput, error) {
	out := dto.StatusOutput{
		Connection: i.deps.Connection.State().String(),
		Queued:     i.deps.Connection.QueueLen(),
	}
	if sess, ok := i.deps.Sessions.Active(); ok {
		mapped := mapSession(sess)
		out.Session = &mapped
	}
	return out, nil
}

func (i *Interactor) Join(ctx context.Context, documentID string) (dto.DocumentOutput, error) {
	i.mu.Lock()
	userID := i.userID
	i.mu.Unlock()
	if userID == "" {
		return dto.DocumentOutput{}, fmt.Errorf("%w: connect before joining", apperrors.ErrInvalidInput)
	}
	doc, err := i.deps.Sessions.JoinSession(ctx, documentID, userID)
	if err != nil {
		return dto.DocumentOutput{}, err
	}
	return mapDocument(doc), nil
}

func (i *Interactor) Leave(ctx context.Context) error {
	return i.deps.Sessions.LeaveSession(ctx)
}

func (i *Interactor) Document(context.Context) (dto.DocumentOutput, error) {
	doc, ok := i.deps.Sessions.Document()
	if !ok {
		return dto.DocumentOutput{}, domain.ErrNoActiveSession
	}
	return mapDocument(doc), nil
}

func (i *Interactor) Insert(ctx context.Context, line, column int, content string) (dto.OperationOutput, error) {
	op, err := i.deps.Operations.Insert(ctx, line, column, content)
	if err != nil {
		return dto.OperationOutput{}, err
	}
	return mapOperation(op), nil
}

func (i *Interactor) Delete(ctx context.Context, line, column, length int) (dto.OperationOutput, error) {
	op, err := i.deps.Operations.Delete(ctx, line, column, length)
	if err != nil {
		return dto.OperationOutput{}, err
	}
	return mapOperation(op), nil
}

func (i *Interactor) Replace(ctx context.Context, line, column, length int, content string) (dto.OperationOutput, error) {
	op, err := i.deps.Operations.Replace(ctx, line, column, length, content)
	if err != nil {
		return dto.OperationOutput{}, err
	}
	return mapOperation(op), nil
}

func (i *Interactor) Cursor(ctx context.Context, line, column int) error {
	return i.deps.Presence.SendCursor(ctx, line, column)
}

func (i *Interactor) Selection(ctx context.Context, start, end dto.PositionOutput) error {
	return i.deps.Presence.SendSelection(ctx,
		domain.Position{Line: start.Line, Column: start.Column},
		domain.Position{Line: end.Line, Column: end.Column})
}

func (i *Interactor) Roster(context.Context) ([]dto.ParticipantOutput, error) {
	return mapParticipants(i.deps.Presence.Participants()), nil
}

func (i *Interactor) JournalTail(ctx context.Context, limit int) ([]dto.JournalEntryOutput, error) {
	if i.deps.Journal == nil {
		return nil, fmt.Errorf("%w: journal is not configured", apperrors.ErrNotFound)
	}
	entries, err := i.deps.Journal.Tail(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]dto.JournalEntryOutput, 0, len(entries))
	for _, entry := range entries {
		out = append(out, dto.JournalEntryOutput{
			ID:         entry.ID,
			Kind:       entry.Kind,
			DocumentID: entry.DocumentID,
			Payload:    string(entry.Payload),
			At:         entry.At,
		})
	}
	return out, nil
}

// Close leaves the session, tears down the services and closes the connection.
// It is safe to call more than once.
func (i *Interactor) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	ctx := context.Background()
	var errs []error
	errs = append(errs, i.deps.Sessions.Close(ctx))
	i.deps.Operations.Close()
	i.deps.Presence.Close()
	errs = append(errs, i.deps.Connection.Close())
	if i.deps.Recorder != nil {
		i.deps.Recorder.Close()
	}
	if i.deps.Journal != nil {
		errs = append(errs, i.deps.Journal.Close())
	}
	return errors.Join(errs...)
}

func mapSession(sess domain.Session) dto.SessionOutput {
	return dto.SessionOutput{
		DocumentID:   sess.DocumentID,
		UserID:       sess.UserID,
		SessionID:    sess.SessionID,
		JoinedAt:     sess.JoinedAt,
		LastActivity: sess.LastActivity,
	}
}

func mapDocument(doc domain.Document) dto.DocumentOutput {
	return dto.DocumentOutput{
		ID:           doc.ID,
		Content:      doc.Content,
		Version:      doc.Version,
		LastModified: doc.LastModified,
		Participants: mapParticipants(doc.ActiveUsers),
	}
}

func mapParticipants(in []domain.Participant) []dto.ParticipantOutput {
	out := make([]dto.ParticipantOutput, 0, len(in))
	for _, p := range in {
		item := dto.ParticipantOutput{ID: p.ID, Name: p.Name, Color: p.Color}
		if p.Cursor != nil {
			item.Cursor = &dto.PositionOutput{Line: p.Cursor.Line, Column: p.Cursor.Column}
		}
		if p.Selection != nil {
			item.Selection = []dto.PositionOutput{
				{Line: p.Selection.Start.Line, Column: p.Selection.Start.Column},
				{Line: p.Selection.End.Line, Column: p.Selection.End.Column},
			}
		}
		out = append(out, item)
	}
	return out
}

func mapOperation(op domain.Operation) dto.OperationOutput {
	return dto.OperationOutput{
		ID:      op.ID,
		Type:    string(op.Type),
		Line:    op.Position.Line,
		Column:  op.Position.Column,
		Version: op.Version,
	}
}
