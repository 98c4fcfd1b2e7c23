package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livedoc/internal/modules/collab/domain"
	"livedoc/internal/modules/collab/dto"
	"livedoc/internal/modules/collab/usecase"
	transportdomain "livedoc/internal/modules/transport/domain"
	apperrors "livedoc/internal/platform/errors"
)

type fakeConnection struct {
	connectErr error
	userID     string
	state      transportdomain.ConnectionState
	closes     int
}

func (f *fakeConnection) Send(context.Context, transportdomain.MessageType, any) (transportdomain.Message, error) {
	return transportdomain.Message{}, nil
}
func (f *fakeConnection) Connect(_ context.Context, userID, _ string) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.userID = userID
	f.state = transportdomain.StateConnected
	return nil
}
func (f *fakeConnection) Disconnect() error {
	f.state = transportdomain.StateDisconnected
	return nil
}
func (f *fakeConnection) Close() error {
	f.closes++
	return f.Disconnect()
}
func (f *fakeConnection) State() transportdomain.ConnectionState { return f.state }
func (f *fakeConnection) QueueLen() int                          { return 2 }

type fakeSessions struct {
	joinedAs string
	session  *domain.Session
	doc      *domain.Document
	closed   bool
}

func (f *fakeSessions) JoinSession(_ context.Context, documentID, userID string) (domain.Document, error) {
	f.joinedAs = userID
	f.session = &domain.Session{DocumentID: documentID, UserID: userID, SessionID: "s-1"}
	f.doc = &domain.Document{ID: documentID, Content: "hi", Version: 3, ActiveUsers: []domain.Participant{
		{ID: userID, Name: userID, Color: domain.ColorFor(userID), Cursor: &domain.Position{Line: 1, Column: 2}},
	}}
	return *f.doc, nil
}
func (f *fakeSessions) LeaveSession(context.Context) error {
	f.session, f.doc = nil, nil
	return nil
}
func (f *fakeSessions) Active() (domain.Session, bool) {
	if f.session == nil {
		return domain.Session{}, false
	}
	return *f.session, true
}
func (f *fakeSessions) Document() (domain.Document, bool) {
	if f.doc == nil {
		return domain.Document{}, false
	}
	return *f.doc, true
}
func (f *fakeSessions) Close(context.Context) error {
	f.closed = true
	return nil
}

type fakeOperations struct{ closed bool }

func (f *fakeOperations) Insert(_ context.Context, line, column int, _ string) (domain.Operation, error) {
	return domain.Operation{ID: "op-1", Type: domain.OpInsert, Position: domain.Position{Line: line, Column: column}, Version: 3}, nil
}
func (f *fakeOperations) Delete(context.Context, int, int, int) (domain.Operation, error) {
	return domain.Operation{}, domain.ErrNoActiveSession
}
func (f *fakeOperations) Replace(context.Context, int, int, int, string) (domain.Operation, error) {
	return domain.Operation{ID: "op-2", Type: domain.OpReplace}, nil
}
func (f *fakeOperations) Close() { f.closed = true }

type fakePresence struct {
	start, end domain.Position
	closed     bool
}

func (f *fakePresence) SendCursor(context.Context, int, int) error { return nil }
func (f *fakePresence) SendSelection(_ context.Context, start, end domain.Position) error {
	f.start, f.end = start, end
	return nil
}
func (f *fakePresence) Participants() []domain.Participant {
	return []domain.Participant{{ID: "bob", Name: "Bob", Color: domain.ColorFor("bob"), Selection: &domain.Range{End: domain.Position{Line: 4}}}}
}
func (f *fakePresence) Close() { f.closed = true }

type fakeJournal struct{ closed bool }

func (f *fakeJournal) Record(context.Context, domain.JournalEntry) error { return nil }
func (f *fakeJournal) Tail(context.Context, int) ([]domain.JournalEntry, error) {
	return []domain.JournalEntry{{ID: 7, Kind: "operation.applied", DocumentID: "doc-1", Payload: []byte(`{"version":1}`), At: time.Unix(10, 0).UTC()}}, nil
}
func (f *fakeJournal) Close() error {
	f.closed = true
	return nil
}

type fixture struct {
	conn     *fakeConnection
	sessions *fakeSessions
	ops      *fakeOperations
	presence *fakePresence
	journal  *fakeJournal
	deps     usecase.Deps
}

func newFixture() fixture {
	f := fixture{
		conn:     &fakeConnection{},
		sessions: &fakeSessions{},
		ops:      &fakeOperations{},
		presence: &fakePresence{},
		journal:  &fakeJournal{},
	}
	f.deps = usecase.Deps{
		Connection: f.conn,
		Sessions:   f.sessions,
		Operations: f.ops,
		Presence:   f.presence,
		Journal:    f.journal,
	}
	return f
}

func TestJoinRequiresConnect(t *testing.T) {
	f := newFixture()
	uc := usecase.NewInteractor(f.deps)
	_, err := uc.Join(context.Background(), "doc-1")
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	f.conn.connectErr = transportdomain.ErrConnection
	require.ErrorIs(t, uc.Connect(context.Background(), "alice", "t"), transportdomain.ErrConnection)
	_, err = uc.Join(context.Background(), "doc-1")
	require.Error(t, err)
}

func TestJoinMapsDocument(t *testing.T) {
	f := newFixture()
	uc := usecase.NewInteractor(f.deps)
	require.NoError(t, uc.Connect(context.Background(), "alice", "t"))

	out, err := uc.Join(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", f.sessions.joinedAs)
	assert.Equal(t, "doc-1", out.ID)
	assert.Equal(t, 3, out.Version)
	require.Len(t, out.Participants, 1)
	assert.Equal(t, &dto.PositionOutput{Line: 1, Column: 2}, out.Participants[0].Cursor)

	status, err := uc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "connected", status.Connection)
	assert.Equal(t, 2, status.Queued)
	require.NotNil(t, status.Session)
	assert.Equal(t, "s-1", status.Session.SessionID)
}

func TestOperationsAndPresenceDelegate(t *testing.T) {
	f := newFixture()
	uc := usecase.NewInteractor(f.deps)

	op, err := uc.Insert(context.Background(), 2, 4, "x")
	require.NoError(t, err)
	assert.Equal(t, dto.OperationOutput{ID: "op-1", Type: "insert", Line: 2, Column: 4, Version: 3}, op)

	_, err = uc.Delete(context.Background(), 0, 0, 1)
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)

	require.NoError(t, uc.Selection(context.Background(), dto.PositionOutput{Line: 1}, dto.PositionOutput{Line: 1, Column: 5}))
	assert.Equal(t, domain.Position{Line: 1, Column: 5}, f.presence.end)

	roster, err := uc.Roster(context.Background())
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, []dto.PositionOutput{{}, {Line: 4}}, roster[0].Selection)

	_, err = uc.Document(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)
}

func TestJournalTail(t *testing.T) {
	f := newFixture()
	uc := usecase.NewInteractor(f.deps)
	entries, err := uc.JournalTail(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, `{"version":1}`, entries[0].Payload)

	f.deps.Journal = nil
	_, err = usecase.NewInteractor(f.deps).JournalTail(context.Background(), 10)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestCloseTearsDownOnce(t *testing.T) {
	f := newFixture()
	uc := usecase.NewInteractor(f.deps)
	require.NoError(t, uc.Close())
	require.NoError(t, uc.Close())

	assert.True(t, f.sessions.closed)
	assert.True(t, f.ops.closed)
	assert.True(t, f.presence.closed)
	assert.True(t, f.journal.closed)
	assert.Equal(t, 1, f.conn.closes)
}
