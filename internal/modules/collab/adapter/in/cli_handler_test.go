package in_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	collabin "livedoc/internal/modules/collab/adapter/in"
	"livedoc/internal/modules/collab/dto"
	collabport "livedoc/internal/modules/collab/port/in"
	apperrors "livedoc/internal/platform/errors"
)

type call struct {
	name string
	args []any
}

type fakeUsecase struct {
	collabport.Usecase
	calls []call
}

func (f *fakeUsecase) record(name string, args ...any) {
	f.calls = append(f.calls, call{name: name, args: args})
}

func (f *fakeUsecase) Insert(_ context.Context, line, column int, content string) (dto.OperationOutput, error) {
	f.record("insert", line, column, content)
	return dto.OperationOutput{ID: "op-1", Type: "insert", Line: line, Column: column}, nil
}

func (f *fakeUsecase) Delete(_ context.Context, line, column, length int) (dto.OperationOutput, error) {
	f.record("delete", line, column, length)
	return dto.OperationOutput{}, apperrors.ErrNoActiveSession
}

func (f *fakeUsecase) Selection(_ context.Context, start, end dto.PositionOutput) error {
	f.record("select", start, end)
	return nil
}

func (f *fakeUsecase) Roster(context.Context) ([]dto.ParticipantOutput, error) {
	return []dto.ParticipantOutput{{ID: "bob", Name: "Bob", Color: "#FF6B6B", Cursor: &dto.PositionOutput{Line: 2, Column: 9}}}, nil
}

func (f *fakeUsecase) Document(context.Context) (dto.DocumentOutput, error) {
	return dto.DocumentOutput{ID: "doc-1", Content: "Hello\nworld", Version: 2}, nil
}

func TestExecParsesEditingCommands(t *testing.T) {
	uc := &fakeUsecase{}
	h := collabin.NewCLIHandler(uc)
	var out bytes.Buffer

	require.NoError(t, h.Exec(context.Background(), `insert 0 3 lo\nthere`, &out))
	require.NoError(t, h.Exec(context.Background(), "select 1 0 1 4", &out))
	require.Len(t, uc.calls, 2)
	assert.Equal(t, []any{0, 3, "lo\nthere"}, uc.calls[0].args)
	assert.Equal(t, []any{dto.PositionOutput{Line: 1}, dto.PositionOutput{Line: 1, Column: 4}}, uc.calls[1].args)
	assert.Contains(t, out.String(), "insert")

	err := h.Exec(context.Background(), "delete 0 x 1", &out)
	require.Error(t, err)
	err = h.Exec(context.Background(), "delete 0", &out)
	require.Error(t, err)
	assert.Len(t, uc.calls, 2)
}

func TestRunReportsErrorsAndStopsOnQuit(t *testing.T) {
	uc := &fakeUsecase{}
	h := collabin.NewCLIHandler(uc)
	in := strings.NewReader("delete 0 0 1\nwho\nshow\nbogus\nquit\ninsert 0 0 never\n")
	var out bytes.Buffer

	require.NoError(t, h.Run(context.Background(), in, &out))
	text := out.String()
	assert.Contains(t, text, "no active session")
	assert.Contains(t, text, "Bob")
	assert.Contains(t, text, "@2:9")
	assert.Contains(t, text, "world")
	assert.Contains(t, text, `unknown command "bogus"`)
	for _, c := range uc.calls {
		assert.NotEqual(t, "insert", c.name)
	}
}

func TestRenderRosterEmpty(t *testing.T) {
	assert.Contains(t, collabin.RenderRoster(nil), "no participants")
}
