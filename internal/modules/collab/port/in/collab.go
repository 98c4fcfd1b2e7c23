package in

import (
	"context"

	"livedoc/internal/modules/collab/dto"
)

type Usecase interface {
	Connect(ctx context.Context, userID, token string) error
	Disconnect(ctx context.Context) error
	Status(ctx context.Context) (dto.StatusOutput, error)

	Join(ctx context.Context, documentID string) (dto.DocumentOutput, error)
	Leave(ctx context.Context) error
	Document(ctx context.Context) (dto.DocumentOutput, error)

	Insert(ctx context.Context, line, column int, content string) (dto.OperationOutput, error)
	Delete(ctx context.Context, line, column, length int) (dto.OperationOutput, error)
	Replace(ctx context.Context, line, column, length int, content string) (dto.OperationOutput, error)

	Cursor(ctx context.Context, line, column int) error
	Selection(ctx context.Context, start, end dto.PositionOutput) error
	Roster(ctx context.Context) ([]dto.ParticipantOutput, error)

	JournalTail(ctx context.Context, limit int) ([]dto.JournalEntryOutput, error)
	Close() error
}
