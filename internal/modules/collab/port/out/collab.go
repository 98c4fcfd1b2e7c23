package out

import (
	"context"

	"livedoc/internal/modules/collab/domain"
	transportdomain "livedoc/internal/modules/transport/domain"
)

// Transport is the outbound half of the connection used by the collaboration
// services. Inbound traffic arrives on the event bus.
type Transport interface {
	Send(ctx context.Context, t transportdomain.MessageType, data any) (transportdomain.Message, error)
}

// Connection is the full lifecycle surface the client facade drives.
type Connection interface {
	Transport
	Connect(ctx context.Context, userID, token string) error
	Disconnect() error
	Close() error
	State() transportdomain.ConnectionState
	QueueLen() int
}

type Journal interface {
	Record(ctx context.Context, entry domain.JournalEntry) error
	Tail(ctx context.Context, limit int) ([]domain.JournalEntry, error)
	Close() error
}
