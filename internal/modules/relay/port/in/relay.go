package in

import (
	"context"

	"livedoc/internal/modules/relay/dto"
)

// Conn is one client connection as seen by the relay.
type Conn interface {
	ID() string
	UserID() string
	Send(data []byte) error
	Close() error
}

type Gateway interface {
	Authenticate(userID, token string) error
	Attach(conn Conn)
	Handle(ctx context.Context, conn Conn, data []byte)
	Detach(ctx context.Context, conn Conn)
	Stats() dto.StatsOutput
}
