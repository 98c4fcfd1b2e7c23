package out

import (
	"context"

	"livedoc/internal/modules/transport/domain"
)

// Dialer opens one physical duplex connection for a credential.
type Dialer interface {
	Dial(ctx context.Context, cred domain.Credential) (Conn, error)
}

// Conn is a message-oriented duplex connection. ReadMessage is only called
// from one goroutine; WriteMessage must be safe for concurrent use.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	Close() error
}
