package out

import (
	"context"

	collabdomain "livedoc/internal/modules/collab/domain"
)

// SnapshotStore supplies and accepts document snapshots. It is the only place
// documents outlive the relay process.
type SnapshotStore interface {
	Load(ctx context.Context, documentID string) (collabdomain.Document, bool, error)
	Save(ctx context.Context, doc collabdomain.Document) error
	Close() error
}

// Fanout carries room traffic between relay instances.
type Fanout interface {
	Publish(ctx context.Context, room string, payload []byte) error
	Subscribe(ctx context.Context, deliver func(room string, payload []byte)) error
	Close() error
}

type TokenVerifier interface {
	Verify(userID, token string) error
}

// Advertiser announces the relay on the local network.
type Advertiser interface {
	Advertise(port int) error
	Shutdown()
}
