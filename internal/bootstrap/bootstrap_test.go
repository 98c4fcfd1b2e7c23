package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relaydto "livedoc/internal/modules/relay/dto"
	transportdomain "livedoc/internal/modules/transport/domain"
	"livedoc/internal/platform/config"
	"livedoc/internal/platform/events"
)

func startRelay(t *testing.T, cfg config.Config) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	relay, err := NewRelay(ctx, cfg)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- relay.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("relay did not shut down")
		}
	})
	return "ws://" + ln.Addr().String() + "/ws"
}

func newClient(t *testing.T, url, journal string) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Client.URL = url
	cfg.JournalPath = journal
	app, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func show(t *testing.T, app *App) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, app.CollabCLI.Exec(context.Background(), "show", &out))
	return out.String()
}

func TestClientsCollaborateThroughRelay(t *testing.T) {
	relayCfg := config.Default()
	relayCfg.Relay.Store = config.StoreBolt
	relayCfg.Relay.BoltPath = filepath.Join(t.TempDir(), "relay.db")
	url := startRelay(t, relayCfg)
	ctx := context.Background()

	journal := filepath.Join(t.TempDir(), "journal.db")
	alice := newClient(t, url, journal)
	bob := newClient(t, url, "")

	require.NoError(t, alice.CollabCLI.Connect(ctx, "alice", "t"))
	require.NoError(t, bob.CollabCLI.Connect(ctx, "bob", "t"))

	doc, err := alice.CollabCLI.Join(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, "notes", doc.ID)
	_, err = bob.CollabCLI.Join(ctx, "notes")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, alice.CollabCLI.Exec(ctx, "insert 0 0 Hello", &out))
	assert.Contains(t, show(t, alice), "Hello")
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(show(t, bob)), []byte("Hello"))
	}, 3*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		entries, err := alice.CollabCLI.JournalTail(ctx, 50)
		if err != nil {
			return false
		}
		for _, e := range entries {
			if e.Kind == "operation.applied" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRelayRejectsBadToken(t *testing.T) {
	relayCfg := config.Default()
	relayCfg.Relay.JWTSecret = "s3cret"
	url := startRelay(t, relayCfg)

	cfg := config.Default()
	cfg.Client.URL = url
	cfg.Client.MaxReconnectAttempts = 0
	app, err := New(cfg)
	require.NoError(t, err)
	defer app.Close()

	assert.Error(t, app.CollabCLI.Connect(context.Background(), "alice", "forged"))
}

func TestNewRelayRejectsUnreachableStore(t *testing.T) {
	cfg := config.Default()
	cfg.Relay.Store = config.StorePostgres
	cfg.Relay.DatabaseURL = "postgres://nobody@127.0.0.1:1/none?connect_timeout=1"

	_, err := NewRelay(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRelayAcceptsSignedToken(t *testing.T) {
	relayCfg := config.Default()
	relayCfg.Relay.JWTSecret = "s3cret"
	url := startRelay(t, relayCfg)

	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{"user_id": "alice"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	app := newClient(t, url, "")
	assert.NoError(t, app.CollabCLI.Connect(context.Background(), "alice", token))
}

func relayStats(t *testing.T, url string) relaydto.StatsOutput {
	t.Helper()
	statsURL := strings.Replace(strings.TrimSuffix(url, "/ws"), "ws://", "http://", 1) + "/stats"
	resp, err := http.Get(statsURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats relaydto.StatsOutput
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	return stats
}

type inbox struct {
	mu   sync.Mutex
	msgs map[transportdomain.MessageType][]transportdomain.Message
}

func listen(bus *events.Bus, kinds ...events.Kind) *inbox {
	in := &inbox{msgs: map[transportdomain.MessageType][]transportdomain.Message{}}
	for _, kind := range kinds {
		events.Subscribe(bus, kind, func(msg transportdomain.Message) {
			in.mu.Lock()
			in.msgs[msg.Type] = append(in.msgs[msg.Type], msg)
			in.mu.Unlock()
		})
	}
	return in
}

func (in *inbox) count(t transportdomain.MessageType) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.msgs[t])
}

func TestChatRoomsThroughRelay(t *testing.T) {
	url := startRelay(t, config.Default())
	ctx := context.Background()
	alice := newClient(t, url, "")
	bob := newClient(t, url, "")
	inbox := listen(alice.Bus,
		transportdomain.EventChatMessage,
		transportdomain.EventMessageStatus,
		transportdomain.EventTyping,
		transportdomain.EventUserStatus,
		transportdomain.EventUserLeft,
	)
	bobInbox := listen(bob.Bus, transportdomain.EventMessageStatus)

	require.NoError(t, alice.CollabCLI.Connect(ctx, "alice", "t"))
	require.NoError(t, bob.CollabCLI.Connect(ctx, "bob", "t"))
	require.NoError(t, alice.Transport.JoinRoom(ctx, "lobby"))
	require.Eventually(t, func() bool { return relayStats(t, url).Rooms == 1 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, bob.Transport.JoinRoom(ctx, "lobby"))
	_, err := bob.Transport.SendChat(ctx, "lobby", "hi")
	require.NoError(t, err)
	require.NoError(t, bob.Transport.SendTyping(ctx, "lobby", true))
	require.NoError(t, bob.Transport.UpdateStatus(ctx, "away"))

	assert.Eventually(t, func() bool {
		return inbox.count(transportdomain.TypeChatMessage) == 1 &&
			inbox.count(transportdomain.TypeTyping) == 1 &&
			inbox.count(transportdomain.TypeUserStatus) == 1
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, alice.Transport.MarkAsRead(ctx, "lobby", "m-1"))
	assert.Eventually(t, func() bool { return bobInbox.count(transportdomain.TypeMessageStatus) == 1 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, bob.Transport.LeaveRoom(ctx, "lobby"))
	assert.Eventually(t, func() bool { return inbox.count(transportdomain.TypeUserLeft) == 1 }, 3*time.Second, 20*time.Millisecond)
}
