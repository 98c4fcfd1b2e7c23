package out_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wsout "livedoc/internal/modules/transport/adapter/out"
	"livedoc/internal/modules/transport/domain"
)

func echoServer(t *testing.T, query chan<- map[string]string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query <- map[string]string{
			"userId": r.URL.Query().Get("userId"),
			"token":  r.URL.Query().Get("token"),
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(kind, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocketDialerPassesCredentialAndEchoes(t *testing.T) {
	query := make(chan map[string]string, 1)
	srv := echoServer(t, query)

	dialer := wsout.NewWebSocketDialer(srv.URL + "/ws")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := dialer.Dial(ctx, domain.Credential{UserID: "alice", Token: "t0k"})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, map[string]string{"userId": "alice", "token": "t0k"}, <-query)

	raw, err := domain.Encode(domain.Message{Type: domain.TypePing, ID: "p1"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(raw))

	got, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := domain.Decode(got)
	require.NoError(t, err)
	assert.Equal(t, domain.TypePing, msg.Type)
	assert.Equal(t, "p1", msg.ID)
}

func TestWebSocketDialerReportsRefusedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := wsout.NewWebSocketDialer(srv.URL).Dial(context.Background(), domain.Credential{UserID: "alice", Token: "bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
