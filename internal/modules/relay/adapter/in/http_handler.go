package in

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	relayin "livedoc/internal/modules/relay/port/in"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter serves the websocket endpoint plus health and stats. Connections
// live until ctx ends.
func NewRouter(ctx context.Context, gateway relayin.Gateway) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", wsHandler(ctx, gateway)).Methods(http.MethodGet)
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/stats", statsHandler(gateway)).Methods(http.MethodGet)
	return r
}

func wsHandler(ctx context.Context, gateway relayin.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		token := r.URL.Query().Get("token")
		if err := gateway.Authenticate(userID, token); err != nil {
			slog.Warn("rejected connection", "userId", userID, "remote", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}
		NewConn(uuid.NewString(), userID, ws, gateway).Start(ctx)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func statsHandler(gateway relayin.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, gateway.Stats())
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}
