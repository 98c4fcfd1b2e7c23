package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	collabinadapter "livedoc/internal/modules/collab/adapter/in"
	collaboutadapter "livedoc/internal/modules/collab/adapter/out"
	collabservice "livedoc/internal/modules/collab/service"
	collabusecase "livedoc/internal/modules/collab/usecase"
	relayinadapter "livedoc/internal/modules/relay/adapter/in"
	relayoutadapter "livedoc/internal/modules/relay/adapter/out"
	relayout "livedoc/internal/modules/relay/port/out"
	relayservice "livedoc/internal/modules/relay/service"
	transportoutadapter "livedoc/internal/modules/transport/adapter/out"
	transportservice "livedoc/internal/modules/transport/service"
	"livedoc/internal/platform/clock"
	"livedoc/internal/platform/config"
	"livedoc/internal/platform/events"
	"livedoc/internal/platform/id"
)

const shutdownTimeout = 10 * time.Second

// App is one collaboration client: its own bus, connection and services.
type App struct {
	Bus       *events.Bus
	Transport *transportservice.Manager
	CollabCLI collabinadapter.CLIHandler
}

func New(cfg config.Config) (*App, error) {
	clk := clock.SystemClock{}
	bus := events.NewBus()

	manager := transportservice.NewManager(
		transportoutadapter.NewWebSocketDialer(cfg.Client.URL),
		bus,
		clk,
		id.UUID{},
		transportservice.Settings{
			HeartbeatInterval:    cfg.Client.HeartbeatInterval,
			ReconnectBaseDelay:   cfg.Client.ReconnectBaseDelay,
			MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
		},
	)
	sessions := collabservice.NewSessionManager(manager, bus, clk, collabservice.Settings{
		HeartbeatInterval: cfg.Client.HeartbeatInterval,
		JoinTimeout:       cfg.Client.JoinTimeout,
	})
	deps := collabusecase.Deps{
		Connection: manager,
		Sessions:   sessions,
		Operations: collabservice.NewOperationEngine(sessions, manager, bus, clk, id.NewULID()),
		Presence:   collabservice.NewPresenceBroadcaster(sessions, manager, bus, clk),
	}
	if cfg.JournalPath != "" {
		journal, err := collaboutadapter.NewSQLiteJournal(cfg.JournalPath)
		if err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		deps.Journal = journal
		deps.Recorder = collabservice.NewJournalRecorder(journal, bus)
	}

	return &App{
		Bus:       bus,
		Transport: manager,
		CollabCLI: collabinadapter.NewCLIHandler(collabusecase.NewInteractor(deps)),
	}, nil
}

func (a *App) Close() error {
	return a.CollabCLI.Close()
}

// Relay is a running relay server and everything it owns.
type Relay struct {
	server     *http.Server
	relay      *relayservice.Relay
	store      relayout.SnapshotStore
	fanout     relayout.Fanout
	advertiser relayout.Advertiser
}

func NewRelay(ctx context.Context, cfg config.Config) (*Relay, error) {
	store, err := openStore(ctx, cfg.Relay)
	if err != nil {
		return nil, err
	}
	r := &Relay{store: store}

	if cfg.Relay.RedisAddr != "" {
		fanout, err := relayoutadapter.NewRedisFanout(ctx, cfg.Relay.RedisAddr)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		r.fanout = fanout
		slog.Info("redis fanout enabled", "addr", cfg.Relay.RedisAddr)
	}
	var verifier relayout.TokenVerifier
	if cfg.Relay.JWTSecret != "" {
		verifier = relayoutadapter.NewJWTVerifier(cfg.Relay.JWTSecret)
	}
	if cfg.Relay.MDNS {
		r.advertiser = relayoutadapter.NewMDNSAdvertiser()
	}

	r.relay = relayservice.NewRelay(relayservice.NewHub(), store, r.fanout, verifier, clock.SystemClock{}, relayservice.Settings{
		MaxParticipants: cfg.Relay.MaxParticipants,
		MemberTimeout:   cfg.Relay.MemberTimeout,
	})
	r.server = &http.Server{
		Addr:    cfg.Relay.Addr,
		Handler: relayinadapter.NewRouter(ctx, r.relay),
	}
	return r, nil
}

func openStore(ctx context.Context, cfg config.RelayConfig) (relayout.SnapshotStore, error) {
	switch cfg.Store {
	case config.StoreBolt:
		return relayoutadapter.NewBoltStore(cfg.BoltPath)
	case config.StorePostgres:
		return relayoutadapter.NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return relayoutadapter.NewMemoryStore(), nil
	}
}

// Serve listens on ln until ctx ends, then shuts down gracefully.
func (r *Relay) Serve(ctx context.Context, ln net.Listener) error {
	if err := r.relay.Start(ctx); err != nil {
		return err
	}
	if r.advertiser != nil {
		if err := r.advertiser.Advertise(listenPort(ln)); err != nil {
			slog.Warn("mdns advertise failed", "error", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("relay starting", "addr", ln.Addr().String())
		errCh <- r.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = r.close(context.Background())
			return err
		}
	case <-ctx.Done():
	}

	slog.Info("relay shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := r.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown: %w", err))
	}
	errs = append(errs, r.close(shutdownCtx))
	return errors.Join(errs...)
}

// ListenAndServe listens on the configured address.
func (r *Relay) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.server.Addr)
	if err != nil {
		_ = r.close(ctx)
		return err
	}
	return r.Serve(ctx, ln)
}

func (r *Relay) close(ctx context.Context) error {
	if r.advertiser != nil {
		r.advertiser.Shutdown()
	}
	errs := []error{r.relay.Close(ctx)}
	if r.fanout != nil {
		errs = append(errs, r.fanout.Close())
	}
	errs = append(errs, r.store.Close())
	return errors.Join(errs...)
}

func listenPort(ln net.Listener) int {
	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

// Discover lists relays advertising on the local network.
func Discover(ctx context.Context, wait time.Duration) ([]relayoutadapter.Peer, error) {
	return relayoutadapter.Discover(ctx, wait)
}
