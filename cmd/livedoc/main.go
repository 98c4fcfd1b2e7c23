package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"livedoc/internal/bootstrap"
	collabinadapter "livedoc/internal/modules/collab/adapter/in"
	"livedoc/internal/platform/config"
	"livedoc/internal/platform/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, logLevel string

	root := &cobra.Command{
		Use:           "livedoc",
		Short:         "Real-time collaborative document editing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "livedoc.yaml", "config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error (overrides config)")

	load := func() (config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logging.Setup(os.Stderr, cfg.LogLevel)
		return cfg, nil
	}

	root.AddCommand(newRelayCmd(load))
	root.AddCommand(newJoinCmd(load))
	root.AddCommand(newJournalCmd(load))
	root.AddCommand(newDiscoverCmd(load))
	return root
}

type loader func() (config.Config, error)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRelayCmd(load loader) *cobra.Command {
	var addr, store, redisAddr string
	var mdns bool

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Relay.Addr = addr
			}
			if cmd.Flags().Changed("store") {
				cfg.Relay.Store = store
			}
			if cmd.Flags().Changed("redis") {
				cfg.Relay.RedisAddr = redisAddr
			}
			if cmd.Flags().Changed("mdns") {
				cfg.Relay.MDNS = mdns
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			relay, err := bootstrap.NewRelay(ctx, cfg)
			if err != nil {
				return err
			}
			return relay.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", config.DefaultRelayAddr, "listen address")
	cmd.Flags().StringVar(&store, "store", config.StoreMemory, "snapshot store: memory|bolt|postgres")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "redis address for multi-instance fan-out")
	cmd.Flags().BoolVar(&mdns, "mdns", false, "advertise on the local network")
	return cmd
}

func newJoinCmd(load loader) *cobra.Command {
	var url, user, token string

	cmd := &cobra.Command{
		Use:   "join <document-id>",
		Short: "Join a document and edit it interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if url != "" {
				cfg.Client.URL = url
			}
			if user != "" {
				cfg.Client.UserID = user
			}
			if token != "" {
				cfg.Client.Token = token
			}
			if cfg.Client.URL == "" {
				return fmt.Errorf("relay url is required (--url or LIVEDOC_URL)")
			}

			app, err := bootstrap.New(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signalContext()
			defer stop()
			if err := app.CollabCLI.Connect(ctx, cfg.Client.UserID, cfg.Client.Token); err != nil {
				return err
			}
			doc, err := app.CollabCLI.Join(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, collabinadapter.RenderDocument(doc))
			return app.CollabCLI.Run(ctx, cmd.InOrStdin(), out)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "relay websocket url")
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&token, "token", "", "auth token")
	return cmd
}

func newJournalCmd(load loader) *cobra.Command {
	journal := &cobra.Command{Use: "journal", Short: "Inspect the local debug journal"}

	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent journal entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.JournalPath == "" {
				return fmt.Errorf("journal_path is not configured")
			}
			app, err := bootstrap.New(cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			entries, err := app.CollabCLI.JournalTail(cmd.Context(), limit)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), collabinadapter.RenderJournal(entries))
			return nil
		},
	}
	tail.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	journal.AddCommand(tail)
	return journal
}

func newDiscoverCmd(load loader) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find relays on the local network",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := load(); err != nil {
				return err
			}
			peers, err := bootstrap.Discover(cmd.Context(), wait)
			if err != nil {
				return err
			}
			if len(peers) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no relays found")
				return nil
			}
			for _, p := range peers {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.Instance, p.URL)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "how long to browse")
	return cmd
}
