package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/student/odsync/internal/config"
	"github.com/student/odsync/internal/graph"
	synceng "github.com/student/odsync/internal/sync"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// runSync is the root command's default action: build the engine from
// the resolved config and run either one pass or, with --monitor,
// continuous monitor mode until interrupted. Monitor mode is chosen by the
// resolved sync.monitor setting, which --monitor overrides. For the
// lifetime of either mode, a SIGHUP reloads cfgHolder from disk; only the
// poll-mode runner reads cfgHolder afterwards (its poll interval), so in
// monitor mode a reload changes nothing that is already running.
func runSync(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	cfg := cfgHolder.Config()

	ctx := shutdownContext(cmd.Context(), logger)
	go watchConfigReload(ctx, cmd, logger)

	engine, ledger, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	if cfg.Sync.Monitor {
		statusf(flagQuiet, "starting monitor mode on %s\n", cfg.SyncDir)

		return engine.RunMonitor(ctx, cfg.SyncDir)
	}

	return runPollLoop(ctx, engine, cfg, cfgHolder, logger)
}

// buildEngine wires a sync.Engine from the resolved config: opens the
// ledger database, loads the saved OAuth token, and restores the
// persisted delta cursor.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*synceng.Engine, *synceng.Ledger, error) {
	ledger, err := synceng.OpenLedger(ctx, config.DefaultLedgerPath(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening ledger: %w", err)
	}

	tokenSource, err := graph.TokenSourceFromPath(ctx, config.DefaultTokenPath(), logger)
	if err != nil {
		ledger.Close()

		return nil, nil, fmt.Errorf("loading saved credentials: %w", err)
	}

	client := graph.NewClient(graphBaseURL, graphHTTPClient(cfg.Network, logger), tokenSource, logger)
	client.SetUserAgent(cfg.Network.UserAgent)

	engine := synceng.NewEngine(ledger, cfg.SyncDir, client, cfg.Transfers, cfg.Safety, logger)

	cursor, err := ledger.GetDeltaToken(ctx)
	if err != nil {
		ledger.Close()

		return nil, nil, fmt.Errorf("loading delta cursor: %w", err)
	}

	engine.SetCursor(cursor)

	return engine, ledger, nil
}

// graphHTTPClient builds the *http.Client the Graph client sends requests
// through, honoring network.connect_timeout, network.data_timeout, and
// network.force_http_11. Durations are validated at config load time, so a
// parse failure here falls back to the client's zero-timeout default
// rather than aborting the run.
func graphHTTPClient(n config.NetworkConfig, logger *slog.Logger) *http.Client {
	connectTimeout, err := time.ParseDuration(n.ConnectTimeout)
	if err != nil {
		logger.Warn("invalid network.connect_timeout, using no dial timeout", slog.Any("error", err))
	}

	dataTimeout, err := time.ParseDuration(n.DataTimeout)
	if err != nil {
		logger.Warn("invalid network.data_timeout, using no response timeout", slog.Any("error", err))
	}

	return graph.NewHTTPTransport(connectTimeout, dataTimeout, n.ForceHTTP11)
}

// runPollLoop runs the non-monitor path: a Runner that re-reads the poll
// interval from cfgHolder on every cycle, woken early by a push-notification
// hint when a notification URL is configured.
func runPollLoop(
	ctx context.Context, engine *synceng.Engine, cfg *config.Config, cfgHolder *config.Holder, logger *slog.Logger,
) error {
	var hints <-chan struct{}

	if cfg.Sync.NotificationURL != "" {
		listener := synceng.NewNotificationListener(cfg.Sync.NotificationURL, logger)
		go listener.Run(ctx)

		hints = listener.Hints
	}

	runner := synceng.NewRunner(engine, cfg.SyncDir, cfgHolder, hints, logger)

	statusf(flagQuiet, "running sync on %s every %s\n", cfg.SyncDir, cfg.Sync.PollInterval)

	return runner.Run(ctx)
}

// newResyncCmd builds the "resync" subcommand: discards the persisted
// delta cursor and item index, forcing the next pass to re-enumerate the
// drive from scratch. Useful after the ledger is suspected to have
// drifted from reality.
func newResyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Discard the persisted cursor and index, forcing a full re-enumeration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			ledger, err := synceng.OpenLedger(cmd.Context(), config.DefaultLedgerPath(), logger)
			if err != nil {
				return fmt.Errorf("opening ledger: %w", err)
			}
			defer ledger.Close()

			if err := ledger.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("resetting ledger: %w", err)
			}

			statusf(flagQuiet, "cleared sync index and delta cursor\n")

			return nil
		},
	}
}

// newStatusCmd builds the "status" subcommand: a quick summary of the
// resolved config and the ledger's persisted cursor, without running a
// sync pass.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync directory, config path, and persisted cursor state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()
			cfg := cfgHolder.Config()

			ledger, err := synceng.OpenLedger(cmd.Context(), config.DefaultLedgerPath(), logger)
			if err != nil {
				return fmt.Errorf("opening ledger: %w", err)
			}
			defer ledger.Close()

			cursor, err := ledger.GetDeltaToken(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading delta cursor: %w", err)
			}

			items, err := ledger.All(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading index: %w", err)
			}

			bytesTransferred, err := ledger.GetBytesTransferred(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading transfer total: %w", err)
			}

			fmt.Printf("Sync directory: %s\n", cfg.SyncDir)
			fmt.Printf("Config path:    %s\n", configPathForCommands())
			fmt.Printf("Indexed items:  %s\n", formatCount(len(items)))
			fmt.Printf("Transferred:    %s\n", formatBytes(bytesTransferred))

			if cursor == "" {
				fmt.Println("Delta cursor:   (none — next pass does a full enumeration)")
			} else {
				fmt.Println("Delta cursor:   set")
			}

			return nil
		},
	}
}
