package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/student/odsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagVerbose    bool
	flagQuiet      bool
)

// cfgHolder holds the effective configuration loaded by
// PersistentPreRunE, shared by the CLI and by the poll-mode runner once
// runSync starts it (the watcher and notification listener get fixed
// values at start and do not read it). A SIGHUP received while runSync
// is running calls reloadConfig, which replaces cfgHolder's contents with
// a freshly re-read config rather than swapping in a new Holder, so every
// goroutine holding a reference observes the update. Constructed lazily
// on the first loadConfig call, once the config path is known.
var cfgHolder *config.Holder

// newRootCmd builds the fully-assembled root command with every
// subcommand registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "odsync",
		Short:   "Bidirectional OneDrive sync client",
		Long:    "A OneDrive <-> local directory sync client: delta-driven downloads, tree-walk uploads, and an fsnotify-backed monitor mode.",
		Version: version,
		// Silences cobra's own error/usage printing; main() reports errors.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
		RunE: runSync,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress progress output")

	cmd.Flags().Bool("monitor", false, "watch the sync directory continuously instead of running one pass")
	cmd.Flags().Bool("dry-run", false, "preview sync actions without executing")

	cmd.AddCommand(newResyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain (defaults -> file -> env -> CLI flags) and stores the
// result in cfgHolder for use by subcommands and, once runSync starts
// them, the engine's background goroutines.
func loadConfig(cmd *cobra.Command) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	if cfgHolder == nil {
		cfgHolder = config.NewHolder(cfg, configPathForCommands())
	} else {
		cfgHolder.Update(cfg)
	}

	return nil
}

// resolveConfig runs the override chain without touching cfgHolder, so
// reloadConfig can re-resolve on demand.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	if cmd.Flags().Changed("monitor") {
		monitor, _ := cmd.Flags().GetBool("monitor")
		cli.Monitor = &monitor
	}

	if cmd.Flags().Changed("dry-run") {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		cli.DryRun = &dryRun
	}

	env := config.ReadEnvOverrides()

	cfg, err := config.Resolve(env, cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return cfg, nil
}

// reloadConfig re-resolves the override chain and stores the result in
// cfgHolder, so every consumer holding a reference to cfgHolder observes
// the change. Called by watchConfigReload on SIGHUP, letting a running
// poll process pick up on-disk config edits without a restart.
// loadConfig has always run first (it is the root command's
// PersistentPreRunE), so cfgHolder is never nil here.
func reloadConfig(cmd *cobra.Command) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	cfgHolder.Update(cfg)

	return nil
}

// buildLogger creates an slog.Logger using the resolved config's log
// level, log file, and format as a baseline, overridden by
// --verbose/--quiet since CLI flags always win over file-based
// configuration.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	logging := config.LoggingConfig{LogFormat: "auto"}
	if cfgHolder != nil {
		logging = cfgHolder.Config().Logging

		switch logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	out := logOutput(logging.LogFile)
	opts := &slog.HandlerOptions{Level: level}

	if logFormatIsJSON(logging.LogFormat, out) {
		return slog.New(slog.NewJSONHandler(out, opts))
	}

	return slog.New(slog.NewTextHandler(out, opts))
}

// logOutput opens logFile for appending when set, falling back to
// stderr (and reporting why) if it cannot be opened.
func logOutput(logFile string) io.Writer {
	if logFile == "" {
		return os.Stderr
	}

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "odsync: opening log file %q: %v (logging to stderr instead)\n", logFile, err)

		return os.Stderr
	}

	return f
}

// logFormatIsJSON resolves the logging.log_format setting: "json" is
// explicit, "text" is explicit, and "auto" picks json when the output
// isn't an interactive terminal (a log file, or stderr redirected to a
// pipe) and text otherwise.
func logFormatIsJSON(format string, out io.Writer) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	default:
		return out != os.Stderr || !isInteractive()
	}
}

// configPathForCommands returns cfgHolder's resolved path once loadConfig
// has run, or computes what it would be (for the one call inside
// loadConfig itself, before cfgHolder exists).
func configPathForCommands() string {
	if cfgHolder != nil {
		return cfgHolder.Path()
	}

	if flagConfigPath != "" {
		return flagConfigPath
	}

	return config.DefaultConfigPath()
}
