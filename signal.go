package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// shutdownContext returns a context that cancels on the first
// SIGINT/SIGTERM and force-exits on a second, giving the engine time to
// finish an in-flight action before a hard stop.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit", slog.String("signal", sig.String()))
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// watchConfigReload listens for SIGHUP for the lifetime of ctx and reloads
// cfgHolder from disk on each one, so a long-running poll process picks
// up config file edits without a restart. Runs until ctx is
// done; callers start it in its own goroutine.
func watchConfigReload(ctx context.Context, cmd *cobra.Command, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if err := reloadConfig(cmd); err != nil {
				logger.Error("config reload failed", slog.Any("error", err))
				continue
			}

			logger.Info("config reloaded")
		}
	}
}
