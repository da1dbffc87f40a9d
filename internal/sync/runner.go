package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/student/odsync/internal/config"
)

// defaultPollInterval is used if the held config's poll_interval fails to
// parse — it should never happen since config.Validate rejects malformed
// durations, but pollInterval must not wedge the runner on a bad value.
const defaultPollInterval = 5 * time.Minute

// Runner drives repeated sync passes, waking early whenever a
// NotificationListener reports a hint. It is the non-monitor (poll)
// counterpart to Engine.RunMonitor. The poll interval is read from cfg on
// every iteration rather than fixed at construction, so a config reload
// (a SIGHUP to the running process) takes effect on the runner's very next
// wait without restarting the process.
type Runner struct {
	engine *Engine
	root   string
	cfg    *config.Holder
	hints  <-chan struct{}
	logger *slog.Logger
}

// NewRunner builds a Runner. hints may be nil, in which case the runner
// relies solely on the poll interval.
func NewRunner(engine *Engine, root string, cfg *config.Holder, hints <-chan struct{}, logger *slog.Logger) *Runner {
	return &Runner{
		engine: engine,
		root:   root,
		cfg:    cfg,
		hints:  hints,
		logger: logger,
	}
}

// Run executes sync passes until ctx is done: download reconciliation,
// then upload reconciliation, then a wait for either the next tick or an
// early hint. A failed pass is logged and retried on the next tick
// rather than aborting the runner.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := r.runPass(ctx); err != nil {
			r.logger.Error("sync pass failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.pollInterval()):
		case <-r.hints:
			r.logger.Debug("waking early on push-notification hint")
		}
	}
}

// pollInterval re-reads the poll interval from the held config, so a
// reload between passes changes how long the runner waits next.
func (r *Runner) pollInterval() time.Duration {
	d, err := time.ParseDuration(r.cfg.Config().Sync.PollInterval)
	if err != nil {
		r.logger.Warn("invalid poll_interval, using default", slog.Any("error", err))

		return defaultPollInterval
	}

	return d
}

func (r *Runner) runPass(ctx context.Context) error {
	if err := r.engine.ApplyDifferences(ctx); err != nil {
		return err
	}

	return r.engine.UploadDifferences(ctx)
}
