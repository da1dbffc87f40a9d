package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	watchErrInitBackoff = 500 * time.Millisecond
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
	watchDebounce       = 300 * time.Millisecond
	safetyScanInterval  = 10 * time.Minute
)

// RunMonitor runs one full sync pass to catch up, then watches root for
// local changes and pushes each one as it settles, until ctx is done.
func (e *Engine) RunMonitor(ctx context.Context, root string) error {
	if err := e.ApplyDifferences(ctx); err != nil {
		return err
	}

	if err := e.UploadDifferences(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return newSyncError(KindFilesystem, "runMonitor", root, err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, root); err != nil {
		return newSyncError(KindFilesystem, "runMonitor", root, err)
	}

	return e.watchLoop(ctx, watcher, root)
}

func addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return watcher.Add(path)
		}

		return nil
	})
}

// watchLoop is the select loop driving monitor mode: fsnotify events are
// debounced per path before being applied, watcher errors back off
// exponentially instead of spinning, and a periodic safety scan re-runs
// a full upload pass to catch anything the watcher missed.
func (e *Engine) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, root string) error {
	pending := make(map[string]*time.Timer)
	flush := make(chan string, 64)

	safetyTicker := time.NewTicker(safetyScanInterval)
	defer safetyTicker.Stop()

	backoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			e.scheduleFlush(ev, watcher, pending, flush)
			backoff = watchErrInitBackoff

		case path := <-flush:
			delete(pending, path)

			if err := e.handleLocalChange(ctx, path); err != nil {
				e.logger.Warn("monitor: applying local change failed",
					slog.String("path", path), slog.Any("error", err))
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			e.logger.Warn("filesystem watcher error", slog.Any("error", watchErr), slog.Duration("backoff", backoff))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}

			backoff *= watchErrBackoffMult
			if backoff > watchErrMaxBackoff {
				backoff = watchErrMaxBackoff
			}

		case <-safetyTicker.C:
			if err := e.UploadDifferences(ctx); err != nil {
				e.logger.Warn("monitor: safety scan failed", slog.Any("error", err))
			}

			backoff = watchErrInitBackoff
		}
	}
}

// scheduleFlush debounces a raw fsnotify event: repeated events on the
// same path within watchDebounce collapse into a single flush. A create
// on a new directory registers a watch on it (and anything already
// inside it) immediately, rather than waiting for the debounce.
func (e *Engine) scheduleFlush(
	ev fsnotify.Event, watcher *fsnotify.Watcher, pending map[string]*time.Timer, flush chan<- string,
) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addRecursive(watcher, ev.Name); err != nil {
				e.logger.Warn("monitor: watching new directory failed",
					slog.String("path", ev.Name), slog.Any("error", err))
			}
		}
	}

	path := ev.Name

	if t, ok := pending[path]; ok {
		t.Stop()
	}

	pending[path] = time.AfterFunc(watchDebounce, func() {
		flush <- path
	})
}

// handleLocalChange re-derives the current state of absPath rather than
// trusting which fsnotify event triggered it — a path debounced across
// several rapid events should be reconciled against what is actually on
// disk now, not against a stale event type.
func (e *Engine) handleLocalChange(ctx context.Context, absPath string) error {
	if _, err := os.Lstat(absPath); errors.Is(err, os.ErrNotExist) {
		relPath, relErr := e.uploader.relPath(absPath)
		if relErr != nil {
			return newSyncError(KindFilesystem, "handleLocalChange", absPath, relErr)
		}

		existing, err := e.ledger.GetByPath(ctx, relPath)
		if err != nil {
			return newSyncError(KindFilesystem, "handleLocalChange", absPath, err)
		}
		if existing == nil {
			return nil
		}

		return e.DeleteByPath(ctx, relPath)
	}

	return e.UploadFile(ctx, absPath)
}
