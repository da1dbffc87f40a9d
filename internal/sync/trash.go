package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"github.com/student/odsync/internal/config"
)

// DeletionQueue defers local removals discovered while walking the delta
// feed until the end of the download pass, when they are drained in
// reverse insertion order — children before their parents, so a directory is always empty
// by the time its own removal is attempted. Before draining, it checks the
// batch against the configured big-delete thresholds, refusing to run a
// deletion that looks like it could be the result of a bug or an
// accidentally-emptied sync root rather than a deliberate removal.
type DeletionQueue struct {
	mu     sync.Mutex
	paths  []string
	safety config.SafetyConfig
	ledger *Ledger
	logger *slog.Logger
}

// NewDeletionQueue returns an empty queue, guarded by safety's big-delete
// thresholds. ledger is consulted for the total indexed-item count the
// percentage threshold is measured against.
func NewDeletionQueue(safety config.SafetyConfig, ledger *Ledger, logger *slog.Logger) *DeletionQueue {
	return &DeletionQueue{safety: safety, ledger: ledger, logger: logger}
}

// Enqueue records path for removal on the next Drain.
func (q *DeletionQueue) Enqueue(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.paths = append(q.paths, path)
}

// Drain removes every queued path in reverse insertion order, then
// empties the queue. Before removing anything, it checks the batch against
// the big-delete thresholds: a batch at or above BigDeleteMinItems that
// also reaches BigDeleteThreshold or BigDeletePercentage of the indexed
// total is refused outright, with every path left queued for the next
// pass. A directory that cannot be removed because it is not empty is
// logged and kept — this is expected whenever a descendant was skipped
// rather than deleted, not a failure of the pass. Any other filesystem
// error aborts the drain and leaves the remaining paths queued for the
// next pass.
func (q *DeletionQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	paths := q.paths
	q.mu.Unlock()

	if err := q.checkBigDelete(ctx, paths); err != nil {
		return err
	}

	q.mu.Lock()
	q.paths = nil
	q.mu.Unlock()

	for i := len(paths) - 1; i >= 0; i-- {
		path := paths[i]

		info, err := os.Lstat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return requeueAndFail(q, paths[:i], newSyncError(KindFilesystem, "drain", path, err))
		}

		if info.IsDir() {
			if err := os.Remove(path); err != nil {
				if isDirNotEmpty(err) {
					q.logger.Info("kept dir", slog.String("path", path))
					continue
				}

				return requeueAndFail(q, paths[:i], newSyncError(KindFilesystem, "drain", path, err))
			}

			q.logger.Info("deleted dir", slog.String("path", path))

			continue
		}

		if err := os.Remove(path); err != nil {
			return requeueAndFail(q, paths[:i], newSyncError(KindFilesystem, "drain", path, err))
		}

		q.logger.Info("deleted file", slog.String("path", path))
	}

	return nil
}

// checkBigDelete refuses to drain a batch that looks unusually large
// relative to the indexed total, unless the batch is too small for the
// thresholds to apply at all.
func (q *DeletionQueue) checkBigDelete(ctx context.Context, paths []string) error {
	count := len(paths)
	if count == 0 || count < q.safety.BigDeleteMinItems {
		return nil
	}

	total, err := q.ledger.Count(ctx)
	if err != nil {
		return newSyncError(KindFilesystem, "drain", "", err)
	}

	overThreshold := count >= q.safety.BigDeleteThreshold
	overPercentage := total > 0 && count*100/total >= q.safety.BigDeletePercentage

	if !overThreshold && !overPercentage {
		return nil
	}

	q.logger.Error("refusing big delete",
		slog.Int("queued", count),
		slog.Int("indexed_total", total),
		slog.Int("big_delete_threshold", q.safety.BigDeleteThreshold),
		slog.Int("big_delete_percentage", q.safety.BigDeletePercentage),
	)

	return newSyncError(KindLogical, "drain", "",
		fmt.Errorf("refusing to delete %d items (%d%% of %d indexed) — re-run resync if this is expected",
			count, count*100/max(total, 1), total))
}

// requeueAndFail puts the not-yet-processed paths back on the queue
// (preserving their original order) before propagating err, so a failed
// drain does not silently lose pending deletions.
func requeueAndFail(q *DeletionQueue, remaining []string, err error) error {
	q.mu.Lock()
	q.paths = append(remaining, q.paths...)
	q.mu.Unlock()

	return err
}

// isDirNotEmpty reports whether err is the platform's "directory not
// empty" error, as returned by os.Remove on a non-empty directory.
func isDirNotEmpty(err error) bool {
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		return false
	}

	return errors.Is(pathErr.Err, syscall.ENOTEMPTY)
}
