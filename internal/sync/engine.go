package sync

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/student/odsync/internal/config"
	"github.com/student/odsync/internal/graph"
)

// DeltaClient is the subset of the remote client the download reconciler
// needs to walk delta pages. Satisfied by *graph.Client.
type DeltaClient interface {
	Delta(ctx context.Context, cursor string) (*graph.DeltaPage, error)
}

// Client is the full remote surface the engine needs: delta pagination
// plus every operation the download and upload reconcilers call.
type Client interface {
	DeltaClient
	Downloader
	Uploader
}

// Engine is the facade the CLI and the monitor-mode watcher drive: it
// owns the delta cursor, the skipped-items set (via its Reconciler), and
// the deletion queue, and exposes exactly the operations a caller needs
// to run a sync pass or react to a single local change.
type Engine struct {
	ledger     *Ledger
	client     Client
	reconciler *Reconciler
	uploader   *UploadReconciler
	deletions  *DeletionQueue
	logger     *slog.Logger

	cursor   string
	onCursor func(string)
}

// NewEngine wires a full Engine rooted at root, backed by ledger and
// client. transfers.Concurrency bounds the upload reconciler's worker
// pool; safety's big-delete thresholds guard the deletion queue's drain.
func NewEngine(
	ledger *Ledger, root string, client Client, transfers config.TransfersConfig, safety config.SafetyConfig, logger *slog.Logger,
) *Engine {
	deletions := NewDeletionQueue(safety, ledger, logger)

	return &Engine{
		ledger:     ledger,
		client:     client,
		reconciler: NewReconciler(ledger, root, client, deletions, safety, logger),
		uploader:   NewUploadReconciler(ledger, root, client, int64(transfers.Concurrency), logger),
		deletions:  deletions,
		logger:     logger,
	}
}

// SetCursor sets the delta cursor the next ApplyDifferences call resumes
// from. An empty cursor means a full enumeration of the drive.
func (e *Engine) SetCursor(cursor string) {
	e.cursor = cursor
}

// Cursor returns the engine's current delta cursor.
func (e *Engine) Cursor() string {
	return e.cursor
}

// OnCursorChange subscribes fn to be called with the new cursor value
// after every delta page is fully applied and persisted.
func (e *Engine) OnCursorChange(fn func(string)) {
	e.onCursor = fn
}

// ApplyDifferences runs the download side of a sync pass: it walks the
// delta feed from the engine's current cursor to completion, applying
// every item in server order, persisting the cursor after every page,
// and draining the deletion queue once the feed is caught up.
func (e *Engine) ApplyDifferences(ctx context.Context) error {
	passID := uuid.New().String()
	logger := e.logger.With(slog.String("pass_id", passID))
	logger.Debug("starting download pass")

	e.reconciler.ResetSkipped()

	for {
		page, err := e.client.Delta(ctx, e.cursor)
		if err != nil {
			return newSyncError(KindTransport, "applyDifferences", "", err)
		}

		for _, it := range page.Items {
			if err := e.reconciler.ApplyItem(ctx, it); err != nil {
				return err
			}
		}

		hasMore := page.NextLink != ""

		if hasMore {
			e.cursor = page.NextLink
		} else {
			e.cursor = page.DeltaLink
		}

		if err := e.ledger.SaveDeltaToken(ctx, e.cursor); err != nil {
			return newSyncError(KindFilesystem, "applyDifferences", "", err)
		}

		if e.onCursor != nil {
			e.onCursor(e.cursor)
		}

		if !hasMore {
			break
		}
	}

	return e.deletions.Drain(ctx)
}

// UploadDifferences runs a full upload pass: every indexed row against
// the filesystem, then the local tree for anything unindexed.
func (e *Engine) UploadDifferences(ctx context.Context) error {
	passID := uuid.New().String()
	e.logger.Debug("starting upload pass", slog.String("pass_id", passID))

	return e.uploader.UploadDifferences(ctx)
}

// UploadFile pushes local changes under absPath — a single file, or the
// files under a directory — to the remote drive. A directory itself is
// not created remotely here.
func (e *Engine) UploadFile(ctx context.Context, absPath string) error {
	return e.uploader.UploadSubtree(ctx, absPath)
}

// MoveItem renames and/or reparents the remote item at from to to.
func (e *Engine) MoveItem(ctx context.Context, from, to string) error {
	return e.uploader.MoveItem(ctx, from, to)
}

// DeleteByPath deletes the remote item indexed at relPath.
func (e *Engine) DeleteByPath(ctx context.Context, relPath string) error {
	return e.uploader.DeleteByPath(ctx, relPath)
}
