package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/student/odsync/internal/config"
	"github.com/student/odsync/internal/graph"
)

// ErrInsufficientDiskSpace is returned when the sync root's available
// disk space is at or below safety.min_free_space at the time a download
// is about to start.
var ErrInsufficientDiskSpace = errors.New("insufficient disk space")

// Downloader is the subset of the remote client the download reconciler
// needs. Satisfied by *graph.Client.
type Downloader interface {
	DownloadByID(ctx context.Context, id string, w io.Writer) (int64, error)
}

// Reconciler drives the download side of a sync pass: for every item a
// delta page reports, it decides whether the item is new, changed,
// deleted, or unsupported, and brings the local filesystem in line with
// the remote. It also maintains the skipped-items set for the current
// pass and feeds the deletion queue.
type Reconciler struct {
	ledger    *Ledger
	root      string
	dl        Downloader
	deletions *DeletionQueue
	safety    config.SafetyConfig
	logger    *slog.Logger

	skipped    map[string]struct{}
	rootItemID string // cached; "" means not yet learned
	statfsFunc func(path string) (uint64, error) // injectable for testing
}

// NewReconciler builds a Reconciler rooted at root (an absolute local
// directory mirroring the remote drive). Every download first checks
// root's available disk space against safety.min_free_space.
func NewReconciler(
	ledger *Ledger, root string, dl Downloader, deletions *DeletionQueue, safety config.SafetyConfig, logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		ledger:     ledger,
		root:       root,
		dl:         dl,
		deletions:  deletions,
		safety:     safety,
		logger:     logger,
		skipped:    make(map[string]struct{}),
		statfsFunc: getDiskSpace,
	}
}

// ResetSkipped clears the skipped-items set. Called once at the start of
// every sync pass — the set never survives across passes.
func (rc *Reconciler) ResetSkipped() {
	rc.skipped = make(map[string]struct{})
}

// rootID returns the drive root item's id, loading it from the ledger on
// first use and caching it for the life of the Reconciler.
func (rc *Reconciler) rootID(ctx context.Context) (string, error) {
	if rc.rootItemID != "" {
		return rc.rootItemID, nil
	}

	id, err := rc.ledger.GetRootItemID(ctx)
	if err != nil {
		return "", err
	}

	rc.rootItemID = id

	return id, nil
}

// ApplyItem processes a single remote item from a delta page, following
// the classify -> probe -> apply procedure: look up any existing row,
// discard it as "not cached" if the local object no longer matches it,
// branch on the item's classification, check for an unsupported-parent
// orphan, persist the new row, and apply the result to the filesystem.
// A failure during application rolls back the just-written row so the
// next pass sees the item as never having been indexed.
func (rc *Reconciler) ApplyItem(ctx context.Context, it graph.Item) error {
	id := it.ID

	existing, err := rc.ledger.GetByID(ctx, id)
	if err != nil {
		return newSyncError(KindFilesystem, "applyItem", "", fmt.Errorf("looking up %s: %w", id, err))
	}

	cached := existing

	var oldPath string

	if existing != nil {
		oldPath, err = rc.localPath(ctx, id)
		if err != nil {
			return newSyncError(KindFilesystem, "applyItem", "", err)
		}

		if !IsSynced(oldPath, *existing) {
			if err := SafeRename(oldPath, rc.logger); err != nil {
				return newSyncError(KindFilesystem, "applyItem", oldPath, err)
			}

			cached = nil
		}
	}

	switch it.Kind {
	case graph.KindDeleted:
		if existing != nil {
			rc.deletions.Enqueue(oldPath)
		}

		if err := rc.ledger.DeleteByID(ctx, id); err != nil {
			return newSyncError(KindFilesystem, "applyItem", "", err)
		}

		return nil

	case graph.KindRoot:
		// The drive root has no row (its real children report the root's
		// own id as their parent, which is rewritten to an empty parent_id
		// once that id is known). Skip indexing it
		// outright rather than marking it skipped, or its children
		// would inherit the skip through the parent-skip check below.
		// Persist its id so later pages can recognize top-level items.
		rc.logger.Debug("skipping root item", slog.String("item_id", id))

		if err := rc.ledger.SaveRootItemID(ctx, id); err != nil {
			return newSyncError(KindFilesystem, "applyItem", "", err)
		}

		rc.rootItemID = id

		return nil

	case graph.KindUnsupported:
		rc.skipped[id] = struct{}{}
		return nil
	}

	rootID, err := rc.rootID(ctx)
	if err != nil {
		return newSyncError(KindFilesystem, "applyItem", "", err)
	}

	parentID := it.ParentID
	if rootID != "" && parentID == rootID {
		parentID = ""
	}

	if parentID != "" {
		if _, parentSkipped := rc.skipped[parentID]; parentSkipped {
			rc.skipped[id] = struct{}{}
			return nil
		}
	}

	itemType := ItemFile
	if it.Kind == graph.KindFolder {
		itemType = ItemFolder
	}

	if err := rc.ledger.Upsert(ctx, Item{
		ID:       id,
		Name:     it.Name,
		Type:     itemType,
		ETag:     it.ETag,
		CTag:     it.CTag,
		Mtime:    it.Mtime,
		ParentID: parentID,
		CRC32:    it.CRC32,
	}); err != nil {
		return newSyncError(KindFilesystem, "applyItem", "", err)
	}

	n, err := rc.ledger.GetByID(ctx, id)
	if err != nil || n == nil {
		return newSyncError(KindFilesystem, "applyItem", "", fmt.Errorf("re-reading upserted row %s: %w", id, err))
	}

	newPath, err := rc.localPath(ctx, id)
	if err != nil {
		rc.ledger.DeleteByID(ctx, id)
		return newSyncError(KindFilesystem, "applyItem", "", err)
	}

	var applyErr error
	if cached == nil {
		applyErr = rc.applyNew(ctx, *n, newPath)
	} else {
		applyErr = rc.applyChanged(ctx, *cached, *n, oldPath, newPath)
	}

	if applyErr != nil {
		if delErr := rc.ledger.DeleteByID(ctx, id); delErr != nil {
			rc.logger.Error("rollback of index row failed", slog.String("item_id", id), slog.Any("error", delErr))
		}

		return applyErr
	}

	return nil
}

// applyNew brings a never-before-indexed item onto disk at localPath.
func (rc *Reconciler) applyNew(ctx context.Context, n Item, localPath string) error {
	if IsSynced(localPath, n) {
		return rc.forceMtime(localPath, n.Mtime, "applyNew")
	}

	if _, err := os.Lstat(localPath); err == nil {
		if err := SafeRename(localPath, rc.logger); err != nil {
			return newSyncError(KindFilesystem, "applyNew", localPath, err)
		}
	}

	switch n.Type {
	case ItemFile:
		if err := rc.downloadTo(ctx, n.ID, localPath); err != nil {
			return newSyncError(KindTransport, "applyNew", localPath, err)
		}
	case ItemFolder:
		if err := os.MkdirAll(localPath, 0o755); err != nil {
			return newSyncError(KindFilesystem, "applyNew", localPath, err)
		}
	}

	return rc.forceMtime(localPath, n.Mtime, "applyNew")
}

// applyChanged reconciles a previously-indexed item whose row just moved
// from r to n. Assumes r.Type == n.Type and that oldPath still exists.
func (rc *Reconciler) applyChanged(ctx context.Context, r, n Item, oldPath, newPath string) error {
	if r.ETag == n.ETag {
		return nil
	}

	if oldPath != newPath {
		if _, err := os.Lstat(newPath); err == nil {
			if err := SafeRename(newPath, rc.logger); err != nil {
				return newSyncError(KindFilesystem, "applyChanged", newPath, err)
			}
		}

		if err := os.Rename(oldPath, newPath); err != nil {
			return newSyncError(KindFilesystem, "applyChanged", newPath, err)
		}
	}

	if n.Type == ItemFile && r.CTag != n.CTag {
		if err := rc.downloadTo(ctx, n.ID, newPath); err != nil {
			return newSyncError(KindTransport, "applyChanged", newPath, err)
		}
	}

	return rc.forceMtime(newPath, n.Mtime, "applyChanged")
}

func (rc *Reconciler) downloadTo(ctx context.Context, id, localPath string) error {
	if err := rc.checkDiskSpace(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}

	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := rc.dl.DownloadByID(ctx, id, f)
	if err != nil {
		return err
	}

	return rc.ledger.AddBytesTransferred(ctx, n)
}

// checkDiskSpace refuses to start a download when root's volume has
// safety.min_free_space or less available. A min_free_space of "" or "0"
// disables the check.
func (rc *Reconciler) checkDiskSpace() error {
	minFree, err := config.ParseSize(rc.safety.MinFreeSpace)
	if err != nil || minFree == 0 {
		return nil
	}

	available, err := rc.statfsFunc(rc.root)
	if err != nil {
		return fmt.Errorf("checking disk space for %q: %w", rc.root, err)
	}

	if available <= uint64(minFree) {
		rc.logger.Error("refusing download, insufficient disk space",
			slog.Uint64("available_bytes", available),
			slog.Int64("min_free_space_bytes", minFree),
		)

		return fmt.Errorf("%w: %s available, %s required",
			ErrInsufficientDiskSpace, humanize.Bytes(available), humanize.Bytes(uint64(minFree)))
	}

	return nil
}

func (rc *Reconciler) forceMtime(localPath string, mtime time.Time, op string) error {
	t := truncateToSecond(mtime)

	if err := os.Chtimes(localPath, t, t); err != nil {
		return newSyncError(KindFilesystem, op, localPath, err)
	}

	return nil
}

// localPath resolves id's sync-root-relative path, via the ledger's
// parent chain, to an absolute local path.
func (rc *Reconciler) localPath(ctx context.Context, id string) (string, error) {
	rel, err := rc.ledger.PathFor(ctx, id)
	if err != nil {
		return "", err
	}

	return filepath.Join(rc.root, rel), nil
}
