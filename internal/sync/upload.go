package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/student/odsync/internal/graph"
)

// Uploader is the subset of the remote client the upload reconciler
// needs. Satisfied by *graph.Client.
type Uploader interface {
	SimpleUpload(ctx context.Context, localPath, remotePath, ifMatch string) (*graph.Item, error)
	UpdateByID(ctx context.Context, id string, patch graph.PatchFields, ifMatch string) (*graph.Item, error)
	DeleteByID(ctx context.Context, id, ifMatch string) error
	CreateByPath(ctx context.Context, parentPath, name string) (*graph.Item, error)
}

// UploadReconciler drives the upload side of a sync pass: it compares
// every indexed row against the local filesystem and pushes whatever has
// drifted, then walks the local tree for entries the index has never
// seen and creates them remotely.
type UploadReconciler struct {
	ledger      *Ledger
	root        string
	remote      Uploader
	concurrency int64
	logger      *slog.Logger
}

// NewUploadReconciler builds an UploadReconciler rooted at root. concurrency
// bounds how many independent file transfers the unindexed-entry discovery
// phase runs at once; the indexed-row scan and the directory walk itself
// stay strictly sequential — only the leaf file transfers they discover,
// which have no ordering relationship with each other, run concurrently.
func NewUploadReconciler(ledger *Ledger, root string, remote Uploader, concurrency int64, logger *slog.Logger) *UploadReconciler {
	return &UploadReconciler{ledger: ledger, root: root, remote: remote, concurrency: concurrency, logger: logger}
}

// UploadDifferences runs a full pass: every indexed row is checked
// against the filesystem, then the local tree is walked for anything the
// index has never seen.
func (ur *UploadReconciler) UploadDifferences(ctx context.Context) error {
	rows, err := ur.ledger.All(ctx)
	if err != nil {
		return newSyncError(KindFilesystem, "uploadDifferences", "", err)
	}

	for _, r := range rows {
		if err := ur.uploadDiff(ctx, r); err != nil {
			return err
		}
	}

	pool := newTransferPool(ctx, ur.concurrency)

	if err := ur.walkUnindexed(ctx, pool, ur.root, ""); err != nil {
		return err
	}

	return pool.wait()
}

// UploadSubtree walks only the local tree rooted at absPath: indexed
// files are diffed, unindexed files are created remotely. Directories
// themselves are not created remotely by this walk; only the files
// underneath them are uploaded, each by its full relative path.
func (ur *UploadReconciler) UploadSubtree(ctx context.Context, absPath string) error {
	info, err := os.Lstat(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return newSyncError(KindFilesystem, "uploadSubtree", absPath, err)
	}

	relPath, err := ur.relPath(absPath)
	if err != nil {
		return newSyncError(KindFilesystem, "uploadSubtree", absPath, err)
	}

	if info.IsDir() {
		return ur.walkSubtreeDir(ctx, absPath, relPath)
	}

	return ur.uploadSubtreeFile(ctx, absPath, relPath)
}

func (ur *UploadReconciler) walkSubtreeDir(ctx context.Context, absDir, relDir string) error {
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return newSyncError(KindFilesystem, "uploadSubtree", absDir, err)
	}

	for _, entry := range entries {
		childAbs := filepath.Join(absDir, entry.Name())
		childRel := path.Join(relDir, normalizeName(entry.Name()))

		if entry.IsDir() {
			if err := ur.walkSubtreeDir(ctx, childAbs, childRel); err != nil {
				return err
			}

			continue
		}

		if err := ur.uploadSubtreeFile(ctx, childAbs, childRel); err != nil {
			return err
		}
	}

	return nil
}

func (ur *UploadReconciler) uploadSubtreeFile(ctx context.Context, absPath, relPath string) error {
	existing, err := ur.ledger.GetByPath(ctx, relPath)
	if err != nil {
		return newSyncError(KindFilesystem, "uploadSubtree", absPath, err)
	}

	if existing == nil {
		return ur.uploadNewFile(ctx, absPath)
	}

	return ur.uploadItemDiff(ctx, *existing, absPath)
}

// walkUnindexed recurses through the local tree, creating remotely
// anything the index does not already know about. Indexed directories
// are still recursed into, since new entries can appear underneath them
// between passes.
func (ur *UploadReconciler) walkUnindexed(ctx context.Context, pool *transferPool, absDir, relDir string) error {
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return newSyncError(KindFilesystem, "uploadDifferences", absDir, err)
	}

	for _, entry := range entries {
		childAbs := filepath.Join(absDir, entry.Name())
		childRel := path.Join(relDir, normalizeName(entry.Name()))

		existing, err := ur.ledger.GetByPath(ctx, childRel)
		if err != nil {
			return newSyncError(KindFilesystem, "uploadDifferences", childAbs, err)
		}

		if existing == nil {
			if entry.IsDir() {
				if err := ur.uploadCreateDir(ctx, childAbs); err != nil {
					return err
				}
			} else {
				pool.submit(func() error { return ur.uploadNewFile(ctx, childAbs) })

				continue
			}
		}

		if entry.IsDir() {
			if err := ur.walkUnindexed(ctx, pool, childAbs, childRel); err != nil {
				return err
			}
		}
	}

	return nil
}

// uploadDiff decides what, if anything, a single indexed row needs
// pushed, based on what currently sits at its local path.
func (ur *UploadReconciler) uploadDiff(ctx context.Context, r Item) error {
	absPath, err := ur.localPathFor(ctx, r.ID)
	if err != nil {
		return newSyncError(KindFilesystem, "uploadDiff", "", err)
	}

	info, err := os.Lstat(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return ur.uploadDelete(ctx, r)
	}
	if err != nil {
		return newSyncError(KindFilesystem, "uploadDiff", absPath, err)
	}

	switch r.Type {
	case ItemFile:
		if info.IsDir() {
			if err := ur.uploadDelete(ctx, r); err != nil {
				return err
			}

			return ur.uploadCreateDir(ctx, absPath)
		}

		return ur.uploadItemDiff(ctx, r, absPath)

	default: // ItemFolder
		if !info.IsDir() {
			if err := ur.uploadDelete(ctx, r); err != nil {
				return err
			}

			return ur.uploadNewFile(ctx, absPath)
		}

		return nil
	}
}

// uploadItemDiff pushes a file's content and/or mtime when they have
// drifted from the indexed row. mtime is compared first — a touch with
// no content change still needs its mtime pushed, but does not need a
// re-upload.
func (ur *UploadReconciler) uploadItemDiff(ctx context.Context, r Item, absPath string) error {
	info, err := os.Stat(absPath)
	if err != nil {
		return newSyncError(KindFilesystem, "uploadItemDiff", absPath, err)
	}

	if mtimeEqual(info.ModTime(), r.Mtime) {
		return nil
	}

	etag := r.ETag

	sum, err := fileCRC32(absPath)
	if err != nil {
		return newSyncError(KindFilesystem, "uploadItemDiff", absPath, err)
	}

	if r.CRC32 == "" || sum != r.CRC32 {
		remotePath, err := ur.ledger.PathForParent(ctx, r.ParentID, r.Name)
		if err != nil {
			return newSyncError(KindFilesystem, "uploadItemDiff", absPath, err)
		}

		uploaded, err := ur.remote.SimpleUpload(ctx, absPath, remotePath, r.ETag)
		if err != nil {
			return newSyncError(KindTransport, "uploadItemDiff", absPath, err)
		}

		if err := ur.saveItem(ctx, *uploaded); err != nil {
			return err
		}

		if err := ur.ledger.AddBytesTransferred(ctx, info.Size()); err != nil {
			return newSyncError(KindFilesystem, "uploadItemDiff", absPath, err)
		}

		etag = uploaded.ETag
	}

	return ur.pushMtime(ctx, r.ID, etag, info.ModTime())
}

// uploadNewFile uploads a local file the index has never seen, then
// pushes its mtime so the next pass sees it as already synced.
func (ur *UploadReconciler) uploadNewFile(ctx context.Context, absPath string) error {
	relPath, err := ur.relPath(absPath)
	if err != nil {
		return newSyncError(KindFilesystem, "uploadNewFile", absPath, err)
	}

	uploaded, err := ur.remote.SimpleUpload(ctx, absPath, relPath, "")
	if err != nil {
		return newSyncError(KindTransport, "uploadNewFile", absPath, err)
	}

	if err := ur.saveItem(ctx, *uploaded); err != nil {
		return err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return newSyncError(KindFilesystem, "uploadNewFile", absPath, err)
	}

	if err := ur.ledger.AddBytesTransferred(ctx, info.Size()); err != nil {
		return newSyncError(KindFilesystem, "uploadNewFile", absPath, err)
	}

	return ur.pushMtime(ctx, uploaded.ID, uploaded.ETag, info.ModTime())
}

// uploadCreateDir creates a remote folder mirroring a local directory the
// index has never seen.
func (ur *UploadReconciler) uploadCreateDir(ctx context.Context, absPath string) error {
	parentRel, err := ur.relPath(filepath.Dir(absPath))
	if err != nil {
		return newSyncError(KindFilesystem, "uploadCreateDir", absPath, err)
	}

	created, err := ur.remote.CreateByPath(ctx, parentRel, filepath.Base(absPath))
	if err != nil {
		return newSyncError(KindTransport, "uploadCreateDir", absPath, err)
	}

	return ur.saveItem(ctx, *created)
}

// uploadDelete removes a remote item whose local counterpart is gone.
func (ur *UploadReconciler) uploadDelete(ctx context.Context, r Item) error {
	if err := ur.remote.DeleteByID(ctx, r.ID, r.ETag); err != nil {
		return newSyncError(KindTransport, "uploadDelete", "", err)
	}

	if err := ur.ledger.DeleteByID(ctx, r.ID); err != nil {
		return newSyncError(KindFilesystem, "uploadDelete", "", err)
	}

	return nil
}

// MoveItem renames and/or reparents an indexed item to match a local
// rename from `from` to `to`, both sync-root-relative paths.
func (ur *UploadReconciler) MoveItem(ctx context.Context, from, to string) error {
	row, err := ur.ledger.GetByPath(ctx, from)
	if err != nil {
		return newSyncError(KindFilesystem, "moveItem", from, err)
	}
	if row == nil {
		return newSyncError(KindLogical, "moveItem", from, fmt.Errorf("no indexed item at %s", from))
	}

	newParent := path.Dir(to)
	if newParent == "." {
		newParent = ""
	}

	updated, err := ur.remote.UpdateByID(ctx, row.ID, graph.PatchFields{
		Name:       path.Base(to),
		ParentPath: &newParent,
	}, row.ETag)
	if err != nil {
		return newSyncError(KindTransport, "moveItem", to, err)
	}

	return ur.saveItem(ctx, *updated)
}

// DeleteByPath removes the remote item indexed at relPath. Called when a
// local delete could not be attributed to a row the caller already had
// in hand (e.g. the CLI's direct delete-by-path entry point). Deleting a
// path the index does not know about is a logical error, not retried.
func (ur *UploadReconciler) DeleteByPath(ctx context.Context, relPath string) error {
	row, err := ur.ledger.GetByPath(ctx, relPath)
	if err != nil {
		return newSyncError(KindFilesystem, "deleteByPath", relPath, err)
	}
	if row == nil {
		return newSyncError(KindLogical, "deleteByPath", relPath, fmt.Errorf("no indexed item at %s", relPath))
	}

	return ur.uploadDelete(ctx, *row)
}

// pushMtime patches an item's fileSystemInfo.lastModifiedDateTime to
// match the local file, guarded by ifMatch, and records the result.
func (ur *UploadReconciler) pushMtime(ctx context.Context, id, ifMatch string, mtime time.Time) error {
	updated, err := ur.remote.UpdateByID(ctx, id, graph.PatchFields{LastModifiedAt: mtime}, ifMatch)
	if err != nil {
		return newSyncError(KindTransport, "pushMtime", "", err)
	}

	return ur.saveItem(ctx, *updated)
}

// saveItem is the funnel every item-returning remote call in this file
// (upload, update, create) runs through: classify the response (already
// done by the graph client) and insert-or-replace the corresponding index
// row. uploadDelete removes its row directly instead.
func (ur *UploadReconciler) saveItem(ctx context.Context, it graph.Item) error {
	itemType := ItemFile
	if it.Kind == graph.KindFolder {
		itemType = ItemFolder
	}

	if err := ur.ledger.Upsert(ctx, Item{
		ID:       it.ID,
		Name:     it.Name,
		Type:     itemType,
		ETag:     it.ETag,
		CTag:     it.CTag,
		Mtime:    it.Mtime,
		ParentID: it.ParentID,
		CRC32:    it.CRC32,
	}); err != nil {
		return newSyncError(KindFilesystem, "saveItem", "", err)
	}

	return nil
}

func (ur *UploadReconciler) localPathFor(ctx context.Context, id string) (string, error) {
	rel, err := ur.ledger.PathFor(ctx, id)
	if err != nil {
		return "", err
	}

	return filepath.Join(ur.root, rel), nil
}

// relPath converts an absolute local path back to a sync-root-relative,
// slash-separated path suitable for ledger lookups and remote API calls.
func (ur *UploadReconciler) relPath(absPath string) (string, error) {
	rel, err := filepath.Rel(ur.root, absPath)
	if err != nil {
		return "", err
	}

	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", nil
	}

	return rel, nil
}
