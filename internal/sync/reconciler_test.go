package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/student/odsync/internal/graph"
)

type fakeDownloader struct {
	content map[string][]byte
	err     error
	calls   int
}

func (f *fakeDownloader) DownloadByID(_ context.Context, id string, w io.Writer) (int64, error) {
	f.calls++

	if f.err != nil {
		return 0, f.err
	}

	body, ok := f.content[id]
	if !ok {
		return 0, errors.New("no content registered for id")
	}

	n, err := w.Write(body)

	return int64(n), err
}

func newTestReconciler(t *testing.T, dl Downloader) (*Reconciler, *Ledger, string) {
	t.Helper()

	root := t.TempDir()
	ledger := newTestLedger(t)
	deletions := NewDeletionQueue(testSafetyConfig(), ledger, slog.Default())

	return NewReconciler(ledger, root, dl, deletions, testSafetyConfig(), slog.Default()), ledger, root
}

func TestApplyItem_NewFile(t *testing.T) {
	dl := &fakeDownloader{content: map[string][]byte{"file-1": []byte("hello world")}}
	rc, ledger, root := newTestReconciler(t, dl)
	ctx := context.Background()

	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{
		ID: "file-1", Name: "a.txt", Kind: graph.KindFile, ETag: "e1", CTag: "c1", Mtime: mtime,
	}))

	body, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))

	row, err := ledger.GetByID(ctx, "file-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "e1", row.ETag)
}

func TestApplyItem_NewFolder(t *testing.T) {
	rc, _, root := newTestReconciler(t, &fakeDownloader{})
	ctx := context.Background()

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{
		ID: "folder-1", Name: "docs", Kind: graph.KindFolder, ETag: "e1", Mtime: time.Now(),
	}))

	info, err := os.Stat(filepath.Join(root, "docs"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestApplyItem_UnsupportedIsSkippedNotIndexed(t *testing.T) {
	rc, ledger, _ := newTestReconciler(t, &fakeDownloader{})
	ctx := context.Background()

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{ID: "weird-1", Kind: graph.KindUnsupported}))

	_, skipped := rc.skipped["weird-1"]
	require.True(t, skipped)

	row, err := ledger.GetByID(ctx, "weird-1")
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestApplyItem_OrphanOfSkippedParentIsAlsoSkipped(t *testing.T) {
	rc, ledger, _ := newTestReconciler(t, &fakeDownloader{})
	ctx := context.Background()

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{ID: "weird-1", Kind: graph.KindUnsupported}))

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{
		ID: "child-1", Name: "child.txt", Kind: graph.KindFile, ParentID: "weird-1", Mtime: time.Now(),
	}))

	_, skipped := rc.skipped["child-1"]
	require.True(t, skipped)

	row, err := ledger.GetByID(ctx, "child-1")
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestApplyItem_DeletedRemovesFileAndRow(t *testing.T) {
	dl := &fakeDownloader{content: map[string][]byte{"file-1": []byte("hello")}}
	rc, ledger, root := newTestReconciler(t, dl)
	ctx := context.Background()

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{
		ID: "file-1", Name: "a.txt", Kind: graph.KindFile, ETag: "e1", Mtime: time.Now(),
	}))

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{ID: "file-1", Kind: graph.KindDeleted}))

	require.NoError(t, rc.deletions.Drain(ctx))

	_, err := os.Lstat(filepath.Join(root, "a.txt"))
	require.True(t, os.IsNotExist(err))

	row, err := ledger.GetByID(ctx, "file-1")
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestApplyItem_ChangedSameETagIsNoop(t *testing.T) {
	dl := &fakeDownloader{content: map[string][]byte{"file-1": []byte("v1")}}
	rc, _, root := newTestReconciler(t, dl)
	ctx := context.Background()

	mtime := time.Now().Truncate(time.Second)

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{
		ID: "file-1", Name: "a.txt", Kind: graph.KindFile, ETag: "e1", CTag: "c1", Mtime: mtime,
	}))
	require.Equal(t, 1, dl.calls)

	// A redundant delta entry reporting the exact same version should not
	// touch the filesystem at all.
	require.NoError(t, rc.ApplyItem(ctx, graph.Item{
		ID: "file-1", Name: "a.txt", Kind: graph.KindFile, ETag: "e1", CTag: "c1", Mtime: mtime,
	}))
	require.Equal(t, 1, dl.calls)

	body, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(body))
}

func TestApplyItem_ChangedContentRedownloadsOnCTagChange(t *testing.T) {
	dl := &fakeDownloader{content: map[string][]byte{"file-1": []byte("v1")}}
	rc, _, root := newTestReconciler(t, dl)
	ctx := context.Background()

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{
		ID: "file-1", Name: "a.txt", Kind: graph.KindFile, ETag: "e1", CTag: "c1", Mtime: time.Now(),
	}))

	dl.content["file-1"] = []byte("v2")

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{
		ID: "file-1", Name: "a.txt", Kind: graph.KindFile, ETag: "e2", CTag: "c2", Mtime: time.Now(),
	}))

	body, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(body))
}

func TestApplyItem_RenameMovesFileWithoutRedownload(t *testing.T) {
	dl := &fakeDownloader{content: map[string][]byte{"file-1": []byte("v1")}}
	rc, _, root := newTestReconciler(t, dl)
	ctx := context.Background()

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{
		ID: "file-1", Name: "a.txt", Kind: graph.KindFile, ETag: "e1", CTag: "c1", Mtime: time.Now(),
	}))

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{
		ID: "file-1", Name: "b.txt", Kind: graph.KindFile, ETag: "e2", CTag: "c1", Mtime: time.Now(),
	}))

	_, err := os.Lstat(filepath.Join(root, "a.txt"))
	require.True(t, os.IsNotExist(err))

	body, err := os.ReadFile(filepath.Join(root, "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(body))
}

func TestApplyItem_DownloadFailureRollsBackRow(t *testing.T) {
	dl := &fakeDownloader{err: errors.New("network down")}
	rc, ledger, _ := newTestReconciler(t, dl)
	ctx := context.Background()

	err := rc.ApplyItem(ctx, graph.Item{
		ID: "file-1", Name: "a.txt", Kind: graph.KindFile, ETag: "e1", Mtime: time.Now(),
	})
	require.Error(t, err)

	row, getErr := ledger.GetByID(ctx, "file-1")
	require.NoError(t, getErr)
	require.Nil(t, row)
}

func TestApplyItem_LocallyModifiedFileIsRenamedAsideBeforeReacquire(t *testing.T) {
	dl := &fakeDownloader{content: map[string][]byte{"file-1": []byte("remote content")}}
	rc, _, root := newTestReconciler(t, dl)
	ctx := context.Background()

	oldMtime := time.Now().Add(-time.Hour).Truncate(time.Second)

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{
		ID: "file-1", Name: "a.txt", Kind: graph.KindFile, ETag: "e1", CTag: "c1", Mtime: oldMtime,
	}))

	localPath := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("locally edited, untracked"), 0o644))

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{
		ID: "file-1", Name: "a.txt", Kind: graph.KindFile, ETag: "e2", CTag: "c2", Mtime: time.Now(),
	}))

	body, err := os.ReadFile(localPath)
	require.NoError(t, err)
	require.Equal(t, "remote content", string(body))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestApplyItem_RootItemIsNotIndexed(t *testing.T) {
	rc, ledger, _ := newTestReconciler(t, &fakeDownloader{})
	ctx := context.Background()

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{ID: "root-id", Name: "root", Kind: graph.KindRoot}))

	row, err := ledger.GetByID(ctx, "root-id")
	require.NoError(t, err)
	require.Nil(t, row)

	id, err := ledger.GetRootItemID(ctx)
	require.NoError(t, err)
	require.Equal(t, "root-id", id)
}

func TestApplyItem_TopLevelItemParentedOnRootIsStoredAtSyncRoot(t *testing.T) {
	rc, ledger, root := newTestReconciler(t, &fakeDownloader{})
	ctx := context.Background()

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{ID: "root-id", Name: "root", Kind: graph.KindRoot}))

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{
		ID: "folder-1", Name: "docs", Kind: graph.KindFolder, ParentID: "root-id", ETag: "e1", Mtime: time.Now(),
	}))

	row, err := ledger.GetByID(ctx, "folder-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "", row.ParentID)

	info, err := os.Stat(filepath.Join(root, "docs"))
	require.NoError(t, err)
	require.True(t, info.IsDir())

	path, err := ledger.PathFor(ctx, "folder-1")
	require.NoError(t, err)
	require.Equal(t, "docs", path)
}

func TestApplyItem_TopLevelItemReportedBeforeRootIsNotYetNormalized(t *testing.T) {
	rc, ledger, _ := newTestReconciler(t, &fakeDownloader{})
	ctx := context.Background()

	// A page can report the root after its own children; the reconciler
	// can't retroactively fix up rows indexed before it learned the root's
	// id, but once it does, later items normalize correctly.
	require.NoError(t, rc.ApplyItem(ctx, graph.Item{
		ID: "folder-1", Name: "docs", Kind: graph.KindFolder, ParentID: "root-id", ETag: "e1", Mtime: time.Now(),
	}))

	row, err := ledger.GetByID(ctx, "folder-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "root-id", row.ParentID)

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{ID: "root-id", Name: "root", Kind: graph.KindRoot}))

	require.NoError(t, rc.ApplyItem(ctx, graph.Item{
		ID: "folder-2", Name: "photos", Kind: graph.KindFolder, ParentID: "root-id", ETag: "e1", Mtime: time.Now(),
	}))

	row2, err := ledger.GetByID(ctx, "folder-2")
	require.NoError(t, err)
	require.NotNil(t, row2)
	require.Equal(t, "", row2.ParentID)
}

func TestApplyItem_RefusesDownloadBelowMinFreeSpace(t *testing.T) {
	dl := &fakeDownloader{content: map[string][]byte{"file-1": []byte("hello world")}}
	rc, ledger, _ := newTestReconciler(t, dl)
	rc.safety.MinFreeSpace = "1GB"
	rc.statfsFunc = func(_ string) (uint64, error) {
		return 500_000_000, nil // 500 MB, below the 1 GB minimum
	}

	ctx := context.Background()

	err := rc.ApplyItem(ctx, graph.Item{
		ID: "file-1", Name: "a.txt", Kind: graph.KindFile, ETag: "e1", CTag: "c1", Mtime: time.Now(),
	})
	require.ErrorIs(t, err, ErrInsufficientDiskSpace)
	require.Zero(t, dl.calls)

	row, getErr := ledger.GetByID(ctx, "file-1")
	require.NoError(t, getErr)
	require.Nil(t, row)
}
