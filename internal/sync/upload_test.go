package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/student/odsync/internal/graph"
)

type fakeUploader struct {
	nextID      int
	deletedIDs  []string
	deleteErr   error
	createErr   error
	uploadErr   error
	updateErr   error
	updateCalls []graph.PatchFields
	items       map[string]graph.Item // id -> item as the fake remote holds it
	pathIDs     map[string]string     // remote path -> id
}

func (f *fakeUploader) newID() string {
	f.nextID++

	return "remote-" + string(rune('a'+f.nextID))
}

// remember records an item the fake remote now holds at remotePath.
func (f *fakeUploader) remember(it graph.Item, remotePath string) *graph.Item {
	if f.items == nil {
		f.items = make(map[string]graph.Item)
		f.pathIDs = make(map[string]string)
	}

	f.items[it.ID] = it
	f.pathIDs[remotePath] = it.ID

	return &it
}

func (f *fakeUploader) SimpleUpload(_ context.Context, localPath, remotePath, _ string) (*graph.Item, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}

	body, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}

	return f.remember(graph.Item{
		ID: f.newID(), Name: filepath.Base(remotePath), Kind: graph.KindFile, ParentID: f.pathIDs[path.Dir(remotePath)],
		ETag: "etag-" + string(rune(len(body))), CTag: "ctag-1", Mtime: time.Now(),
	}, remotePath), nil
}

func (f *fakeUploader) UpdateByID(_ context.Context, id string, patch graph.PatchFields, _ string) (*graph.Item, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}

	f.updateCalls = append(f.updateCalls, patch)

	it, ok := f.items[id]
	if !ok {
		it = graph.Item{ID: id, Name: "unchanged.txt", Kind: graph.KindFile, CTag: "ctag-1"}
	}

	if patch.Name != "" {
		it.Name = patch.Name
	}

	it.ETag, it.Mtime = "etag-updated", patch.LastModifiedAt

	return &it, nil
}

func (f *fakeUploader) DeleteByID(_ context.Context, id, _ string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}

	f.deletedIDs = append(f.deletedIDs, id)

	return nil
}

func (f *fakeUploader) CreateByPath(_ context.Context, parentPath, name string) (*graph.Item, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}

	return f.remember(graph.Item{
		ID: f.newID(), Name: name, Kind: graph.KindFolder, ParentID: f.pathIDs[parentPath], ETag: "etag-dir", Mtime: time.Now(),
	}, path.Join(parentPath, name)), nil
}

func newTestUploader(t *testing.T, remote Uploader) (*UploadReconciler, *Ledger, string) {
	t.Helper()

	root := t.TempDir()
	ledger := newTestLedger(t)

	return NewUploadReconciler(ledger, root, remote, 4, slog.Default()), ledger, root
}

func TestUploadDifferences_DeletesRowWhenLocalFileGone(t *testing.T) {
	remote := &fakeUploader{}
	ur, ledger, _ := newTestUploader(t, remote)
	ctx := context.Background()

	require.NoError(t, ledger.Upsert(ctx, Item{ID: "file-1", Name: "a.txt", Type: ItemFile, ETag: "e1", Mtime: time.Now()}))

	require.NoError(t, ur.UploadDifferences(ctx))

	require.Contains(t, remote.deletedIDs, "file-1")

	row, err := ledger.GetByID(ctx, "file-1")
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestUploadDifferences_UploadsUnindexedFile(t *testing.T) {
	remote := &fakeUploader{}
	ur, ledger, root := newTestUploader(t, remote)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), []byte("fresh"), 0o644))

	require.NoError(t, ur.UploadDifferences(ctx))

	row, err := ledger.GetByPath(ctx, "new.txt")
	require.NoError(t, err)
	require.NotNil(t, row)
}

func TestUploadDifferences_CreatesUnindexedDirectoryAndRecurses(t *testing.T) {
	remote := &fakeUploader{}
	ur, ledger, root := newTestUploader(t, remote)
	ctx := context.Background()

	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "nested.txt"), []byte("x"), 0o644))

	require.NoError(t, ur.UploadDifferences(ctx))

	dirRow, err := ledger.GetByPath(ctx, "sub")
	require.NoError(t, err)
	require.NotNil(t, dirRow)
	require.Equal(t, ItemFolder, dirRow.Type)

	fileRow, err := ledger.GetByPath(ctx, "sub/nested.txt")
	require.NoError(t, err)
	require.NotNil(t, fileRow)
}

func TestUploadDiff_FileBecameDirectoryRecreatesAsDir(t *testing.T) {
	remote := &fakeUploader{}
	ur, ledger, root := newTestUploader(t, remote)
	ctx := context.Background()

	require.NoError(t, ledger.Upsert(ctx, Item{ID: "file-1", Name: "a", Type: ItemFile, ETag: "e1", Mtime: time.Now()}))
	require.NoError(t, os.Mkdir(filepath.Join(root, "a"), 0o755))

	require.NoError(t, ur.uploadDiff(ctx, Item{ID: "file-1", Name: "a", Type: ItemFile, ETag: "e1", Mtime: time.Now()}))

	require.Contains(t, remote.deletedIDs, "file-1")
}

func TestMoveItem_RenamesAndReparents(t *testing.T) {
	remote := &fakeUploader{}
	ur, ledger, _ := newTestUploader(t, remote)
	ctx := context.Background()

	require.NoError(t, ledger.Upsert(ctx, Item{ID: "file-1", Name: "a.txt", Type: ItemFile, ETag: "e1", Mtime: time.Now()}))

	require.NoError(t, ur.MoveItem(ctx, "a.txt", "archive/a.txt"))

	require.Len(t, remote.updateCalls, 1)
	require.Equal(t, "a.txt", remote.updateCalls[0].Name)
	require.NotNil(t, remote.updateCalls[0].ParentPath)
	require.Equal(t, "archive", *remote.updateCalls[0].ParentPath)
}

func TestMoveItem_ToRootSendsEmptyParentPath(t *testing.T) {
	remote := &fakeUploader{}
	ur, ledger, _ := newTestUploader(t, remote)
	ctx := context.Background()

	require.NoError(t, ledger.Upsert(ctx, Item{ID: "folder-1", Name: "archive", Type: ItemFolder, ETag: "e0", Mtime: time.Now()}))
	require.NoError(t, ledger.Upsert(ctx, Item{ID: "file-1", Name: "a.txt", Type: ItemFile, ParentID: "folder-1", ETag: "e1", Mtime: time.Now()}))

	require.NoError(t, ur.MoveItem(ctx, "archive/a.txt", "a.txt"))

	require.Len(t, remote.updateCalls, 1)
	require.Equal(t, "a.txt", remote.updateCalls[0].Name)
	require.NotNil(t, remote.updateCalls[0].ParentPath)
	require.Equal(t, "", *remote.updateCalls[0].ParentPath)
}

func TestMoveItem_UnindexedPathIsLogicalError(t *testing.T) {
	remote := &fakeUploader{}
	ur, _, _ := newTestUploader(t, remote)
	ctx := context.Background()

	err := ur.MoveItem(ctx, "nope.txt", "elsewhere.txt")
	require.Error(t, err)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	require.Equal(t, KindLogical, syncErr.Kind)
}

func TestDeleteByPath_UnindexedPathIsLogicalError(t *testing.T) {
	remote := &fakeUploader{}
	ur, _, _ := newTestUploader(t, remote)
	ctx := context.Background()

	err := ur.DeleteByPath(ctx, "nope.txt")
	require.Error(t, err)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	require.Equal(t, KindLogical, syncErr.Kind)
}

func TestDeleteByPath_RemovesIndexedItem(t *testing.T) {
	remote := &fakeUploader{}
	ur, ledger, _ := newTestUploader(t, remote)
	ctx := context.Background()

	require.NoError(t, ledger.Upsert(ctx, Item{ID: "file-1", Name: "a.txt", Type: ItemFile, ETag: "e1", Mtime: time.Now()}))

	require.NoError(t, ur.DeleteByPath(ctx, "a.txt"))

	require.Contains(t, remote.deletedIDs, "file-1")
}

func TestUploadDifferences_PropagatesUploadFailure(t *testing.T) {
	remote := &fakeUploader{uploadErr: errors.New("upload rejected")}
	ur, _, root := newTestUploader(t, remote)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), []byte("x"), 0o644))

	err := ur.UploadDifferences(ctx)
	require.Error(t, err)
}
