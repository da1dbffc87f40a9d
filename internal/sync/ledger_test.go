package sync

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	ledger, err := OpenLedger(context.Background(), ":memory:", slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() { ledger.Close() })

	return ledger
}

func TestLedger_UpsertAndGetByID(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	mtime := time.Now().Truncate(time.Second)

	item := Item{
		ID: "item-1", Name: "report.docx", Type: ItemFile,
		ETag: "etag-1", CTag: "ctag-1", Mtime: mtime, ParentID: "", CRC32: "abc123",
	}

	require.NoError(t, ledger.Upsert(ctx, item))

	got, err := ledger.GetByID(ctx, "item-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, item.Name, got.Name)
	require.Equal(t, item.ETag, got.ETag)
	require.True(t, mtime.Equal(got.Mtime))

	missing, err := ledger.GetByID(ctx, "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestLedger_UpsertReplacesExistingRow(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	base := Item{ID: "item-1", Name: "a.txt", Type: ItemFile, ETag: "e1", Mtime: time.Now()}
	require.NoError(t, ledger.Upsert(ctx, base))

	updated := base
	updated.ETag = "e2"
	updated.Name = "b.txt"
	require.NoError(t, ledger.Upsert(ctx, updated))

	got, err := ledger.GetByID(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, "e2", got.ETag)
	require.Equal(t, "b.txt", got.Name)
}

func TestLedger_GetByPathWalksParentChain(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Upsert(ctx, Item{ID: "folder-1", Name: "docs", Type: ItemFolder, Mtime: time.Now()}))
	require.NoError(t, ledger.Upsert(ctx, Item{
		ID: "file-1", Name: "a.txt", Type: ItemFile, ParentID: "folder-1", Mtime: time.Now(),
	}))

	got, err := ledger.GetByPath(ctx, "docs/a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "file-1", got.ID)

	missing, err := ledger.GetByPath(ctx, "docs/missing.txt")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestLedger_PathFor(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Upsert(ctx, Item{ID: "folder-1", Name: "docs", Type: ItemFolder, Mtime: time.Now()}))
	require.NoError(t, ledger.Upsert(ctx, Item{
		ID: "folder-2", Name: "2026", Type: ItemFolder, ParentID: "folder-1", Mtime: time.Now(),
	}))
	require.NoError(t, ledger.Upsert(ctx, Item{
		ID: "file-1", Name: "a.txt", Type: ItemFile, ParentID: "folder-2", Mtime: time.Now(),
	}))

	path, err := ledger.PathFor(ctx, "file-1")
	require.NoError(t, err)
	require.Equal(t, "docs/2026/a.txt", path)

	rootPath, err := ledger.PathFor(ctx, "folder-1")
	require.NoError(t, err)
	require.Equal(t, "docs", rootPath)
}

func TestLedger_PathForParentForUnindexedChild(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Upsert(ctx, Item{ID: "folder-1", Name: "docs", Type: ItemFolder, Mtime: time.Now()}))

	path, err := ledger.PathForParent(ctx, "folder-1", "new.txt")
	require.NoError(t, err)
	require.Equal(t, "docs/new.txt", path)

	rootChild, err := ledger.PathForParent(ctx, "", "top.txt")
	require.NoError(t, err)
	require.Equal(t, "top.txt", rootChild)
}

func TestLedger_DeltaTokenRoundTrip(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	token, err := ledger.GetDeltaToken(ctx)
	require.NoError(t, err)
	require.Empty(t, token)

	require.NoError(t, ledger.SaveDeltaToken(ctx, "cursor-1"))

	token, err = ledger.GetDeltaToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "cursor-1", token)

	require.NoError(t, ledger.SaveDeltaToken(ctx, "cursor-2"))

	token, err = ledger.GetDeltaToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "cursor-2", token)
}

func TestLedger_Reset(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Upsert(ctx, Item{ID: "item-1", Name: "a.txt", Type: ItemFile, Mtime: time.Now()}))
	require.NoError(t, ledger.SaveDeltaToken(ctx, "cursor-1"))

	require.NoError(t, ledger.Reset(ctx))

	item, err := ledger.GetByID(ctx, "item-1")
	require.NoError(t, err)
	require.Nil(t, item)

	token, err := ledger.GetDeltaToken(ctx)
	require.NoError(t, err)
	require.Empty(t, token)
}

func TestLedger_AllEnumeratesEveryRow(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Upsert(ctx, Item{ID: "item-1", Name: "a.txt", Type: ItemFile, Mtime: time.Now()}))
	require.NoError(t, ledger.Upsert(ctx, Item{ID: "item-2", Name: "b.txt", Type: ItemFile, Mtime: time.Now()}))

	items, err := ledger.All(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
}
