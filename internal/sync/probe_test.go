package sync

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSynced_Folder(t *testing.T) {
	dir := t.TempDir()
	folderPath := filepath.Join(dir, "notes")
	require.NoError(t, os.Mkdir(folderPath, 0o755))

	row := Item{Type: ItemFolder}

	assert.True(t, IsSynced(folderPath, row))
	assert.False(t, IsSynced(filepath.Join(dir, "missing"), row))
}

func TestIsSynced_FileByMtime(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("hello"), 0o644))

	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(filePath, mtime, mtime))

	row := Item{Type: ItemFile, Mtime: mtime}

	assert.True(t, IsSynced(filePath, row))
}

func TestIsSynced_FileByCRC32WhenMtimeDiffers(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("hello"), 0o644))

	sum, err := fileCRC32(filePath)
	require.NoError(t, err)

	row := Item{Type: ItemFile, Mtime: time.Now().Add(-24 * time.Hour), CRC32: sum}

	assert.True(t, IsSynced(filePath, row))
}

func TestIsSynced_FileMismatch(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("hello"), 0o644))

	row := Item{Type: ItemFile, Mtime: time.Now().Add(-24 * time.Hour), CRC32: "deadbeef"}

	assert.False(t, IsSynced(filePath, row))
}

func TestIsSynced_DirectoryMasqueradingAsFile(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "a.txt")
	require.NoError(t, os.Mkdir(sub, 0o755))

	row := Item{Type: ItemFile}

	assert.False(t, IsSynced(sub, row))
}

func TestSafeRename_MovesOccupantAside(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "conflict.txt")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0o644))

	require.NoError(t, SafeRename(target, slog.Default()))

	_, err := os.Lstat(target)
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "conflict.txt.conflict-")
}

func TestSafeRename_MissingSourceIsError(t *testing.T) {
	dir := t.TempDir()

	err := SafeRename(filepath.Join(dir, "nope.txt"), slog.Default())

	assert.Error(t, err)
}
