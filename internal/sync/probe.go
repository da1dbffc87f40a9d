package sync

import (
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"time"
)

// IsSynced reports whether the local object at the item's derived path
// still matches the indexed row. mtime is checked before content hashing
// to avoid rehashing on every pass.
func IsSynced(localPath string, row Item) bool {
	info, err := os.Lstat(localPath)
	if err != nil {
		return false
	}

	switch row.Type {
	case ItemFolder:
		return info.IsDir()
	case ItemFile:
		if !info.Mode().IsRegular() {
			return false
		}

		if mtimeEqual(info.ModTime(), row.Mtime) {
			return true
		}

		if row.CRC32 == "" {
			return false
		}

		sum, err := fileCRC32(localPath)
		if err != nil {
			return false
		}

		return sum == row.CRC32
	default:
		return false
	}
}

// fileCRC32 computes the hex-encoded IEEE CRC32 of a file's contents.
// OneDrive's reported crc32Hash is exactly this algorithm over the file
// bytes, so no third-party hash library is needed here.
func fileCRC32(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return fmt.Sprintf("%08x", h.Sum32()), nil
}

// safeRenameMaxAttempts bounds the suffix search in SafeRename so a
// pathological case (thousands of stale collisions) cannot loop forever.
const safeRenameMaxAttempts = 1000

// SafeRename moves the local object currently at path out of the way,
// appending a disambiguating suffix. Used whenever the engine must place
// an item at a path already occupied by something it cannot prove is the
// same item — the occupant is preserved rather than overwritten.
func SafeRename(path string, logger *slog.Logger) error {
	for i := 1; i <= safeRenameMaxAttempts; i++ {
		candidate := fmt.Sprintf("%s.conflict-%d-%d", path, time.Now().Unix(), i)

		if _, err := os.Lstat(candidate); err == nil {
			continue
		}

		if err := os.Rename(path, candidate); err != nil {
			return fmt.Errorf("sync: safe rename %s: %w", path, err)
		}

		logger.Warn("renamed occupant aside", slog.String("from", path), slog.String("to", candidate))

		return nil
	}

	return fmt.Errorf("sync: safe rename %s: exhausted %d candidate suffixes", path, safeRenameMaxAttempts)
}
