package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the default config file content written on first run.
// Every setting except sync.dry_run and sync.shutdown_timeout is present as
// a commented-out default so users can discover options without reading docs.
const configTemplate = `# odsync configuration

sync_dir = %q

# ── Transfers ──
# [transfers]
# concurrency = 4

# ── Safety ──
# [safety]
# big_delete_threshold = 1000
# big_delete_percentage = 50
# big_delete_min_items = 10
# min_free_space = "1GB"

# ── Sync ──
# [sync]
# poll_interval = "5m"
# monitor = false
# notification_url = ""

# ── Logging ──
# [logging]
# log_level = "info"
# log_file = ""
# log_format = "auto"

# ── Network ──
# [network]
# connect_timeout = "10s"
# data_timeout = "60s"
# user_agent = ""
# force_http_11 = false
`

// WriteDefaultConfig creates a new config file from the default template,
// pre-filled with the given sync directory. Used on first run when no
// config file exists. The write is atomic (temp file + rename) and parent
// directories are created as needed.
func WriteDefaultConfig(path, syncDir string) error {
	slog.Info("creating default config file", slog.String("path", path), slog.String("sync_dir", syncDir))

	content := fmt.Sprintf(configTemplate, syncDir)

	return atomicWriteFile(path, []byte(content))
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. This prevents partial writes
// from corrupting the config file on crash. Parent directories are created
// as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
