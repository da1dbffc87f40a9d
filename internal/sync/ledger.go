package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"
)

const walJournalSizeLimit = 67108864

const deltaTokenKey = "delta_cursor"

const bytesTransferredKey = "bytes_transferred"

const rootItemIDKey = "root_item_id"

// Ledger is the persistent index: one row per tracked remote item, plus a
// single stored delta cursor. It is the only thing the reconciler, the
// upload walker, and the engine facade share state through.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenLedger opens (creating if absent) the SQLite database at dbPath,
// applies pending schema migrations, and returns a ready Ledger. Use
// ":memory:" for tests.
func OpenLedger(ctx context.Context, dbPath string, logger *slog.Logger) (*Ledger, error) {
	logger.Info("opening ledger database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sync: open ledger database: %w", err)
	}

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("ledger database ready", slog.String("path", dbPath))

	return &Ledger{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// setPragmas configures SQLite for WAL mode and crash safety.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("sync: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", slog.String("pragma", p.desc))
	}

	return nil
}

const itemColumns = `id, name, kind, etag, ctag, mtime, parent_id, crc32`

// Upsert inserts item, or replaces the existing row with the same id.
func (l *Ledger) Upsert(ctx context.Context, item Item) error {
	const q = `
		INSERT INTO items (` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name      = excluded.name,
			kind      = excluded.kind,
			etag      = excluded.etag,
			ctag      = excluded.ctag,
			mtime     = excluded.mtime,
			parent_id = excluded.parent_id,
			crc32     = excluded.crc32`

	_, err := l.db.ExecContext(ctx, q,
		item.ID, normalizeName(item.Name), string(item.Type), item.ETag, item.CTag,
		item.Mtime.Unix(), item.ParentID, item.CRC32,
	)
	if err != nil {
		return fmt.Errorf("sync: upsert item %s: %w", item.ID, err)
	}

	return nil
}

// DeleteByID removes the row for id, if present. Deleting an absent id is
// not an error.
func (l *Ledger) DeleteByID(ctx context.Context, id string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sync: delete item %s: %w", id, err)
	}

	return nil
}

// GetByID returns the row for id, or (nil, nil) if no such row exists.
func (l *Ledger) GetByID(ctx context.Context, id string) (*Item, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sync: get item %s: %w", id, err)
	}

	return item, nil
}

// GetByPath resolves a sync-root-relative path ("" for the root, or
// "a/b/c.txt") to its indexed row by walking one directory level at a
// time, following parent_id/name pairs. Returns (nil, nil) if any segment
// is not indexed.
func (l *Ledger) GetByPath(ctx context.Context, relPath string) (*Item, error) {
	parentID := ""

	segments := splitRelPath(relPath)
	if len(segments) == 0 {
		return nil, nil
	}

	var current *Item

	for _, segment := range segments {
		row := l.db.QueryRowContext(ctx,
			`SELECT `+itemColumns+` FROM items WHERE parent_id = ? AND name = ?`,
			parentID, normalizeName(segment),
		)

		item, err := scanItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("sync: get item by path %s: %w", relPath, err)
		}

		current = item
		parentID = item.ID
	}

	return current, nil
}

// All enumerates every indexed row, for the upload reconciler's full-pass
// scan over known rows.
func (l *Ledger) All(ctx context.Context) ([]Item, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items`)
	if err != nil {
		return nil, fmt.Errorf("sync: enumerate items: %w", err)
	}
	defer rows.Close()

	var items []Item

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("sync: scan item row: %w", err)
		}

		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: enumerate items: %w", err)
	}

	return items, nil
}

// PathFor derives the sync-root-relative path of id by walking its
// parent_id chain to the root. Returns an error if the chain is broken
// (a parent_id referencing a row that no longer exists).
func (l *Ledger) PathFor(ctx context.Context, id string) (string, error) {
	var names []string

	current := id

	for current != "" {
		item, err := l.GetByID(ctx, current)
		if err != nil {
			return "", err
		}
		if item == nil {
			return "", fmt.Errorf("sync: path for %s: broken parent chain at %s", id, current)
		}

		names = append([]string{item.Name}, names...)
		current = item.ParentID
	}

	return path.Join(names...), nil
}

// PathForParent derives the sync-root-relative path a child named name
// under parentID would have, without requiring the child itself to be
// indexed yet. parentID == "" means the child sits directly under the
// sync root.
func (l *Ledger) PathForParent(ctx context.Context, parentID, name string) (string, error) {
	if parentID == "" {
		return name, nil
	}

	parentPath, err := l.PathFor(ctx, parentID)
	if err != nil {
		return "", err
	}

	return path.Join(parentPath, name), nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*Item, error) {
	var (
		item     Item
		kind     string
		mtimeSec int64
	)

	if err := s.Scan(&item.ID, &item.Name, &kind, &item.ETag, &item.CTag, &mtimeSec, &item.ParentID, &item.CRC32); err != nil {
		return nil, err
	}

	item.Type = ItemType(kind)
	item.Mtime = time.Unix(mtimeSec, 0).UTC()

	return &item, nil
}

// GetDeltaToken returns the stored delta cursor, or "" if none has ever
// been saved (a fresh sync root requiring full enumeration).
func (l *Ledger) GetDeltaToken(ctx context.Context) (string, error) {
	var value string

	err := l.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, deltaTokenKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sync: get delta token: %w", err)
	}

	return value, nil
}

// SaveDeltaToken persists the delta cursor. Called by the engine facade
// after every successfully processed delta page, so a crash mid-pass
// resumes no earlier than the last fully applied page.
func (l *Ledger) SaveDeltaToken(ctx context.Context, token string) error {
	const q = `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	if _, err := l.db.ExecContext(ctx, q, deltaTokenKey, token); err != nil {
		return fmt.Errorf("sync: save delta token: %w", err)
	}

	return nil
}

// GetBytesTransferred returns the cumulative byte count of every upload and
// download the ledger has recorded, or 0 if none has ever been recorded.
func (l *Ledger) GetBytesTransferred(ctx context.Context) (int64, error) {
	var value int64

	err := l.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, bytesTransferredKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sync: get bytes transferred: %w", err)
	}

	return value, nil
}

// AddBytesTransferred adds n to the cumulative transferred-byte counter.
// Called by the upload reconciler after a successful upload and by the
// download reconciler after a successful download, so "status" can report
// a running total across passes without re-deriving it from file sizes.
func (l *Ledger) AddBytesTransferred(ctx context.Context, n int64) error {
	const q = `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + ? AS TEXT)`

	if _, err := l.db.ExecContext(ctx, q, bytesTransferredKey, n, n); err != nil {
		return fmt.Errorf("sync: add bytes transferred: %w", err)
	}

	return nil
}

// GetRootItemID returns the drive root item's id as learned from the last
// delta page that reported it, or "" if none has been recorded yet.
// Real top-level items' parentReference.id equals this value, never the
// empty string, so the reconciler normalizes it to "" (the root sentinel)
// before indexing — the root item itself has no row.
func (l *Ledger) GetRootItemID(ctx context.Context) (string, error) {
	var value string

	err := l.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, rootItemIDKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sync: get root item id: %w", err)
	}

	return value, nil
}

// SaveRootItemID persists the drive root item's id.
func (l *Ledger) SaveRootItemID(ctx context.Context, id string) error {
	const q = `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	if _, err := l.db.ExecContext(ctx, q, rootItemIDKey, id); err != nil {
		return fmt.Errorf("sync: save root item id: %w", err)
	}

	return nil
}

// Count returns the number of indexed items, used by the big-delete safety
// guard as the denominator for its percentage check.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var n int

	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sync: count items: %w", err)
	}

	return n, nil
}

// Reset wipes the index, the stored delta cursor, and the transferred-byte
// counter, forcing the next sync pass to re-enumerate the drive from
// scratch.
func (l *Ledger) Reset(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sync: reset: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM items`); err != nil {
		tx.Rollback()
		return fmt.Errorf("sync: reset items: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM meta WHERE key IN (?, ?)`, deltaTokenKey, bytesTransferredKey); err != nil {
		tx.Rollback()
		return fmt.Errorf("sync: reset delta token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sync: reset: %w", err)
	}

	l.logger.Info("ledger reset")

	return nil
}

// splitRelPath splits a sync-root-relative path into clean, non-empty
// segments, tolerating leading/trailing slashes and "." components.
func splitRelPath(relPath string) []string {
	clean := path.Clean(strings.Trim(relPath, "/"))
	if clean == "." || clean == "" {
		return nil
	}

	return strings.Split(clean, "/")
}
