// Package sync implements the bidirectional sync engine for odsync: a
// delta-driven download reconciler, a tree-walking upload reconciler, a
// deferred deletion queue, and a persistent index tying them together.
package sync

import "time"

// ItemType is the kind of a tracked item, as stored in the ledger's
// items.kind column.
type ItemType string

const (
	ItemFile   ItemType = "file"
	ItemFolder ItemType = "folder"
)

// Item is the canonical index row. Path is never stored — it is always
// derived by walking ParentID to the sync root via Ledger.PathFor.
type Item struct {
	ID       string
	Name     string
	Type     ItemType
	ETag     string
	CTag     string
	Mtime    time.Time // second precision; sub-second fraction is dropped on comparison
	ParentID string    // empty for items whose parent is the sync root
	CRC32    string    // hex, files only; empty when the remote supplied none
}

// truncateToSecond drops the sub-second fraction of a time; comparisons
// against filesystem mtimes always happen at second precision.
func truncateToSecond(t time.Time) time.Time {
	return t.Truncate(time.Second)
}

// mtimeEqual compares two timestamps at second precision.
func mtimeEqual(a, b time.Time) bool {
	return truncateToSecond(a).Equal(truncateToSecond(b))
}
