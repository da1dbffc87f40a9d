package sync

import "fmt"

// Kind classifies a sync failure into one of five categories, so the
// engine facade and CLI can branch on kind without string matching.
// Grounded on internal/graph/errors.go's sentinel + wrapper pattern,
// generalized to the reconciler's own failure modes.
type Kind int

const (
	// KindTransport is any failure from the remote API client during
	// apply. The caller rolls back the just-inserted index row and
	// aborts the current pass.
	KindTransport Kind = iota
	// KindDecode is a remote item missing an expected field. The
	// reconciler treats the item as unsupported rather than raising
	// this — it is reserved for decode failures genuinely outside that
	// path (e.g. the delta envelope itself).
	KindDecode
	// KindFilesystem is a local create/rename/remove failure. Everywhere
	// except deletion-queue rmdir-on-nonempty, this aborts the pass.
	KindFilesystem
	// KindPrecondition is an etag-guarded mutation rejected because the
	// server-side version moved. Surfaced as KindTransport to callers —
	// defined separately here only so logging can distinguish it.
	KindPrecondition
	// KindLogical is an operation invoked against a path or id the
	// index does not know about (e.g. MoveItem for an unindexed path).
	KindLogical
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindFilesystem:
		return "filesystem"
	case KindPrecondition:
		return "precondition"
	case KindLogical:
		return "logical"
	default:
		return "unknown"
	}
}

// SyncError is the error type every reconciler and engine operation
// returns on failure, tagging the failure with a Kind.
type SyncError struct {
	Kind Kind
	Op   string // short operation name, e.g. "applyNew", "uploadDelete"
	Path string // local path involved, if any
	Err  error
}

func (e *SyncError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("sync: %s (%s) %s: %v", e.Op, e.Kind, e.Path, e.Err)
	}

	return fmt.Sprintf("sync: %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func newSyncError(kind Kind, op, path string, err error) *SyncError {
	return &SyncError{Kind: kind, Op: op, Path: path, Err: err}
}
