package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// isInteractive reports whether stderr is attached to a terminal. CLI
// progress lines are only worth printing when a human is watching —
// piped or redirected output skips them entirely.
func isInteractive() bool {
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

// statusf prints a progress line to stderr unless quiet is set or output
// is not a terminal.
func statusf(quiet bool, format string, args ...any) {
	if quiet || !isInteractive() {
		return
	}

	fmt.Fprintf(os.Stderr, format, args...)
}

// formatBytes renders a byte count the way the CLI reports transfer
// sizes in status output (e.g. "4.2 MB").
func formatBytes(n int64) string {
	return humanize.Bytes(uint64(n))
}

// formatCount renders an item count with thousands separators.
func formatCount(n int) string {
	return humanize.Comma(int64(n))
}
