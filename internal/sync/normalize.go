package sync

import "golang.org/x/text/unicode/norm"

// normalizeName maps a filename to Unicode Normalization Form C, so a
// file named identically but decomposed differently by the local
// filesystem (common on macOS, which normalizes to NFD) compares equal
// to the name OneDrive reports.
func normalizeName(name string) string {
	return norm.NFC.String(name)
}
