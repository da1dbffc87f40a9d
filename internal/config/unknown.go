package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys are the valid dotted keys in the config file. These correspond
// to fields in the top-level Config struct and its nested sections.
var knownKeys = map[string]bool{
	"sync_dir": true,

	"transfers.concurrency": true,

	"safety.big_delete_threshold": true, "safety.big_delete_percentage": true,
	"safety.big_delete_min_items": true, "safety.min_free_space": true,

	"sync.poll_interval": true, "sync.monitor": true, "sync.notification_url": true,
	"sync.dry_run": true, "sync.shutdown_timeout": true,

	"logging.log_level": true, "logging.log_file": true, "logging.log_format": true,

	"network.connect_timeout": true, "network.data_timeout": true,
	"network.user_agent": true, "network.force_http_11": true,
}

// knownKeysList is the sorted slice form of knownKeys for Levenshtein
// matching. Sorted for deterministic suggestions when two candidates have
// the same edit distance.
var knownKeysList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		if err := buildKeyError(key.String()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// buildKeyError creates a descriptive error for an unknown dotted key,
// suggesting the closest known key when one is within edit-distance range.
func buildKeyError(keyStr string) error {
	suggestion := closestMatch(keyStr, knownKeysList)
	if suggestion != "" {
		return fmt.Errorf("unknown config key %q — did you mean %q?", keyStr, suggestion)
	}

	return fmt.Errorf("unknown config key %q", keyStr)
}

// closestMatch finds the closest known key by Levenshtein distance. Returns
// empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
