package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Validation range constants.
const (
	minConcurrency     = 1
	maxConcurrency     = 64
	minPercentage      = 1
	maxPercentage      = 100
	minBigDelete       = 1
	minPollInterval    = 5 * time.Second
	minShutdownTimeout = 5 * time.Second
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
)

// Validate checks all configuration values and returns all errors found. It
// accumulates every error rather than stopping at the first, so users see a
// complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateSafety(&cfg.Safety)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateResolved checks cross-field constraints that only make sense on
// the fully resolved config, after the override chain (defaults -> file ->
// env -> CLI) has been applied.
func ValidateResolved(cfg *Config) error {
	if cfg.SyncDir != "" && !filepath.IsAbs(cfg.SyncDir) {
		return fmt.Errorf("sync_dir: must be absolute after expansion, got %q", cfg.SyncDir)
	}

	return nil
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if t.Concurrency < minConcurrency || t.Concurrency > maxConcurrency {
		errs = append(errs, fmt.Errorf("transfers.concurrency: must be between %d and %d, got %d",
			minConcurrency, maxConcurrency, t.Concurrency))
	}

	return errs
}

func validateSafety(s *SafetyConfig) []error {
	var errs []error

	if s.BigDeleteThreshold < minBigDelete {
		errs = append(errs, fmt.Errorf("safety.big_delete_threshold: must be >= %d, got %d",
			minBigDelete, s.BigDeleteThreshold))
	}

	if s.BigDeletePercentage < minPercentage || s.BigDeletePercentage > maxPercentage {
		errs = append(errs, fmt.Errorf("safety.big_delete_percentage: must be between %d and %d, got %d",
			minPercentage, maxPercentage, s.BigDeletePercentage))
	}

	if s.BigDeleteMinItems < minBigDelete {
		errs = append(errs, fmt.Errorf("safety.big_delete_min_items: must be >= %d, got %d",
			minBigDelete, s.BigDeleteMinItems))
	}

	if s.MinFreeSpace != "" && s.MinFreeSpace != "0" {
		if _, err := ParseSize(s.MinFreeSpace); err != nil {
			errs = append(errs, fmt.Errorf("safety.min_free_space: %w", err))
		}
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("sync.poll_interval", s.PollInterval, minPollInterval)...)
	errs = append(errs, validateDurationMin("sync.shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("network.data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}
