// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for odsync. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags) over
// a single sync directory — there is no per-profile or per-drive sectioning.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	SyncDir   string          `toml:"sync_dir"`
	Transfers TransfersConfig `toml:"transfers"`
	Safety    SafetyConfig    `toml:"safety"`
	Sync      SyncConfig      `toml:"sync"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
}

// TransfersConfig controls the bounded worker pool used for concurrent file
// body transfers during an upload pass.
type TransfersConfig struct {
	Concurrency int `toml:"concurrency"`
}

// SafetyConfig controls protective defaults and thresholds that prevent
// accidental data loss during sync operations.
type SafetyConfig struct {
	BigDeleteThreshold  int    `toml:"big_delete_threshold"`
	BigDeletePercentage int    `toml:"big_delete_percentage"`
	BigDeleteMinItems   int    `toml:"big_delete_min_items"`
	MinFreeSpace        string `toml:"min_free_space"`
}

// SyncConfig controls sync engine behavior: polling, monitor mode, and the
// push-notification hint channel that wakes a poll early.
type SyncConfig struct {
	PollInterval    string `toml:"poll_interval"`
	Monitor         bool   `toml:"monitor"`
	NotificationURL string `toml:"notification_url"`
	DryRun          bool   `toml:"dry_run"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// LoggingConfig controls log output behavior: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior: timeouts, user agent, and
// protocol version. force_http_11 is useful behind corporate proxies that
// don't support HTTP/2.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
	ForceHTTP11    bool   `toml:"force_http_11"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value" — this matters because --dry-run=false
// is different from not passing --dry-run at all.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	SyncDir    *string // --sync-dir flag
	DryRun     *bool   // --dry-run flag
	Monitor    *bool   // --monitor flag
}
