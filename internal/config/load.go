package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are treated as fatal errors with "did you
// mean?" suggestions — this strictness is deliberate because silently
// ignoring a typo in a config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values. This supports the zero-config
// first-run experience: users can start without creating a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain: defaults ->
// config file -> environment variables -> CLI flags. It returns a fully
// resolved and validated Config ready for use. The precedence order ensures
// CLI flags always win, matching user expectations for one-off overrides
// without editing the config file.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if cfg.SyncDir == "" {
		cfg.SyncDir = "~/OneDrive"
	}

	if env.SyncDir != "" {
		cfg.SyncDir = env.SyncDir
	}

	if cli.SyncDir != nil {
		cfg.SyncDir = *cli.SyncDir
	}

	cfg.SyncDir = expandTilde(cfg.SyncDir)

	if cli.DryRun != nil {
		cfg.Sync.DryRun = *cli.DryRun
	}

	if cli.Monitor != nil {
		cfg.Sync.Monitor = *cli.Monitor
	}

	if err := ValidateResolved(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// expandTilde expands a leading "~" to the user's home directory. Paths
// without a leading "~" are returned unchanged.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return home + strings.TrimPrefix(path, "~")
}
