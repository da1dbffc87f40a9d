package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/student/odsync/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests that set
// globals directly must restore them afterward.

func withGlobals(t *testing.T, fn func()) {
	t.Helper()

	oldVerbose, oldQuiet, oldHolder := flagVerbose, flagQuiet, cfgHolder

	t.Cleanup(func() {
		flagVerbose, flagQuiet, cfgHolder = oldVerbose, oldQuiet, oldHolder
	})

	fn()
}

func TestBuildLogger_DefaultsToInfo(t *testing.T) {
	withGlobals(t, func() {
		flagVerbose, flagQuiet, cfgHolder = false, false, nil

		logger := buildLogger()

		assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
		assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
	})
}

func TestBuildLogger_VerboseForcesDebug(t *testing.T) {
	withGlobals(t, func() {
		flagVerbose, flagQuiet, cfgHolder = true, false, nil

		logger := buildLogger()

		assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
	})
}

func TestBuildLogger_QuietForcesError(t *testing.T) {
	withGlobals(t, func() {
		flagVerbose, flagQuiet, cfgHolder = false, true, nil

		logger := buildLogger()

		assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
		assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	})
}

func TestBuildLogger_QuietOverridesResolvedDebugConfig(t *testing.T) {
	withGlobals(t, func() {
		flagVerbose, flagQuiet = false, true
		cfgHolder = config.NewHolder(&config.Config{Logging: config.LoggingConfig{LogLevel: "debug"}}, "")

		logger := buildLogger()

		assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	})
}

func TestBuildLogger_UsesResolvedConfigLevel(t *testing.T) {
	withGlobals(t, func() {
		flagVerbose, flagQuiet = false, false
		cfgHolder = config.NewHolder(&config.Config{Logging: config.LoggingConfig{LogLevel: "warn"}}, "")

		logger := buildLogger()

		assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
		assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	})
}

func TestConfigPathForCommands_UsesFlagWhenSet(t *testing.T) {
	withGlobals(t, func() {
		cfgHolder = nil

		old := flagConfigPath
		t.Cleanup(func() { flagConfigPath = old })

		flagConfigPath = "/custom/config.toml"
		assert.Equal(t, "/custom/config.toml", configPathForCommands())
	})
}

func TestConfigPathForCommands_FallsBackToDefault(t *testing.T) {
	withGlobals(t, func() {
		cfgHolder = nil

		old := flagConfigPath
		t.Cleanup(func() { flagConfigPath = old })

		flagConfigPath = ""
		assert.Equal(t, config.DefaultConfigPath(), configPathForCommands())
	})
}

func TestConfigPathForCommands_UsesHolderPathWhenSet(t *testing.T) {
	withGlobals(t, func() {
		cfgHolder = config.NewHolder(&config.Config{}, "/held/config.toml")
		assert.Equal(t, "/held/config.toml", configPathForCommands())
	})
}
