// Package config handles AskrDB configuration via environment variables.
//
// Configuration is loaded from ASKR_-prefixed environment variables with
// LoadFromEnv() and validated with Validate() before use. Feature flags can
// also be toggled at runtime, which the tests rely on.
//
// Environment Variables:
//   - ASKR_LINK_TYPE_CHECK=false    disable the commit-time link-type checker
//   - ASKR_COMMIT_VALIDATE=true     run the full structural sweep on every commit
//   - ASKR_LOG_LEVEL=debug          log threshold (debug|info|warn|error)
//   - ASKR_SNAPSHOT_DIR=./data      directory for the badger snapshot store
//   - ASKR_SCHEMA_DIR=./schema      directory globbed for *.graph.hcl files
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Environment variable keys.
const (
	// EnvLinkTypeCheck disables the commit-time link-type checker when set
	// to "false" or "0". ENABLED by default.
	EnvLinkTypeCheck = "ASKR_LINK_TYPE_CHECK"

	// EnvCommitValidate makes every commit run the full structural sweep
	// when set to "true" or "1". DISABLED by default: the per-overlay
	// checks already guarantee the commit's own consistency.
	EnvCommitValidate = "ASKR_COMMIT_VALIDATE"

	// EnvLogLevel sets the log threshold.
	EnvLogLevel = "ASKR_LOG_LEVEL"

	// EnvSnapshotDir sets the badger snapshot store directory.
	EnvSnapshotDir = "ASKR_SNAPSHOT_DIR"

	// EnvSchemaDir sets the schema declaration directory.
	EnvSchemaDir = "ASKR_SCHEMA_DIR"
)

// Config holds all AskrDB configuration loaded from environment variables.
type Config struct {
	// LinkTypeCheck enables the commit-time link-type checker.
	LinkTypeCheck bool

	// CommitValidate forces the full structural sweep on every commit.
	CommitValidate bool

	// LogLevel is the log threshold string ("debug", "info", "warn", "error").
	LogLevel string

	// SnapshotDir is the badger snapshot store directory.
	SnapshotDir string

	// SchemaDir is the directory globbed for *.graph.hcl declarations.
	SchemaDir string
}

// LoadFromEnv builds a Config from the process environment, applying
// defaults for unset variables.
func LoadFromEnv() *Config {
	return &Config{
		LinkTypeCheck:  envBool(EnvLinkTypeCheck, true),
		CommitValidate: envBool(EnvCommitValidate, false),
		LogLevel:       envString(EnvLogLevel, "info"),
		SnapshotDir:    envString(EnvSnapshotDir, "./data"),
		SchemaDir:      envString(EnvSchemaDir, "./schema"),
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.SnapshotDir == "" {
		return fmt.Errorf("snapshot directory must not be empty")
	}
	return nil
}

// String renders the configuration for startup logging.
func (c *Config) String() string {
	return fmt.Sprintf("link_type_check=%t commit_validate=%t log_level=%s snapshot_dir=%s schema_dir=%s",
		c.LinkTypeCheck, c.CommitValidate, c.LogLevel, c.SnapshotDir, c.SchemaDir)
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "":
		return def
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return def
}

// Runtime feature toggles, for tests that need to flip a flag without
// touching the environment.
var (
	flagMu           sync.RWMutex
	linkTypeOverride *bool
	validateOverride *bool
)

// EnableLinkTypeCheck forces the link-type checker on at runtime.
func EnableLinkTypeCheck() { setOverride(&linkTypeOverride, true) }

// DisableLinkTypeCheck forces the link-type checker off at runtime.
func DisableLinkTypeCheck() { setOverride(&linkTypeOverride, false) }

// ResetLinkTypeCheck clears the runtime override.
func ResetLinkTypeCheck() { clearOverride(&linkTypeOverride) }

// IsLinkTypeCheckEnabled reports the effective link-type checker setting:
// the runtime override when present, the environment otherwise.
func IsLinkTypeCheckEnabled() bool {
	flagMu.RLock()
	defer flagMu.RUnlock()
	if linkTypeOverride != nil {
		return *linkTypeOverride
	}
	return envBool(EnvLinkTypeCheck, true)
}

// EnableCommitValidate forces full-sweep commits on at runtime.
func EnableCommitValidate() { setOverride(&validateOverride, true) }

// DisableCommitValidate forces full-sweep commits off at runtime.
func DisableCommitValidate() { setOverride(&validateOverride, false) }

// ResetCommitValidate clears the runtime override.
func ResetCommitValidate() { clearOverride(&validateOverride) }

// IsCommitValidateEnabled reports the effective full-sweep setting.
func IsCommitValidateEnabled() bool {
	flagMu.RLock()
	defer flagMu.RUnlock()
	if validateOverride != nil {
		return *validateOverride
	}
	return envBool(EnvCommitValidate, false)
}

func setOverride(slot **bool, value bool) {
	flagMu.Lock()
	defer flagMu.Unlock()
	v := value
	*slot = &v
}

func clearOverride(slot **bool) {
	flagMu.Lock()
	defer flagMu.Unlock()
	*slot = nil
}
