// Package config provides TOML configuration file loading and parsing for the relay.
// The configuration file lives at ~/.tabremote/config.toml by default, but can be
// overridden with the --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults applied by Apply when the file and flags leave a field unset.
const (
	DefaultAddr              = "127.0.0.1:9223"
	DefaultBridgeAddr        = "127.0.0.1:9224"
	DefaultSessionTimeoutMs  = 180000
	DefaultMinTimeoutMs      = 5000
	DefaultMaxTimeoutMs      = 600000
	DefaultRequestDeadlineMs = 30000
	DefaultLogEntries        = 100
	DefaultReconnectDelayMs  = 5000
)

// Config represents the relay configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// Addr is the host:port for the client-facing WebSocket server.
	// Default: 127.0.0.1:9223
	Addr string `toml:"addr"`

	// BridgeAddr is the host:port of the extension bridge the relay dials
	// for the shared transport. Default: 127.0.0.1:9224
	BridgeAddr string `toml:"bridge_addr"`

	// DB is the path to the SQLite database for tokens and session history.
	// Default: ~/.tabremote/tabremote.db
	DB string `toml:"db"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`

	// RequireAuth enables token-based authentication for client connections.
	// Default: false
	RequireAuth bool `toml:"require_auth"`

	// MdnsEnabled enables mDNS/Bonjour service advertisement.
	// When true, the relay advertises itself on the local network so
	// clients can discover it without manual address entry.
	// Default: false (disabled for security - must be explicitly enabled)
	MdnsEnabled bool `toml:"mdns_enabled"`

	// SessionTimeoutMs is the idle timeout applied when a handshake does
	// not request one. Default: 180000 (3 minutes)
	SessionTimeoutMs int `toml:"session_timeout_ms"`

	// SessionTimeoutMinMs is the lowest idle timeout a handshake may request.
	// Default: 5000
	SessionTimeoutMinMs int `toml:"session_timeout_min_ms"`

	// SessionTimeoutMaxMs is the highest idle timeout a handshake may request.
	// Default: 600000 (10 minutes)
	SessionTimeoutMaxMs int `toml:"session_timeout_max_ms"`

	// RequestDeadlineMs is the relay-enforced lifetime of a forwarded
	// command, independent of any timeout the executor applies internally.
	// Default: 30000
	RequestDeadlineMs int `toml:"request_deadline_ms"`

	// SessionLogEntries is the per-session log ring capacity.
	// Default: 100
	SessionLogEntries int `toml:"session_log_entries"`

	// ReconnectDelayMs is the fixed delay between shared-transport
	// reconnection attempts. Default: 5000
	ReconnectDelayMs int `toml:"reconnect_delay_ms"`
}

// Apply fills zero-valued fields with defaults. Call after Load and after
// flag overrides so both file and flags win over defaults.
func (c *Config) Apply() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.BridgeAddr == "" {
		c.BridgeAddr = DefaultBridgeAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.SessionTimeoutMs <= 0 {
		c.SessionTimeoutMs = DefaultSessionTimeoutMs
	}
	if c.SessionTimeoutMinMs <= 0 {
		c.SessionTimeoutMinMs = DefaultMinTimeoutMs
	}
	if c.SessionTimeoutMaxMs <= 0 {
		c.SessionTimeoutMaxMs = DefaultMaxTimeoutMs
	}
	if c.RequestDeadlineMs <= 0 {
		c.RequestDeadlineMs = DefaultRequestDeadlineMs
	}
	if c.SessionLogEntries <= 0 {
		c.SessionLogEntries = DefaultLogEntries
	}
	if c.ReconnectDelayMs <= 0 {
		c.ReconnectDelayMs = DefaultReconnectDelayMs
	}
	if c.DB == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DB = filepath.Join(home, ".tabremote", "tabremote.db")
		}
	}
}

// Validate checks cross-field constraints that Apply cannot repair.
func (c *Config) Validate() error {
	if c.SessionTimeoutMinMs > c.SessionTimeoutMaxMs {
		return fmt.Errorf("session_timeout_min_ms (%d) exceeds session_timeout_max_ms (%d)",
			c.SessionTimeoutMinMs, c.SessionTimeoutMaxMs)
	}
	if c.SessionTimeoutMs < c.SessionTimeoutMinMs || c.SessionTimeoutMs > c.SessionTimeoutMaxMs {
		return fmt.Errorf("session_timeout_ms (%d) outside [%d, %d]",
			c.SessionTimeoutMs, c.SessionTimeoutMinMs, c.SessionTimeoutMaxMs)
	}
	return nil
}

// DefaultConfigPath returns the default config file location: ~/.tabremote/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".tabremote", "config.toml"), nil
}

// WriteDefault creates a config file with LAN-ready defaults at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string) error {
	// Never overwrite an existing config
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Build minimal TOML config with LAN-ready defaults.
	// Using a raw string to control formatting exactly.
	content := `# tabremote configuration
# Created by 'tabremote start' with LAN-ready defaults

# Listen on all interfaces for LAN access
addr = "0.0.0.0:9223"

# Require authentication for security
require_auth = true
`

	// Write with restrictive permissions (owner read/write only)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location
//     (~/.tabremote/config.toml). Returns an empty Config without error if
//     the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		// This allows the relay to start without any config file.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		// This matches user expectation: if they specify a config file, it should exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	// Parse the TOML file. Any parse error is fatal since the user expects
	// the config to be applied.
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}
