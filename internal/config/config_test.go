package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestLoad_AllFields verifies that all config fields are parsed correctly from TOML.
func TestLoad_AllFields(t *testing.T) {
	content := `
addr = "0.0.0.0:9300"
bridge_addr = "127.0.0.1:9301"
db = "/path/to/tabremote.db"
log_level = "debug"
require_auth = true
mdns_enabled = true
session_timeout_ms = 120000
session_timeout_min_ms = 1000
session_timeout_max_ms = 900000
request_deadline_ms = 15000
session_log_entries = 50
reconnect_delay_ms = 2500
`
	tmpFile := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(tmpFile, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Addr != "0.0.0.0:9300" {
		t.Errorf("Addr = %q, want %q", cfg.Addr, "0.0.0.0:9300")
	}
	if cfg.BridgeAddr != "127.0.0.1:9301" {
		t.Errorf("BridgeAddr = %q, want %q", cfg.BridgeAddr, "127.0.0.1:9301")
	}
	if cfg.DB != "/path/to/tabremote.db" {
		t.Errorf("DB = %q, want %q", cfg.DB, "/path/to/tabremote.db")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if !cfg.RequireAuth {
		t.Error("RequireAuth = false, want true")
	}
	if !cfg.MdnsEnabled {
		t.Error("MdnsEnabled = false, want true")
	}
	if cfg.SessionTimeoutMs != 120000 {
		t.Errorf("SessionTimeoutMs = %d, want 120000", cfg.SessionTimeoutMs)
	}
	if cfg.SessionTimeoutMinMs != 1000 {
		t.Errorf("SessionTimeoutMinMs = %d, want 1000", cfg.SessionTimeoutMinMs)
	}
	if cfg.SessionTimeoutMaxMs != 900000 {
		t.Errorf("SessionTimeoutMaxMs = %d, want 900000", cfg.SessionTimeoutMaxMs)
	}
	if cfg.RequestDeadlineMs != 15000 {
		t.Errorf("RequestDeadlineMs = %d, want 15000", cfg.RequestDeadlineMs)
	}
	if cfg.SessionLogEntries != 50 {
		t.Errorf("SessionLogEntries = %d, want 50", cfg.SessionLogEntries)
	}
	if cfg.ReconnectDelayMs != 2500 {
		t.Errorf("ReconnectDelayMs = %d, want 2500", cfg.ReconnectDelayMs)
	}
}

// TestLoad_MissingExplicitPath verifies that an explicit path must exist.
func TestLoad_MissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("Load() should error for a missing explicit path")
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestLoad_ParseError verifies that malformed TOML is reported.
func TestLoad_ParseError(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(tmpFile, []byte("addr = [broken"), 0600); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}

	if _, err := Load(tmpFile); err == nil {
		t.Fatal("Load() should error for malformed TOML")
	}
}

// TestApply_Defaults verifies that Apply fills zero values without
// clobbering explicit settings.
func TestApply_Defaults(t *testing.T) {
	cfg := &Config{Addr: "10.0.0.1:7000"}
	cfg.Apply()

	if cfg.Addr != "10.0.0.1:7000" {
		t.Errorf("Apply clobbered Addr: %q", cfg.Addr)
	}
	if cfg.BridgeAddr != DefaultBridgeAddr {
		t.Errorf("BridgeAddr = %q, want %q", cfg.BridgeAddr, DefaultBridgeAddr)
	}
	if cfg.SessionTimeoutMs != DefaultSessionTimeoutMs {
		t.Errorf("SessionTimeoutMs = %d, want %d", cfg.SessionTimeoutMs, DefaultSessionTimeoutMs)
	}
	if cfg.SessionLogEntries != DefaultLogEntries {
		t.Errorf("SessionLogEntries = %d, want %d", cfg.SessionLogEntries, DefaultLogEntries)
	}
	if cfg.ReconnectDelayMs != DefaultReconnectDelayMs {
		t.Errorf("ReconnectDelayMs = %d, want %d", cfg.ReconnectDelayMs, DefaultReconnectDelayMs)
	}
	if cfg.DB == "" {
		t.Error("Apply should derive a default DB path")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "min above max",
			mutate: func(c *Config) {
				c.SessionTimeoutMinMs = 10000
				c.SessionTimeoutMaxMs = 5000
			},
			wantErr: true,
		},
		{
			name: "default timeout below min",
			mutate: func(c *Config) {
				c.SessionTimeoutMinMs = 200000
				c.SessionTimeoutMaxMs = 300000
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.Apply()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestWriteDefault verifies creation and no-overwrite behavior.
func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written config: %v", err)
	}
	if !strings.Contains(string(data), "require_auth = true") {
		t.Error("default config should require auth")
	}

	// Overwrite the file and call again; content must survive.
	if err := os.WriteFile(path, []byte("addr = \"1.2.3.4:1\"\n"), 0600); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() second call error: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "addr = \"1.2.3.4:1\"\n" {
		t.Error("WriteDefault overwrote an existing file")
	}
}
