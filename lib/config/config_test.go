// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collector.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Handshake.Timeout != "30s" {
		t.Errorf("expected handshake.timeout=30s, got %s", cfg.Handshake.Timeout)
	}
	if cfg.Handshake.Aliases != nil {
		t.Errorf("expected nil aliases by default, got %v", cfg.Handshake.Aliases)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_RequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when BUREAU_COLLECTOR_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "BUREAU_COLLECTOR_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithEnvironmentVariable(t *testing.T) {
	path := writeConfig(t, `
environment: staging
listen: 0.0.0.0:2042
receive_buffer: 1048576
telemetry:
  buffer_compression: lz4
upload:
  max_size: 4096
`)
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Listen != "0.0.0.0:2042" {
		t.Errorf("expected listen=0.0.0.0:2042, got %s", cfg.Listen)
	}
	if cfg.ReceiveBuffer != 1048576 {
		t.Errorf("expected receive_buffer=1048576, got %d", cfg.ReceiveBuffer)
	}
	if cfg.Telemetry.BufferCompression != "lz4" {
		t.Errorf("expected buffer_compression=lz4, got %s", cfg.Telemetry.BufferCompression)
	}
	if cfg.Upload.MaxSize != 4096 {
		t.Errorf("expected max_size=4096, got %d", cfg.Upload.MaxSize)
	}
	// Unset keys keep their defaults.
	if cfg.Handshake.MaxLine != 256 {
		t.Errorf("expected default max_line=256, got %d", cfg.Handshake.MaxLine)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	path := writeConfig(t, "listen: [unterminated\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantListen string
		wantFormat string
		wantLevel  string
	}{
		{
			name: "development section applies",
			content: `
environment: development
development:
  listen: 127.0.0.1:3000
  log:
    level: debug
`,
			wantListen: "127.0.0.1:3000",
			wantFormat: "text",
			wantLevel:  "debug",
		},
		{
			name: "production defaults to json logs",
			content: `
environment: production
`,
			wantListen: "127.0.0.1:2042",
			wantFormat: "json",
			wantLevel:  "info",
		},
		{
			name: "explicit production section replaces defaults",
			content: `
environment: production
production:
  log:
    level: warn
`,
			wantListen: "127.0.0.1:2042",
			wantFormat: "text",
			wantLevel:  "warn",
		},
		{
			name: "other environment sections ignored",
			content: `
environment: staging
production:
  listen: 10.0.0.1:1
`,
			wantListen: "127.0.0.1:2042",
			wantFormat: "text",
			wantLevel:  "info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFile(writeConfig(t, tt.content))
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if cfg.Listen != tt.wantListen {
				t.Errorf("listen = %s, want %s", cfg.Listen, tt.wantListen)
			}
			if cfg.Log.Format != tt.wantFormat {
				t.Errorf("log.format = %s, want %s", cfg.Log.Format, tt.wantFormat)
			}
			if cfg.Log.Level != tt.wantLevel {
				t.Errorf("log.level = %s, want %s", cfg.Log.Level, tt.wantLevel)
			}
		})
	}
}

func TestHandshakeAliases(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
handshake:
  aliases:
    BSON: telemetry-stream
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Handshake.Aliases["BSON"] != "telemetry-stream" || len(cfg.Handshake.Aliases) != 1 {
		t.Errorf("aliases = %v", cfg.Handshake.Aliases)
	}

	cfg, err = LoadFile(writeConfig(t, `
handshake:
  aliases: {}
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Handshake.Aliases == nil || len(cfg.Handshake.Aliases) != 0 {
		t.Errorf("empty mapping should decode to an empty non-nil map, got %#v", cfg.Handshake.Aliases)
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("HOME", "/home/analyst")
	t.Setenv("COLLECTOR_TEST_SPOOL", "")

	cfg, err := LoadFile(writeConfig(t, `
telemetry:
  buffer_root: ${HOME}/buffers
upload:
  root: ${COLLECTOR_TEST_SPOOL:-/srv/spool}/files
  journal: ${UPLOAD_ROOT}/journal.jsonl
sink:
  directory: ${HOME}/events
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	tests := []struct {
		field string
		got   string
		want  string
	}{
		{"telemetry.buffer_root", cfg.Telemetry.BufferRoot, "/home/analyst/buffers"},
		{"upload.root", cfg.Upload.Root, "/srv/spool/files"},
		{"upload.journal", cfg.Upload.Journal, "/srv/spool/files/journal.jsonl"},
		{"sink.directory", cfg.Sink.Directory, "/home/analyst/events"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %s, want %s", tt.field, tt.got, tt.want)
		}
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input string
		vars  map[string]string
		want  string
	}{
		{"${A}", map[string]string{"A": "x"}, "x"},
		{"${MISSING_COLLECTOR_VAR:-fallback}", nil, "fallback"},
		{"${MISSING_COLLECTOR_VAR}", nil, ""},
		{"plain", nil, "plain"},
		{"${A}/${A}", map[string]string{"A": "y"}, "y/y"},
	}
	for _, tt := range tests {
		if got := expandVars(tt.input, tt.vars); got != tt.want {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad environment", func(c *Config) { c.Environment = "qa" }, "invalid environment"},
		{"empty listen", func(c *Config) { c.Listen = "" }, "listen is required"},
		{"negative receive buffer", func(c *Config) { c.ReceiveBuffer = -1 }, "receive_buffer"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad timeout", func(c *Config) { c.Handshake.Timeout = "soon" }, "handshake.timeout"},
		{"zero timeout", func(c *Config) { c.Handshake.Timeout = "0s" }, "handshake.timeout must be positive"},
		{"zero max line", func(c *Config) { c.Handshake.MaxLine = 0 }, "handshake.max_line"},
		{"zero frame size", func(c *Config) { c.Telemetry.MaxFrameSize = 0 }, "telemetry.max_frame_size"},
		{"frame size beyond uint32", func(c *Config) { c.Telemetry.MaxFrameSize = 1 << 33 }, "telemetry.max_frame_size"},
		{"bad compression", func(c *Config) { c.Telemetry.BufferCompression = "gzip" }, "telemetry.buffer_compression"},
		{"zero cache", func(c *Config) { c.Telemetry.BufferCacheEntries = 0 }, "telemetry.buffer_cache_entries"},
		{"empty upload root", func(c *Config) { c.Upload.Root = "" }, "upload.root"},
		{"empty journal", func(c *Config) { c.Upload.Journal = "" }, "upload.journal"},
		{"zero max size", func(c *Config) { c.Upload.MaxSize = 0 }, "upload.max_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Listen = ""
	cfg.Upload.Root = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"listen is required", "upload.root is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q missing %q", err, want)
		}
	}
}

func TestHandshakeTimeout(t *testing.T) {
	cfg := Default()
	cfg.Handshake.Timeout = "1m30s"
	timeout, err := cfg.HandshakeTimeout()
	if err != nil {
		t.Fatalf("HandshakeTimeout: %v", err)
	}
	if timeout != 90*time.Second {
		t.Errorf("timeout = %v, want 90s", timeout)
	}
}

func TestEnsurePaths(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Telemetry.BufferRoot = filepath.Join(root, "buffers")
	cfg.Upload.Root = filepath.Join(root, "files")
	cfg.Upload.Journal = filepath.Join(root, "journal", "upload.jsonl")
	cfg.Sink.Directory = ""

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, dir := range []string{"buffers", "files", "journal"} {
		info, err := os.Stat(filepath.Join(root, dir))
		if err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
}
