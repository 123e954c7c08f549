// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/collector/lib/bufferstore"
	"github.com/bureau-foundation/collector/lib/wire"
)

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "BUREAU_COLLECTOR_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production analysis hosts.
	Staging Environment = "staging"
	// Production is for production analysis hosts.
	Production Environment = "production"
)

// Config is the collector configuration.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Listen is the TCP address the analyzer connects to.
	Listen string `yaml:"listen"`

	// StatusListen is the address of the /metrics and /healthz
	// endpoint. Empty disables it.
	StatusListen string `yaml:"status_listen"`

	// ReceiveBuffer sets SO_RCVBUF on the listener in bytes. Zero
	// keeps the kernel default.
	ReceiveBuffer int `yaml:"receive_buffer"`

	Log       LogConfig       `yaml:"log"`
	Handshake HandshakeConfig `yaml:"handshake"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Upload    UploadConfig    `yaml:"upload"`
	Sink      SinkConfig      `yaml:"sink"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Listen *string     `yaml:"listen,omitempty"`
	Log    *LogConfig  `yaml:"log,omitempty"`
	Sink   *SinkConfig `yaml:"sink,omitempty"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// HandshakeConfig configures connection dispatch.
type HandshakeConfig struct {
	// Timeout bounds how long a new connection may take to send its
	// handshake line. Default: 30s
	Timeout string `yaml:"timeout"`

	// MaxLine is the longest accepted handshake line in bytes.
	MaxLine int `yaml:"max_line"`

	// Aliases maps additional handshake names onto commands. Unset
	// keeps the legacy BSON/FILE/LOG names; an empty mapping ({})
	// disables aliasing.
	Aliases map[string]string `yaml:"aliases"`
}

// TelemetryConfig configures telemetry sessions and the buffer store.
type TelemetryConfig struct {
	// MaxFrameSize rejects frames whose declared length exceeds it.
	MaxFrameSize int `yaml:"max_frame_size"`

	// BufferRoot is the content-addressed buffer store directory.
	BufferRoot string `yaml:"buffer_root"`

	// BufferCompression is none, lz4, or zstd.
	BufferCompression string `yaml:"buffer_compression"`

	// BufferCacheEntries sizes the known-hash cache.
	BufferCacheEntries int `yaml:"buffer_cache_entries"`
}

// UploadConfig configures the file-upload command.
type UploadConfig struct {
	// Root is the directory uploads are confined to.
	Root string `yaml:"root"`

	// MaxSize caps a single upload in bytes.
	MaxSize int64 `yaml:"max_size"`

	// Journal is the JSON-lines upload journal. ${UPLOAD_ROOT} expands
	// to Root.
	Journal string `yaml:"journal"`
}

// SinkConfig configures where reconstructed events go.
type SinkConfig struct {
	// Directory receives one CBOR event journal per session. Empty
	// disables the file sink.
	Directory string `yaml:"directory"`

	// NATSURL enables the NATS sink when set.
	NATSURL string `yaml:"nats_url"`

	// NATSSubjectPrefix prefixes the per-kind subjects.
	NATSSubjectPrefix string `yaml:"nats_subject_prefix"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "bureau-collector")

	return &Config{
		Environment:  Development,
		Listen:       "127.0.0.1:2042",
		StatusListen: "127.0.0.1:9142",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Handshake: HandshakeConfig{
			Timeout: "30s",
			MaxLine: 256,
		},
		Telemetry: TelemetryConfig{
			MaxFrameSize:       wire.DefaultMaxFrameSize,
			BufferRoot:         filepath.Join(defaultRoot, "buffers"),
			BufferCompression:  "zstd",
			BufferCacheEntries: bufferstore.DefaultCacheEntries,
		},
		Upload: UploadConfig{
			Root:    filepath.Join(defaultRoot, "files"),
			MaxSize: 128 << 20,
			Journal: filepath.Join(defaultRoot, "upload.jsonl"),
		},
		Sink: SinkConfig{
			Directory:         filepath.Join(defaultRoot, "events"),
			NATSSubjectPrefix: "collector.events",
		},
	}
}

// Load loads configuration from the BUREAU_COLLECTOR_CONFIG environment
// variable. There is no fallback: if it is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your collector.yaml config file, or use --config flag", EnvironmentVariable)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, layered over
// [Default].
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: structured logs for the log shipper.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Log: &LogConfig{Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Listen != nil && *overrides.Listen != "" {
		c.Listen = *overrides.Listen
	}

	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}

	if overrides.Sink != nil {
		if overrides.Sink.Directory != "" {
			c.Sink.Directory = overrides.Sink.Directory
		}
		if overrides.Sink.NATSURL != "" {
			c.Sink.NATSURL = overrides.Sink.NATSURL
		}
		if overrides.Sink.NATSSubjectPrefix != "" {
			c.Sink.NATSSubjectPrefix = overrides.Sink.NATSSubjectPrefix
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Telemetry.BufferRoot = expandVars(c.Telemetry.BufferRoot, vars)
	c.Upload.Root = expandVars(c.Upload.Root, vars)
	vars["UPLOAD_ROOT"] = c.Upload.Root
	c.Upload.Journal = expandVars(c.Upload.Journal, vars)
	c.Sink.Directory = expandVars(c.Sink.Directory, vars)
	c.Sink.NATSURL = expandVars(c.Sink.NATSURL, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Provided vars first, then the environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// HandshakeTimeout parses Handshake.Timeout.
func (c *Config) HandshakeTimeout() (time.Duration, error) {
	timeout, err := time.ParseDuration(c.Handshake.Timeout)
	if err != nil {
		return 0, fmt.Errorf("handshake.timeout: %w", err)
	}
	return timeout, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Listen == "" {
		errs = append(errs, fmt.Errorf("listen is required"))
	}

	if c.ReceiveBuffer < 0 {
		errs = append(errs, fmt.Errorf("receive_buffer must not be negative"))
	}

	if !contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}
	if !contains([]string{"text", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: text, json"))
	}

	if timeout, err := c.HandshakeTimeout(); err != nil {
		errs = append(errs, err)
	} else if timeout <= 0 {
		errs = append(errs, fmt.Errorf("handshake.timeout must be positive"))
	}
	if c.Handshake.MaxLine <= 0 {
		errs = append(errs, fmt.Errorf("handshake.max_line must be positive"))
	}

	if c.Telemetry.MaxFrameSize <= 0 || int64(c.Telemetry.MaxFrameSize) > math.MaxUint32 {
		errs = append(errs, fmt.Errorf("telemetry.max_frame_size must be between 1 and %d", uint32(math.MaxUint32)))
	}
	if c.Telemetry.BufferRoot == "" {
		errs = append(errs, fmt.Errorf("telemetry.buffer_root is required"))
	}
	if _, err := bufferstore.ParseCompressionTag(c.Telemetry.BufferCompression); err != nil {
		errs = append(errs, fmt.Errorf("telemetry.buffer_compression: %w", err))
	}
	if c.Telemetry.BufferCacheEntries <= 0 {
		errs = append(errs, fmt.Errorf("telemetry.buffer_cache_entries must be positive"))
	}

	if c.Upload.Root == "" {
		errs = append(errs, fmt.Errorf("upload.root is required"))
	}
	if c.Upload.Journal == "" {
		errs = append(errs, fmt.Errorf("upload.journal is required"))
	}
	if c.Upload.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_size must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Telemetry.BufferRoot,
		c.Upload.Root,
		filepath.Dir(c.Upload.Journal),
		c.Sink.Directory,
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
