// Package config loads the harness configuration from defaults, an
// optional YAML file, and ROOST_-prefixed environment variables, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "ROOST_"

// Config holds the harness runtime configuration.
type Config struct {
	StreamAddr string `koanf:"stream_addr"` // TCP line-JSON listener
	HTTPAddr   string `koanf:"http_addr"`   // OTLP ingest, /metrics, /ws, /healthz
	DataDir    string `koanf:"data_dir"`    // workspace stores, event journal
	NotifyDir  string `koanf:"notify_dir"`  // per-session notify files; empty = temp dir, per-pid

	// AuthToken is compared in constant time; AuthTokenHash is a bcrypt
	// hash and takes precedence when both are set.
	AuthToken     string `koanf:"auth_token"`
	AuthTokenHash string `koanf:"auth_token_hash"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"` // auto, text, json

	MaxBacklogBytes       int           `koanf:"max_backlog_bytes"`
	NotifyPollInterval    time.Duration `koanf:"notify_poll_interval"`
	UsageInterval         time.Duration `koanf:"usage_interval"`
	GitInterval           time.Duration `koanf:"git_interval"`
	EventJournalSize      int           `koanf:"event_journal_size"`
	SubscriptionQueueSize int           `koanf:"subscription_queue_size"`
	ShutdownGrace         time.Duration `koanf:"shutdown_grace"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"stream_addr":             "127.0.0.1:7333",
		"http_addr":               "127.0.0.1:7334",
		"data_dir":                defaultDataDir(),
		"notify_dir":              "",
		"auth_token":              "",
		"auth_token_hash":         "",
		"log_level":               "info",
		"log_format":              "auto",
		"max_backlog_bytes":       256 * 1024,
		"notify_poll_interval":    100 * time.Millisecond,
		"usage_interval":          250 * time.Millisecond,
		"git_interval":            5 * time.Second,
		"event_journal_size":      8192,
		"subscription_queue_size": 256,
		"shutdown_grace":          3 * time.Second,
	}
}

// Load builds the configuration. A non-empty path names a YAML config
// file that must exist; with an empty path the default location is read
// if present (~/.config/roost/config.yaml, or $ROOST_CONFIG).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
			path = p
			explicit = true
		} else {
			path = filepath.Join(defaultDataDir(), "config.yaml")
		}
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Validate checks configuration values and ensures required directories
// exist.
func (c *Config) Validate() error {
	if c.StreamAddr == "" {
		return fmt.Errorf("stream_addr is required")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if c.MaxBacklogBytes <= 0 {
		return fmt.Errorf("max_backlog_bytes must be positive")
	}
	if c.EventJournalSize <= 0 {
		return fmt.Errorf("event_journal_size must be positive")
	}
	if c.SubscriptionQueueSize <= 0 {
		return fmt.Errorf("subscription_queue_size must be positive")
	}
	if c.NotifyPollInterval <= 0 {
		return fmt.Errorf("notify_poll_interval must be positive")
	}
	if !loopbackAddr(c.StreamAddr) && c.AuthToken == "" && c.AuthTokenHash == "" {
		return fmt.Errorf("auth token is required when stream_addr is not loopback")
	}

	if err := os.MkdirAll(c.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(c.ResolvedNotifyDir(), 0o750); err != nil {
		return fmt.Errorf("create notify dir: %w", err)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "roost")
	}
	return filepath.Join(home, ".config", "roost")
}

// loopbackAddr reports whether addr binds only a loopback interface.
// An empty or wildcard host binds everything and is not loopback.
func loopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// WorkspaceDBPath returns the SQLite file for one workspace scope.
func (c *Config) WorkspaceDBPath(tenantID, userID, workspaceID string) string {
	return filepath.Join(c.DataDir, "workspaces", tenantID, userID, workspaceID, "roost.db")
}

// JournalPath returns the observed-event journal file.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "events.journal.zst")
}

// ResolvedNotifyDir returns the directory for per-session notify files.
func (c *Config) ResolvedNotifyDir() string {
	if c.NotifyDir != "" {
		return c.NotifyDir
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("roost-%d", os.Getpid()))
}

// NotifyPath returns the notify JSONL file for one session.
func (c *Config) NotifyPath(sessionID string) string {
	return filepath.Join(c.ResolvedNotifyDir(), "notify-"+sessionID+".jsonl")
}
