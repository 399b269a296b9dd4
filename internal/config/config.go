// Package config handles configuration loading, validation, and management for imsync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"imsync/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Sync configures input method switching.
	Sync SyncConfig `toml:"sync" json:"sync" yaml:"sync"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// SyncConfig holds the input method switching configuration.
type SyncConfig struct {
	// OnKey is the trigger key mapped to toggle. Empty disables the mapping.
	OnKey string `toml:"on_key" json:"on_key" yaml:"on_key"`

	// TargetIM is activated on odd presses and when entering insert mode.
	TargetIM string `toml:"im_active" json:"im_active" yaml:"im_active"`

	// FallbackIM is activated on even presses and when leaving insert mode.
	FallbackIM string `toml:"im_inactive" json:"im_inactive" yaml:"im_inactive"`

	// SwitchOnMode switches input methods on insert enter/leave.
	SwitchOnMode bool `toml:"switch_on_mode" json:"switch_on_mode" yaml:"switch_on_mode"`

	// ResetOnLeave resets the input context when a window or buffer loses focus.
	ResetOnLeave bool `toml:"reset_on_leave" json:"reset_on_leave" yaml:"reset_on_leave"`

	// TimeoutMs bounds every daemon command.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`

	// ProgramName is announced to fcitx5 for the input context.
	ProgramName string `toml:"program_name" json:"program_name" yaml:"program_name"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is auto, stdout, stderr, file, or both.
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file used by file output.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	MaxSizeMB  int  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Sync: SyncConfig{
			OnKey:        "",
			TargetIM:     "pinyin",
			FallbackIM:   "keyboard-us",
			SwitchOnMode: true,
			ResetOnLeave: true,
			TimeoutMs:    1000,
			ProgramName:  "nvim",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "auto",
			FilePath:   logging.DefaultLogPath(),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
// An empty path searches the standard locations.
func Load(path string) (*Config, error) {
	if path == "" {
		path = FindConfigFile()
	}

	cfg := DefaultConfig()
	if path != "" {
		var err error
		cfg, err = loadConfigFromFile(path)
		if err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with IMSYNC_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Sync overrides
	if v := os.Getenv("IMSYNC_TARGET_IM"); v != "" {
		c.Sync.TargetIM = v
	}
	if v := os.Getenv("IMSYNC_FALLBACK_IM"); v != "" {
		c.Sync.FallbackIM = v
	}
	if v := os.Getenv("IMSYNC_ON_KEY"); v != "" {
		c.Sync.OnKey = v
	}
	if v := os.Getenv("IMSYNC_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Sync.TimeoutMs = ms
		}
	}

	// Logging overrides
	if v := os.Getenv("IMSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("IMSYNC_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version: c.Version,
		Sync:    c.Sync,
		Logging: c.Logging,
	}
}

// Timeout returns the command timeout.
func (c *Config) Timeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Sync.TimeoutMs) * time.Millisecond
}

// Trigger returns the mapping lhs for the trigger key. ok is false when none
// is configured.
func (c *Config) Trigger() (lhs string, ok bool) {
	c.mu.RLock()
	key := c.Sync.OnKey
	c.mu.RUnlock()
	lhs = TriggerLHS(key)
	return lhs, lhs != ""
}

// LoggerConfig converts the logging section for logging.New.
func (c *Config) LoggerConfig(component string) (*logging.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging.loggerConfig(component)
}

func (l LoggingConfig) loggerConfig(component string) (*logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(l.Format)
	if err != nil {
		return nil, err
	}
	return &logging.Config{
		Level:      level,
		Format:     format,
		Output:     l.Output,
		FilePath:   l.FilePath,
		MaxSize:    int64(l.MaxSizeMB),
		MaxAge:     l.MaxAgeDays,
		MaxBackups: l.MaxBackups,
		Compress:   l.Compress,
		Component:  component,
	}, nil
}

func decodeTOML(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys: %v", undecoded)
	}
	return nil
}
