package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points the config search at an empty directory and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("IMSYNC_CONFIG_DIR", dir)
	for _, k := range []string{
		"IMSYNC_TARGET_IM", "IMSYNC_FALLBACK_IM", "IMSYNC_ON_KEY",
		"IMSYNC_TIMEOUT_MS", "IMSYNC_LOG_LEVEL", "IMSYNC_LOG_PATH",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Sync.OnKey != "" {
		t.Errorf("expected no trigger key, got %q", cfg.Sync.OnKey)
	}
	if cfg.Sync.TargetIM != "pinyin" {
		t.Errorf("expected im_active pinyin, got %s", cfg.Sync.TargetIM)
	}
	if cfg.Sync.FallbackIM != "keyboard-us" {
		t.Errorf("expected im_inactive keyboard-us, got %s", cfg.Sync.FallbackIM)
	}
	if !cfg.Sync.SwitchOnMode || !cfg.Sync.ResetOnLeave {
		t.Error("mode switching and reset on leave should default on")
	}
	if cfg.Timeout() != time.Second {
		t.Errorf("expected 1s timeout, got %v", cfg.Timeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if lhs, ok := cfg.Trigger(); ok {
		t.Errorf("Trigger() = %q; want none", lhs)
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("IMSYNC_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	if got := ConfigPath(); got != "/tmp/xdg/imsync/config.toml" {
		t.Errorf("unexpected config path %s", got)
	}
}

func TestLoadNonexistent(t *testing.T) {
	isolate(t)

	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sync.TargetIM != "pinyin" {
		t.Errorf("expected defaults, got %+v", cfg.Sync)
	}
}

func TestLoadSearchesConfigDir(t *testing.T) {
	dir := isolate(t)
	content := "sync:\n  im_active: mozc\n  on_key: <F2>\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	if got := FindConfigFile(); got != filepath.Join(dir, "config.yaml") {
		t.Fatalf("FindConfigFile() = %q", got)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sync.TargetIM != "mozc" || cfg.Sync.OnKey != "<F2>" {
		t.Errorf("yaml not applied: %+v", cfg.Sync)
	}
	if cfg.Sync.FallbackIM != "keyboard-us" {
		t.Errorf("unset keys should keep defaults, got %s", cfg.Sync.FallbackIM)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := map[string]string{
		"config.toml": `
[sync]
im_active = "rime"
timeout_ms = 250
switch_on_mode = false

[logging]
level = "debug"
`,
		"config.json": `{"sync": {"im_active": "rime", "timeout_ms": 250, "switch_on_mode": false}, "logging": {"level": "debug"}}`,
		"config.yml": `
sync:
  im_active: rime
  timeout_ms: 250
  switch_on_mode: false
logging:
  level: debug
`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			isolate(t)
			path := filepath.Join(t.TempDir(), name)
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Sync.TargetIM != "rime" || cfg.Sync.TimeoutMs != 250 || cfg.Sync.SwitchOnMode {
				t.Errorf("sync section not applied: %+v", cfg.Sync)
			}
			if !cfg.Sync.ResetOnLeave {
				t.Error("reset_on_leave should keep its default")
			}
			if cfg.Logging.Level != "debug" {
				t.Errorf("expected debug level, got %s", cfg.Logging.Level)
			}
		})
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[sync]\nim_actve = \"rime\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "im_actve") {
		t.Errorf("expected unknown key error, got %v", err)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[sync\nbroken"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("IMSYNC_TARGET_IM", "anthy")
	t.Setenv("IMSYNC_FALLBACK_IM", "keyboard-de")
	t.Setenv("IMSYNC_ON_KEY", "Ctrl+Space")
	t.Setenv("IMSYNC_TIMEOUT_MS", "300")
	t.Setenv("IMSYNC_LOG_LEVEL", "warn")
	t.Setenv("IMSYNC_LOG_PATH", "/tmp/imsync-test.log")

	cfg, err := Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatal(err)
	}
	s := cfg.Sync
	if s.TargetIM != "anthy" || s.FallbackIM != "keyboard-de" || s.OnKey != "Ctrl+Space" || s.TimeoutMs != 300 {
		t.Errorf("sync overrides not applied: %+v", s)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.FilePath != "/tmp/imsync-test.log" {
		t.Errorf("logging overrides not applied: %+v", cfg.Logging)
	}

	if lhs, ok := cfg.Trigger(); !ok || lhs != "<C-Space>" {
		t.Errorf("Trigger() = %q, %v", lhs, ok)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{"empty target", func(c *Config) { c.Sync.TargetIM = "" }, []string{"sync.im_active"}},
		{"same names", func(c *Config) { c.Sync.FallbackIM = c.Sync.TargetIM }, []string{"sync.im_inactive"}},
		{"blank key", func(c *Config) { c.Sync.OnKey = "  " }, []string{"sync.on_key"}},
		{"zero timeout", func(c *Config) { c.Sync.TimeoutMs = 0 }, []string{"sync.timeout_ms"}},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, []string{"logging.level"}},
		{"bad output", func(c *Config) { c.Logging.Output = "syslog" }, []string{"logging.output"}},
		{"file without path", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, []string{"logging.file_path"}},
		{"future version", func(c *Config) { c.Version = Version + 1 }, []string{"version"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			if got := strings.Join(verrs.Fields(), ","); got != strings.Join(tt.fields, ",") {
				t.Errorf("fields = %s, want %v", got, tt.fields)
			}
		})
	}
}

func TestLoggerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"

	lc, err := cfg.LoggerConfig("imsync-nvim")
	if err != nil {
		t.Fatal(err)
	}
	if lc.Component != "imsync-nvim" || lc.MaxSize != 10 || lc.Output != "auto" {
		t.Errorf("unexpected logger config %+v", lc)
	}

	cfg.Logging.Format = "xml"
	if _, err := cfg.LoggerConfig("x"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Sync.TargetIM = "mozc"
	if cfg.Sync.TargetIM != "pinyin" {
		t.Error("clone shares state with its source")
	}
}
