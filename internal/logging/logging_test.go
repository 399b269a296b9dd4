package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"ERROR", LevelError, false},
		{"invalid", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if f, err := ParseFormat("text"); err != nil || f != FormatText {
		t.Errorf("ParseFormat(text) = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestLevelString(t *testing.T) {
	for _, name := range []string{"debug", "info", "warn", "error"} {
		level, _ := ParseLevel(name)
		if got := LevelString(level); got != name {
			t.Errorf("LevelString(%v) = %q, want %q", level, got, name)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/state")
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", cfg.Level)
	}
	if cfg.Output != "auto" {
		t.Errorf("expected default output auto, got %s", cfg.Output)
	}
	if cfg.FilePath != "/tmp/state/imsync/imsync.log" {
		t.Errorf("unexpected default path %s", cfg.FilePath)
	}
	if cfg.Component != "imsync" {
		t.Errorf("unexpected component %s", cfg.Component)
	}
	if cfg.MaxSize <= 0 || cfg.MaxAge <= 0 || cfg.MaxBackups <= 0 {
		t.Errorf("expected positive retention settings, got %+v", cfg)
	}
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "imsync.log")
	logger, err := New(&Config{
		Level:     LevelInfo,
		Format:    FormatJSON,
		Output:    "file",
		FilePath:  path,
		MaxSize:   1,
		Component: "imsync",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	logger.Debug("hidden")
	logger.WithComponent("controller").Info("switched", "im", "pinyin", "api_token", "abc")
	logger.SetLevel(LevelDebug)
	logger.Debug("visible")

	if logger.FilePath() != path {
		t.Errorf("FilePath() = %q", logger.FilePath())
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	if lines[0]["component"] != "controller" || lines[0]["im"] != "pinyin" {
		t.Errorf("unexpected first line %v", lines[0])
	}
	if lines[0]["api_token"] != "[REDACTED]" {
		t.Errorf("token was not redacted: %v", lines[0]["api_token"])
	}
	if lines[1]["msg"] != "visible" {
		t.Errorf("level change not applied: %v", lines[1])
	}
}

func TestAutoOutputWithoutTerminal(t *testing.T) {
	pipeR, pipeW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer pipeR.Close()
	defer pipeW.Close()

	cfg := DefaultConfig()
	cfg.FilePath = filepath.Join(t.TempDir(), "imsync.log")
	l := &Logger{config: cfg, level: new(slog.LevelVar)}

	w, err := l.setupWriter(pipeW)
	if err != nil {
		t.Fatalf("setupWriter: %v", err)
	}
	defer l.Close()

	if _, ok := w.(*FileRotator); !ok {
		t.Errorf("expected log file for non-terminal stderr, got %T", w)
	}
}

func TestStderrOutput(t *testing.T) {
	pipeR, pipeW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer pipeR.Close()

	l := &Logger{config: &Config{Output: "stderr"}, level: new(slog.LevelVar)}
	w, err := l.setupWriter(pipeW)
	if err != nil {
		t.Fatalf("setupWriter: %v", err)
	}
	if w != pipeW {
		t.Errorf("expected stderr writer, got %T", w)
	}
	if l.FilePath() != "" {
		t.Errorf("FilePath() = %q, want empty", l.FilePath())
	}
	pipeW.Close()
}

func TestShouldRedact(t *testing.T) {
	for key, want := range map[string]bool{
		"password":  true,
		"AuthToken": true,
		"im":        false,
		"action":    false,
	} {
		if got := shouldRedact(key); got != want {
			t.Errorf("shouldRedact(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestFileRotatorRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	r, err := NewFileRotator(&Config{FilePath: filepath.Join(dir, "imsync.log"), MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}
	clock := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	r.opened = clock
	r.maxBytes = 64

	line := bytes.Repeat([]byte("x"), 39)
	line = append(line, '\n')
	for i := 0; i < 3; i++ {
		if _, err := r.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	backups, err := r.Backups()
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("expected 1 backup after pruning, got %v", backups)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "imsync.log"))
	if len(data) != len(line) {
		t.Errorf("current file holds %d bytes, want %d", len(data), len(line))
	}
}

func TestFileRotatorRotatesDaily(t *testing.T) {
	dir := t.TempDir()
	r, err := NewFileRotator(&Config{FilePath: filepath.Join(dir, "imsync.log"), MaxSize: 1, Compress: true})
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}
	day := time.Date(2026, 10, 19, 23, 59, 0, 0, time.UTC)
	r.now = func() time.Time { return day }
	r.opened = day

	if _, err := r.Write([]byte("before midnight\n")); err != nil {
		t.Fatal(err)
	}
	day = day.Add(2 * time.Minute)
	if _, err := r.Write([]byte("after midnight\n")); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	backups, _ := r.Backups()
	if len(backups) != 1 || !strings.HasSuffix(backups[0], ".gz") {
		t.Fatalf("expected one compressed backup, got %v", backups)
	}
}
