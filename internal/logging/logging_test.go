package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skypro1111/chunkrec/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"WARN", slog.LevelWarn},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.name); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, expected %v", tt.name, got, tt.expected)
			}
		})
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.Info("chunk stored", slog.String("session_id", "s-1"), slog.Int("index", 3))
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected one log line at info level, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Expected JSON output: %v", err)
	}
	if entry["msg"] != "chunk stored" || entry["session_id"] != "s-1" || entry["index"] != float64(3) {
		t.Errorf("Unexpected entry: %v", entry)
	}
	if _, ok := entry["source"]; ok {
		t.Error("Source must only be added at debug level")
	}
}

func TestDebugAddsSource(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)

	logger.Debug("flushing")

	out := buf.String()
	if !strings.Contains(out, "msg=flushing") {
		t.Errorf("Expected text output, got %q", out)
	}
	if !strings.Contains(out, "source=") {
		t.Errorf("Expected source attribute at debug level, got %q", out)
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunkrec.log")
	logger, closer := New(config.LoggingConfig{
		Level:      "info",
		Format:     "text",
		Output:     path,
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	})

	logger.Warn("local cache unavailable")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected log file: %v", err)
	}
	if !strings.Contains(string(data), "local cache unavailable") {
		t.Errorf("Log file missing entry: %q", data)
	}
}

func TestStdoutCloserIsNoop(t *testing.T) {
	_, closer := New(config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	if err := closer.Close(); err != nil {
		t.Errorf("Closing stdout logger must not fail: %v", err)
	}
}
