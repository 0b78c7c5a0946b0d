package infra

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_WritesRotatingFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Dir = t.TempDir()
	cfg.Logging.File = "test.log"

	logger := NewLogger(cfg)
	logger.Info("market finalized", slog.String("market_id", "m-1"))

	data, err := os.ReadFile(filepath.Join(cfg.Logging.Dir, "test.log"))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), `"market_id":"m-1"`) {
		t.Errorf("log line missing attribute: %s", data)
	}
}
