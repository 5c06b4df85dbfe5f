package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"MediScan/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitLoggerWritesJSONFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	dir := t.TempDir()
	logger, closer, err := InitLogger(config.LogConfig{Level: "debug", Dir: dir})
	if err != nil {
		t.Fatalf("InitLogger: %v", err)
	}
	logger.Debug("ocr finished", "fragments", 3)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "mediscan.log"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("log line is not JSON: %q", line)
	}
	if rec["msg"] != "ocr finished" || rec["service"] != "mediscan" || rec["fragments"] != float64(3) {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestInitTelemetryDisabled(t *testing.T) {
	dir := t.TempDir()
	tracer, meter, cleanup, err := InitTelemetry(context.Background(), config.TelemetryConfig{Enabled: false, Dir: dir}, "test")
	if err != nil {
		t.Fatalf("InitTelemetry: %v", err)
	}
	defer cleanup()
	if tracer == nil || meter == nil {
		t.Fatalf("expected no-op providers")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("disabled telemetry must not create files, got %d", len(entries))
	}
}
