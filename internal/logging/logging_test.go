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

func TestDailyWriterWriteAndDefaults(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewDailyWriterWithPrefix(dir, "", 0)
	if err != nil {
		t.Fatalf("NewDailyWriterWithPrefix: %v", err)
	}
	defer writer.Close()

	if _, err := writer.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	path := filepath.Join(dir, "eventstudy-"+time.Now().Format("20060102")+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("log content missing")
	}
}

func TestDailyWriterRotatesOnNewDay(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewDailyWriterWithPrefix(dir, "test", 30)
	if err != nil {
		t.Fatalf("NewDailyWriterWithPrefix: %v", err)
	}
	defer writer.Close()

	tomorrow := time.Now().AddDate(0, 0, 1)
	writer.now = func() time.Time { return tomorrow }
	if _, err := writer.Write([]byte("next day")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(writer.Path(tomorrow))
	if err != nil || string(data) != "next day" {
		t.Fatalf("expected rotated file, got %q %v", data, err)
	}
}

func TestDailyWriterPrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	prefix := "test"
	oldPath := filepath.Join(dir, prefix+"-"+time.Now().AddDate(0, 0, -3).Format("20060102")+".log")
	keepPath := filepath.Join(dir, "other-20000101.log")
	for _, p := range []string{oldPath, keepPath} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	writer, err := NewDailyWriterWithPrefix(dir, prefix, 1)
	if err != nil {
		t.Fatalf("NewDailyWriterWithPrefix: %v", err)
	}
	defer writer.Close()

	if _, err := os.Stat(oldPath); err == nil {
		t.Fatalf("expected old log to be removed")
	}
	if _, err := os.Stat(keepPath); err != nil {
		t.Fatalf("files with another prefix must remain: %v", err)
	}
}

func TestDailyWriterCloseNil(t *testing.T) {
	w := &DailyWriter{}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{" WARNING ", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"-4", slog.LevelDebug, true},
		{"", slog.LevelInfo, false},
		{"loud", slog.LevelInfo, false},
	}
	for _, tc := range cases {
		got, ok := ParseLevel(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseLevel(%q) = %v,%v want %v,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNewLoggerJSONFromEnv(t *testing.T) {
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvLogLevel, "warn")
	previous := slog.Default()
	defer slog.SetDefault(previous)

	var console bytes.Buffer
	logger, writer, err := NewLogger(Options{Dir: t.TempDir(), Level: "debug", Console: &console})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer writer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	lines := strings.Split(strings.TrimSpace(console.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected env level to filter info, got %q", console.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("expected json record: %v", err)
	}
	if record["msg"] != "shown" || record["service"] != "eventstudy" || record["k"] != "v" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestNewLoggerOptionsLevel(t *testing.T) {
	t.Setenv(EnvLogFormat, "")
	t.Setenv(EnvLogLevel, "")
	previous := slog.Default()
	defer slog.SetDefault(previous)

	var console bytes.Buffer
	logger, writer, err := NewLogger(Options{Dir: t.TempDir(), Level: "debug", Console: &console})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer writer.Close()
	logger.Debug("trace me")
	if !strings.Contains(console.String(), "msg=\"trace me\"") {
		t.Fatalf("expected text debug record, got %q", console.String())
	}
}
