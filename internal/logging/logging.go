package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultPrefix    = "eventstudy"
	defaultRetention = 7
	fileDateLayout   = "20060102"
)

// Environment overrides, applied on top of Options.
const (
	EnvLogLevel  = "EVENTSTUDY_LOG_LEVEL"
	EnvLogFormat = "EVENTSTUDY_LOG_FORMAT"
)

// Options configures NewLogger.
type Options struct {
	Dir           string
	Level         string
	Format        string
	RetentionDays int
	// Console receives a copy of every record; nil means os.Stdout.
	Console io.Writer
}

// DailyWriter appends to <prefix>-YYYYMMDD.log in dir, opening a new file
// when the day changes and deleting files older than the retention window.
type DailyWriter struct {
	dir           string
	prefix        string
	retentionDays int
	now           func() time.Time

	mu          sync.Mutex
	currentDate string
	file        *os.File
}

// NewDailyWriter creates a writer using the default file prefix.
func NewDailyWriter(dir string, retentionDays int) (*DailyWriter, error) {
	return NewDailyWriterWithPrefix(dir, defaultPrefix, retentionDays)
}

// NewDailyWriterWithPrefix creates a writer with a custom file prefix.
func NewDailyWriterWithPrefix(dir, prefix string, retentionDays int) (*DailyWriter, error) {
	if retentionDays <= 0 {
		retentionDays = defaultRetention
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	w := &DailyWriter{dir: dir, prefix: prefix, retentionDays: retentionDays, now: time.Now}
	if err := w.openFor(w.now()); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer.
func (w *DailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.openFor(w.now()); err != nil {
		return 0, err
	}
	return w.file.Write(p)
}

// Close closes the current file.
func (w *DailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Path returns the file written for day t.
func (w *DailyWriter) Path(t time.Time) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.log", w.prefix, t.Format(fileDateLayout)))
}

func (w *DailyWriter) openFor(now time.Time) error {
	date := now.Format(fileDateLayout)
	if date == w.currentDate && w.file != nil {
		return nil
	}
	if w.file != nil {
		_ = w.file.Close()
	}
	file, err := os.OpenFile(w.Path(now), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.file = file
	w.currentDate = date
	w.prune(now)
	return nil
}

func (w *DailyWriter) prune(now time.Time) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	cutoff := now.AddDate(0, 0, -w.retentionDays)
	prefix := w.prefix + "-"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		day, err := time.Parse(fileDateLayout, strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".log"))
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			_ = os.Remove(filepath.Join(w.dir, name))
		}
	}
}

// NewLogger builds the process logger, writing to the console and a daily
// file, and installs it as slog.Default.
func NewLogger(opts Options) (*slog.Logger, *DailyWriter, error) {
	writer, err := NewDailyWriter(opts.Dir, opts.RetentionDays)
	if err != nil {
		return nil, nil, err
	}
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	level, ok := ParseLevel(os.Getenv(EnvLogLevel))
	if !ok {
		level, _ = ParseLevel(opts.Level)
	}
	format := strings.TrimSpace(os.Getenv(EnvLogFormat))
	if format == "" {
		format = opts.Format
	}

	handler := newHandler(io.MultiWriter(console, writer), level, format)
	logger := slog.New(handler).With("service", defaultPrefix)
	slog.SetDefault(logger)
	return logger, writer, nil
}

// ParseLevel accepts debug, info, warn(ing), error or a numeric slog level.
// Unknown or empty values report false and return info.
func ParseLevel(value string) (slog.Level, bool) {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case "":
		return slog.LevelInfo, false
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		if i, err := strconv.Atoi(v); err == nil {
			return slog.Level(i), true
		}
		return slog.LevelInfo, false
	}
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	options := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(w, options)
	}
	return slog.NewTextHandler(w, options)
}
