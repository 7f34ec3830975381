package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/pkfitzVT/event-stock-response/internal/config"
	"github.com/pkfitzVT/event-stock-response/pkg/eventstudy"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestDirExists(t *testing.T) {
	dir := t.TempDir()
	if !dirExists(dir) {
		t.Fatalf("expected dir to exist")
	}
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if dirExists(file) {
		t.Fatalf("expected file to not be dir")
	}
	if dirExists(filepath.Join(dir, "missing")) {
		t.Fatalf("expected missing path to be false")
	}
}

func TestResolveWebDir(t *testing.T) {
	tmp := t.TempDir()
	staticDir := filepath.Join(tmp, "static")
	if err := os.MkdirAll(staticDir, 0o755); err != nil {
		t.Fatalf("mkdir static: %v", err)
	}

	if got := resolveWebDir(staticDir); got != staticDir {
		t.Fatalf("expected input dir, got %q", got)
	}
	if got := resolveWebDir(filepath.Join(tmp, "missing")); got != "" {
		t.Fatalf("expected empty for missing, got %q", got)
	}

	t.Chdir(tmp)
	if got := resolveWebDir(""); got != "static" {
		t.Fatalf("expected static, got %q", got)
	}

	if err := os.MkdirAll(filepath.Join(tmp, "web"), 0o755); err != nil {
		t.Fatalf("mkdir web: %v", err)
	}
	if got := resolveWebDir(""); got != "web" {
		t.Fatalf("expected web to win, got %q", got)
	}
}

func TestResolveLogDir(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Storage.DataDir = "/var/lib/eventstudy"
	if got := resolveLogDir(cfg); got != filepath.Join("/var/lib/eventstudy", "logs") {
		t.Fatalf("expected logs under data dir, got %q", got)
	}
	cfg.Logging.Dir = "/tmp/eventstudy-logs"
	if got := resolveLogDir(cfg); got != "/tmp/eventstudy-logs" {
		t.Fatalf("expected absolute dir kept, got %q", got)
	}
}

func TestCoreOptionsFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Storage.DataDir = "/srv/data"
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.Model = "some-model"
	cfg.LLM.APIKey = "key"
	cfg.Prices.Sources = []string{"alpaca"}
	cfg.Prices.AlpacaKey = "id"
	cfg.Prices.AlpacaSecret = "secret"
	cfg.Session.TTL = config.Duration{Duration: time.Hour}

	opts := coreOptions(cfg, discardLogger())
	if opts.DBPath != filepath.Join("/srv/data", "eventstudy.db") {
		t.Fatalf("unexpected db path %q", opts.DBPath)
	}
	if opts.LLM.Provider != "anthropic" || opts.LLM.Model != "some-model" || opts.LLM.APIKey != "key" {
		t.Fatalf("unexpected llm options: %+v", opts.LLM)
	}
	if opts.LLMTimeout != cfg.LLM.Timeout.Duration {
		t.Fatalf("expected llm timeout %v, got %v", cfg.LLM.Timeout.Duration, opts.LLMTimeout)
	}
	if len(opts.Prices.Sources) != 1 || opts.Prices.Alpaca.APIKey != "id" || opts.Prices.Alpaca.Feed != "iex" {
		t.Fatalf("unexpected price options: %+v", opts.Prices)
	}
	if opts.Prices.Concurrency != 4 || opts.Prices.RateLimit != 2 {
		t.Fatalf("expected default price limits, got %+v", opts.Prices)
	}
	if opts.SessionTTL != time.Hour {
		t.Fatalf("expected session ttl 1h, got %v", opts.SessionTTL)
	}
}

func TestOpenStoresSelectsDrivers(t *testing.T) {
	ctx := context.Background()
	cfg := config.NewDefaultConfig()

	var opts eventstudy.Options
	closers, err := openStores(ctx, cfg, &opts)
	if err != nil || len(closers) != 0 {
		t.Fatalf("sqlite defaults: %v %v", closers, err)
	}
	if opts.Records != nil || opts.Sessions != nil {
		t.Fatalf("expected sqlite defaults to leave stores nil, got %+v", opts)
	}

	cfg.Session.Driver = "memory"
	opts = eventstudy.Options{}
	if _, err := openStores(ctx, cfg, &opts); err != nil {
		t.Fatalf("memory sessions: %v", err)
	}
	if _, ok := opts.Sessions.(*eventstudy.MemorySessionStore); !ok {
		t.Fatalf("expected memory session store, got %T", opts.Sessions)
	}

	cfg.Session.Driver = "redis"
	cfg.Session.RedisAddr = "127.0.0.1:1"
	opts = eventstudy.Options{}
	if _, err := openStores(ctx, cfg, &opts); err == nil {
		t.Fatalf("expected redis connection error")
	}
}

func TestStartMaintenanceSchedulesJob(t *testing.T) {
	cfg := config.NewDefaultConfig()
	core, err := eventstudy.OpenWithOptions(eventstudy.Options{
		DBPath: filepath.Join(t.TempDir(), "maint.db"),
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("open core: %v", err)
	}
	defer core.Close()

	scheduler, err := startMaintenance(core, cfg, discardLogger())
	if err != nil {
		t.Fatalf("startMaintenance: %v", err)
	}
	defer func() {
		<-scheduler.Stop().Done()
	}()
	entries := scheduler.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].Next.IsZero() {
		t.Fatalf("expected next run to be scheduled")
	}
}

func TestWatchParentExits(t *testing.T) {
	origGetppid := getppid
	origSleep := sleep
	origExit := exit
	defer func() {
		getppid = origGetppid
		sleep = origSleep
		exit = origExit
	}()

	getppid = func() int { return 1 }
	sleep = func(time.Duration) {}

	done := make(chan struct{})
	exit = func(code int) {
		close(done)
		runtime.Goexit()
	}

	go watchParent(discardLogger())

	select {
	case <-done:
		// ok
	case <-time.After(1 * time.Second):
		t.Fatalf("watchParent did not exit")
	}
}

func TestMainLifecycle(t *testing.T) {
	tmp := t.TempDir()
	t.Chdir(tmp)
	t.Setenv("EVENTSTUDY_SESSION_DRIVER", "memory")
	t.Setenv("EVENTSTUDY_LOG_LEVEL", "error")

	origArgs := os.Args
	origCommandLine := flag.CommandLine
	defer func() {
		os.Args = origArgs
		flag.CommandLine = origCommandLine
	}()

	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flag.CommandLine.SetOutput(io.Discard)
	os.Args = []string{
		"server",
		"--data-dir", filepath.Join(tmp, "data"),
		"--port", "18731",
		"--host", "127.0.0.1",
	}

	done := make(chan struct{})
	go func() {
		time.Sleep(200 * time.Millisecond)
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			_ = p.Signal(syscall.SIGTERM)
		}
	}()

	go func() {
		main()
		close(done)
	}()

	select {
	case <-done:
		// ok
	case <-time.After(5 * time.Second):
		t.Fatalf("main did not exit")
	}

	if !dirExists(filepath.Join(tmp, "data", "logs")) {
		t.Fatalf("expected log directory under data dir")
	}
	if _, err := os.Stat(filepath.Join(tmp, "data", "eventstudy.db")); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
}
