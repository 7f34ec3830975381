package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pkfitzVT/event-stock-response/internal/api"
	"github.com/pkfitzVT/event-stock-response/internal/config"
	"github.com/pkfitzVT/event-stock-response/internal/logging"
	"github.com/pkfitzVT/event-stock-response/internal/pgstore"
	"github.com/pkfitzVT/event-stock-response/internal/redisstore"
	"github.com/pkfitzVT/event-stock-response/pkg/eventstudy"
)

var getppid = os.Getppid
var sleep = time.Sleep
var exit = os.Exit

func main() {
	var configPath string
	var dataDir string
	var port int
	var host string
	var webDir string

	flag.StringVar(&configPath, "config", "", "Path to a TOML config file (optional)")
	flag.StringVar(&dataDir, "data-dir", "", "Directory for storing database and application data")
	flag.IntVar(&port, "port", 0, "Port to run the server on (overrides config)")
	flag.StringVar(&host, "host", "", "Host to bind the server to (overrides config)")
	flag.StringVar(&webDir, "web-dir", "", "Directory for SPA static files (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	config.ApplyFlagOverrides(cfg, host, port, dataDir)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}
	if err := run(cfg, webDir); err != nil {
		os.Exit(1)
	}
}

// run serves until SIGINT or SIGTERM. Failures are logged before returning.
func run(cfg *config.Config, webDir string) error {
	logger, writer, err := logging.NewLogger(logging.Options{
		Dir:           resolveLogDir(cfg),
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		RetentionDays: cfg.Logging.RetentionDays,
	})
	if err != nil {
		slog.Error("failed to initialize logger", "err", err)
		return err
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("failed to close log writer", "err", err)
		}
	}()

	ctx := context.Background()
	opts := coreOptions(cfg, logger)

	closers, err := openStores(ctx, cfg, &opts)
	defer closeAll(logger, closers)
	if err != nil {
		logger.Error("failed to open stores", "err", err)
		return err
	}

	core, err := eventstudy.OpenWithOptions(opts)
	if err != nil {
		logger.Error("failed to initialize core", "err", err)
		return err
	}
	defer func() {
		if err := core.Close(); err != nil {
			logger.Error("failed to close core", "err", err)
		}
	}()

	if os.Getenv("EVENTSTUDY_PARENT_WATCH") == "1" {
		go watchParent(logger)
	}

	scheduler, err := startMaintenance(core, cfg, logger)
	if err != nil {
		logger.Error("failed to schedule maintenance", "err", err)
		return err
	}
	defer func() {
		<-scheduler.Stop().Done()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	handler := api.NewRouter(core, api.Options{AllowedOrigins: cfg.Server.AllowedOrigins})
	if resolvedWebDir := resolveWebDir(webDir); resolvedWebDir != "" {
		logger.Info("serving SPA", "web_dir", resolvedWebDir)
		handler = api.WithSPA(handler, resolvedWebDir)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout.Duration,
		WriteTimeout:      cfg.Server.WriteTimeout.Duration,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server starting",
		"addr", addr,
		"db_path", core.DBPath(),
		"record_driver", cfg.Storage.RecordDriver,
		"session_driver", cfg.Session.Driver,
		"llm_provider", cfg.LLM.Provider,
	)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	signal.Stop(stop)

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "err", err)
		return err
	}
	return nil
}

func coreOptions(cfg *config.Config, logger *slog.Logger) eventstudy.Options {
	return eventstudy.Options{
		DBPath: cfg.DBPath(),
		Logger: logger,
		LLM: eventstudy.LLMOptions{
			Provider:    cfg.LLM.Provider,
			Model:       cfg.LLM.Model,
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
		LLMTimeout: cfg.LLM.Timeout.Duration,
		Prices: eventstudy.PriceOptions{
			Sources:       cfg.Prices.Sources,
			CacheTTL:      cfg.Prices.CacheTTL.Duration,
			StoreMaxAge:   cfg.Prices.StoreMaxAge.Duration,
			FailThreshold: cfg.Prices.FailThreshold,
			FailWindow:    cfg.Prices.FailWindow.Duration,
			Cooldown:      cfg.Prices.Cooldown.Duration,
			HTTPTimeout:   cfg.Prices.HTTPTimeout.Duration,
			RateLimit:     cfg.Prices.RateLimit,
			Concurrency:   cfg.Prices.Concurrency,
			FetchTimeout:  cfg.Prices.FetchTimeout.Duration,
			Alpaca: eventstudy.AlpacaOptions{
				APIKey:    cfg.Prices.AlpacaKey,
				APISecret: cfg.Prices.AlpacaSecret,
				Feed:      cfg.Prices.AlpacaFeed,
			},
		},
		SessionTTL: cfg.Session.TTL.Duration,
	}
}

// openStores fills in the record and session stores the config asks for.
// The sqlite drivers are left nil so Core uses its own database. Closers are
// returned even on error so partial opens are released.
func openStores(ctx context.Context, cfg *config.Config, opts *eventstudy.Options) ([]io.Closer, error) {
	var closers []io.Closer

	switch cfg.Storage.RecordDriver {
	case "postgres":
		records, err := pgstore.Open(cfg.Storage.PostgresDSN)
		if err != nil {
			return closers, err
		}
		closers = append(closers, records)
		opts.Records = records
	}

	switch cfg.Session.Driver {
	case "memory":
		opts.Sessions = eventstudy.NewMemorySessionStore(cfg.Session.TTL.Duration)
	case "redis":
		sessions, err := redisstore.Open(ctx, redisstore.Options{
			Addr:     cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
			Prefix:   cfg.Session.RedisPrefix,
			TTL:      cfg.Session.TTL.Duration,
		})
		if err != nil {
			return closers, err
		}
		closers = append(closers, sessions)
		opts.Sessions = sessions
	}
	return closers, nil
}

func closeAll(logger *slog.Logger, closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logger.Error("failed to close store", "err", err)
		}
	}
}

// startMaintenance schedules session sweeping and price cache pruning.
func startMaintenance(core *eventstudy.Core, cfg *config.Config, logger *slog.Logger) (*cron.Cron, error) {
	scheduler := cron.New()
	schedule := "@every " + cfg.Session.SweepInterval.Duration.String()
	pruneAge := cfg.Prices.PruneMaxAge.Duration
	_, err := scheduler.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		report, err := core.RunMaintenance(ctx, pruneAge)
		if err != nil {
			logger.Warn("maintenance failed", "err", err)
			return
		}
		logger.Debug("maintenance finished",
			"sessions_swept", report.SessionsSwept,
			"price_windows", report.PriceWindows,
		)
	})
	if err != nil {
		return nil, err
	}
	scheduler.Start()
	return scheduler, nil
}

func resolveLogDir(cfg *config.Config) string {
	dir := cfg.Logging.Dir
	if dir == "" {
		dir = "logs"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(cfg.Storage.DataDir, dir)
}

func watchParent(logger *slog.Logger) {
	for {
		sleep(1 * time.Second)
		if getppid() == 1 {
			logger.Info("parent process exited; shutting down")
			exit(0)
		}
	}
}

func resolveWebDir(input string) string {
	if input != "" {
		if dirExists(input) {
			return input
		}
		return ""
	}

	candidates := []string{"web", "static", "../static"}
	for _, candidate := range candidates {
		if dirExists(candidate) {
			return candidate
		}
	}
	if exe, err := os.Executable(); err == nil {
		base := filepath.Dir(exe)
		for _, candidate := range candidates {
			path := filepath.Join(base, candidate)
			if dirExists(path) {
				return path
			}
		}
	}
	return ""
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
