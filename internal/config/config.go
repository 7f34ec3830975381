package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// EnvConfigPath names the TOML file when -config is not given.
const EnvConfigPath = "EVENTSTUDY_CONFIG"

// Duration is a time.Duration that reads "90s"-style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full process configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Session SessionConfig `toml:"session"`
	LLM     LLMConfig     `toml:"llm"`
	Prices  PricesConfig  `toml:"prices"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Host            string   `toml:"host"`
	Port            int      `toml:"port" validate:"min=1,max=65535"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	AllowedOrigins  []string `toml:"allowed_origins"`
}

type StorageConfig struct {
	DataDir      string `toml:"data_dir"`
	DBName       string `toml:"db_name" validate:"required"`
	RecordDriver string `toml:"record_driver" validate:"oneof=sqlite postgres"`
	PostgresDSN  string `toml:"postgres_dsn" validate:"required_if=RecordDriver postgres"`
}

type SessionConfig struct {
	Driver        string   `toml:"driver" validate:"oneof=sqlite redis memory"`
	TTL           Duration `toml:"ttl"`
	SweepInterval Duration `toml:"sweep_interval"`
	RedisAddr     string   `toml:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword string   `toml:"redis_password"`
	RedisDB       int      `toml:"redis_db" validate:"min=0"`
	RedisPrefix   string   `toml:"redis_prefix"`
}

type LLMConfig struct {
	Provider    string   `toml:"provider" validate:"oneof=openai anthropic gemini"`
	Model       string   `toml:"model"`
	BaseURL     string   `toml:"base_url"`
	APIKey      string   `toml:"api_key"`
	Timeout     Duration `toml:"timeout"`
	Temperature float64  `toml:"temperature" validate:"min=0,max=2"`
	MaxTokens   int      `toml:"max_tokens" validate:"min=0"`
}

type PricesConfig struct {
	Sources       []string `toml:"sources" validate:"min=1,dive,oneof=yahoo alpaca"`
	CacheTTL      Duration `toml:"cache_ttl"`
	StoreMaxAge   Duration `toml:"store_max_age"`
	PruneMaxAge   Duration `toml:"prune_max_age"`
	HTTPTimeout   Duration `toml:"http_timeout"`
	RateLimit     float64  `toml:"rate_limit" validate:"gt=0"`
	FailThreshold int      `toml:"fail_threshold" validate:"min=1"`
	FailWindow    Duration `toml:"fail_window"`
	Cooldown      Duration `toml:"cooldown"`
	Concurrency   int      `toml:"concurrency" validate:"min=1"`
	FetchTimeout  Duration `toml:"fetch_timeout"`
	AlpacaKey     string   `toml:"alpaca_key"`
	AlpacaSecret  string   `toml:"alpaca_secret"`
	AlpacaFeed    string   `toml:"alpaca_feed"`
}

type LoggingConfig struct {
	Dir           string `toml:"dir"`
	Level         string `toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format        string `toml:"format" validate:"omitempty,oneof=text json"`
	RetentionDays int    `toml:"retention_days" validate:"min=1"`
}

// NewDefaultConfig returns a configuration usable without any file.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{2 * time.Minute},
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Storage: StorageConfig{
			DataDir:      "data",
			DBName:       "eventstudy.db",
			RecordDriver: "sqlite",
		},
		Session: SessionConfig{
			Driver:        "sqlite",
			TTL:           Duration{24 * time.Hour},
			SweepInterval: Duration{15 * time.Minute},
			RedisAddr:     "localhost:6379",
			RedisPrefix:   "eventstudy:wizard:",
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Timeout:     Duration{60 * time.Second},
			Temperature: 0.2,
		},
		Prices: PricesConfig{
			Sources:       []string{"yahoo", "alpaca"},
			CacheTTL:      Duration{10 * time.Minute},
			StoreMaxAge:   Duration{24 * time.Hour},
			PruneMaxAge:   Duration{7 * 24 * time.Hour},
			HTTPTimeout:   Duration{10 * time.Second},
			RateLimit:     2,
			FailThreshold: 3,
			FailWindow:    Duration{2 * time.Minute},
			Cooldown:      Duration{5 * time.Minute},
			Concurrency:   4,
			FetchTimeout:  Duration{20 * time.Second},
			AlpacaFeed:    "iex",
		},
		Logging: LoggingConfig{
			Dir:           "logs",
			Level:         "info",
			Format:        "text",
			RetentionDays: 7,
		},
	}
}

// Load layers defaults, the TOML file at path (or $EVENTSTUDY_CONFIG), a
// .env file in the working directory and environment overrides.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Existing environment wins over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *Duration) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}

	str("EVENTSTUDY_HOST", &cfg.Server.Host)
	num("EVENTSTUDY_PORT", &cfg.Server.Port)
	if v := strings.TrimSpace(os.Getenv("EVENTSTUDY_ALLOWED_ORIGINS")); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	str("EVENTSTUDY_DATA_DIR", &cfg.Storage.DataDir)
	str("EVENTSTUDY_DB_NAME", &cfg.Storage.DBName)
	str("EVENTSTUDY_RECORD_DRIVER", &cfg.Storage.RecordDriver)
	str("EVENTSTUDY_POSTGRES_DSN", &cfg.Storage.PostgresDSN)

	str("EVENTSTUDY_SESSION_DRIVER", &cfg.Session.Driver)
	dur("EVENTSTUDY_SESSION_TTL", &cfg.Session.TTL)
	dur("EVENTSTUDY_SESSION_SWEEP_INTERVAL", &cfg.Session.SweepInterval)
	str("EVENTSTUDY_REDIS_ADDR", &cfg.Session.RedisAddr)
	str("EVENTSTUDY_REDIS_PASSWORD", &cfg.Session.RedisPassword)
	num("EVENTSTUDY_REDIS_DB", &cfg.Session.RedisDB)

	str("EVENTSTUDY_LLM_PROVIDER", &cfg.LLM.Provider)
	str("EVENTSTUDY_LLM_MODEL", &cfg.LLM.Model)
	str("EVENTSTUDY_LLM_BASE_URL", &cfg.LLM.BaseURL)
	dur("EVENTSTUDY_LLM_TIMEOUT", &cfg.LLM.Timeout)
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "openai":
			str("OPENAI_API_KEY", &cfg.LLM.APIKey)
		case "anthropic":
			str("ANTHROPIC_API_KEY", &cfg.LLM.APIKey)
		case "gemini":
			str("GEMINI_API_KEY", &cfg.LLM.APIKey)
		}
	}
	str("EVENTSTUDY_LLM_API_KEY", &cfg.LLM.APIKey)

	if v := strings.TrimSpace(os.Getenv("EVENTSTUDY_PRICE_SOURCES")); v != "" {
		cfg.Prices.Sources = splitList(strings.ToLower(v))
	}
	num("EVENTSTUDY_PRICE_CONCURRENCY", &cfg.Prices.Concurrency)
	dur("EVENTSTUDY_PRICE_HTTP_TIMEOUT", &cfg.Prices.HTTPTimeout)
	str("APCA_API_KEY_ID", &cfg.Prices.AlpacaKey)
	str("APCA_API_SECRET_KEY", &cfg.Prices.AlpacaSecret)
	str("EVENTSTUDY_ALPACA_FEED", &cfg.Prices.AlpacaFeed)

	str("EVENTSTUDY_LOG_DIR", &cfg.Logging.Dir)
	str("EVENTSTUDY_LOG_LEVEL", &cfg.Logging.Level)
	str("EVENTSTUDY_LOG_FORMAT", &cfg.Logging.Format)
	num("EVENTSTUDY_LOG_RETENTION_DAYS", &cfg.Logging.RetentionDays)

	return errors.Join(errs...)
}

// ApplyFlagOverrides applies non-zero command line values.
func ApplyFlagOverrides(cfg *Config, host string, port int, dataDir string) {
	if host != "" {
		cfg.Server.Host = host
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects unknown drivers and providers and non-positive durations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	durations := map[string]Duration{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"session.ttl":             c.Session.TTL,
		"session.sweep_interval":  c.Session.SweepInterval,
		"llm.timeout":             c.LLM.Timeout,
		"prices.cache_ttl":        c.Prices.CacheTTL,
		"prices.store_max_age":    c.Prices.StoreMaxAge,
		"prices.prune_max_age":    c.Prices.PruneMaxAge,
		"prices.http_timeout":     c.Prices.HTTPTimeout,
		"prices.fail_window":      c.Prices.FailWindow,
		"prices.cooldown":         c.Prices.Cooldown,
		"prices.fetch_timeout":    c.Prices.FetchTimeout,
	}
	var errs []error
	for name, d := range durations {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// DBPath is the sqlite file under the data directory.
func (c *Config) DBPath() string {
	if env := os.Getenv("EVENTSTUDY_DB_PATH"); env != "" {
		return env
	}
	return filepath.Join(c.Storage.DataDir, c.Storage.DBName)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
