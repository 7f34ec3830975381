package eventstudy

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// PriceOptions controls how price history is fetched and cached.
type PriceOptions struct {
	// Sources lists source names in the order they are tried ("yahoo", "alpaca").
	Sources       []string
	CacheTTL      time.Duration
	StoreMaxAge   time.Duration
	FailThreshold int
	FailWindow    time.Duration
	Cooldown      time.Duration
	HTTPTimeout   time.Duration
	RateLimit     float64
	Concurrency   int
	FetchTimeout  time.Duration
	HTTPClient    HTTPDoer
	Alpaca        AlpacaOptions
}

// Options controls Core initialization.
type Options struct {
	DBPath string
	Logger *slog.Logger

	// Completer overrides the completer built from LLM.
	Completer  TextCompleter
	LLM        LLMOptions
	LLMTimeout time.Duration

	// History overrides the fetcher built from Prices.
	History PriceHistory
	Prices  PriceOptions

	// Records and Sessions default to the sqlite implementations on DBPath.
	Records    RecordStore
	Sessions   SessionStore
	SessionTTL time.Duration

	Horizons []Horizon
}

// Core wires the wizard to its collaborators and owns the sqlite database.
type Core struct {
	db     *sql.DB
	logger *slog.Logger
	dbPath string

	history  PriceHistory
	records  RecordStore
	sessions SessionStore
	wizard   *Wizard

	lockMu       sync.Mutex
	sessionLocks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Open initializes a Core using the provided database path.
func Open(dbPath string) (*Core, error) {
	return OpenWithOptions(Options{DBPath: dbPath})
}

// OpenWithOptions initializes a Core using the provided options.
func OpenWithOptions(opts Options) (*Core, error) {
	if opts.DBPath == "" {
		return nil, errors.New("db path is required")
	}
	cleanPath := filepath.Clean(opts.DBPath)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite performs best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Warn("pragma busy_timeout failed", "err", err)
	}

	if err := initDatabase(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}

	completer := opts.Completer
	if completer == nil {
		llm := opts.LLM
		if llm.Logger == nil {
			llm.Logger = logger
		}
		completer, err = NewTextCompleter(llm)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("build completer: %w", err)
		}
	}

	history := opts.History
	if history == nil {
		history, err = newDefaultHistory(db, logger, opts.Prices)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	c := &Core{
		db:           db,
		logger:       logger,
		dbPath:       cleanPath,
		history:      history,
		sessionLocks: map[string]*sessionLock{},
	}
	c.records = opts.Records
	if c.records == nil {
		c.records = &sqliteRecordStore{db: db}
	}
	c.sessions = opts.Sessions
	if c.sessions == nil {
		c.sessions = &sqliteSessionStore{db: db, ttl: defaultDuration(opts.SessionTTL, DefaultSessionTTL)}
	}

	c.wizard = NewWizard(WizardDeps{
		Dates:   NewDateExtractor(completer, logger, opts.LLMTimeout),
		Tickers: NewTickerSuggester(completer, logger, opts.LLMTimeout),
		Aligner: NewAlignmentEngine(history, AlignmentOptions{
			Logger:      logger,
			Concurrency: opts.Prices.Concurrency,
			Timeout:     opts.Prices.FetchTimeout,
		}),
		Records:  c.records,
		Horizons: opts.Horizons,
		Logger:   logger,
	})
	return c, nil
}

func newDefaultHistory(db *sql.DB, logger *slog.Logger, opts PriceOptions) (PriceHistory, error) {
	names := opts.Sources
	if len(names) == 0 {
		names = []string{sourceYahoo, sourceAlpaca}
	}
	var sources []namedHistory
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case sourceYahoo:
			sources = append(sources, namedHistory{name: sourceYahoo, source: newYahooHistory(yahooHistoryOptions{
				HTTPClient: opts.HTTPClient,
				Timeout:    opts.HTTPTimeout,
				RateLimit:  opts.RateLimit,
			})})
		case sourceAlpaca:
			if opts.Alpaca.APIKey == "" || opts.Alpaca.APISecret == "" {
				logger.Debug("alpaca source skipped: no credentials")
				continue
			}
			sources = append(sources, namedHistory{name: sourceAlpaca, source: newAlpacaHistory(opts.Alpaca)})
		default:
			return nil, NewError(ErrCodeInvalidInput, fmt.Sprintf("unknown price source %q", name))
		}
	}
	return newHistoryFetcher(historyFetcherOptions{
		Logger:        logger,
		Sources:       sources,
		Store:         &sqliteHistoryStore{db: db},
		CacheTTL:      defaultDuration(opts.CacheTTL, 10*time.Minute),
		StoreMaxAge:   defaultDuration(opts.StoreMaxAge, 24*time.Hour),
		FailThreshold: opts.FailThreshold,
		FailWindow:    opts.FailWindow,
		Cooldown:      opts.Cooldown,
	}), nil
}

// Close releases database resources.
func (c *Core) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DBPath returns the underlying database path.
func (c *Core) DBPath() string {
	return c.dbPath
}

// Logger returns the logger the Core was built with.
func (c *Core) Logger() *slog.Logger {
	return c.logger
}

// Records returns the record store in use.
func (c *Core) Records() RecordStore {
	return c.records
}

// LockSession serializes wizard transitions for one session id. The returned
// func releases the lock.
func (c *Core) LockSession(id string) func() {
	c.lockMu.Lock()
	l, ok := c.sessionLocks[id]
	if !ok {
		l = &sessionLock{}
		c.sessionLocks[id] = l
	}
	l.refs++
	c.lockMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.lockMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.sessionLocks, id)
		}
		c.lockMu.Unlock()
	}
}

func defaultDuration(v time.Duration, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func defaultInt(v int, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
