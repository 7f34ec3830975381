package eventstudy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Source names accepted in PriceOptions.Sources.
const (
	sourceYahoo  = "yahoo"
	sourceAlpaca = "alpaca"
)

// historyStore persists fetched windows between process restarts.
type historyStore interface {
	loadHistory(ctx context.Context, ticker string, start, end Date, maxAge time.Duration) (PriceSeries, bool, error)
	saveHistory(ctx context.Context, series PriceSeries, start, end Date) error
}

type historyFetcherOptions struct {
	Logger        *slog.Logger
	Sources       []namedHistory
	Store         historyStore
	CacheTTL      time.Duration
	StoreMaxAge   time.Duration
	FailThreshold int
	FailWindow    time.Duration
	Cooldown      time.Duration
}

type namedHistory struct {
	name   string
	source PriceHistory
}

// historyFetcher tries each source in order, skipping ones whose circuit is
// open, and caches successful windows in memory and in the store.
type historyFetcher struct {
	logger        *slog.Logger
	sources       []namedHistory
	store         historyStore
	cacheTTL      time.Duration
	storeMaxAge   time.Duration
	failThreshold int
	failWindow    time.Duration
	cooldown      time.Duration

	// Separate locks for cache and circuit breaker to reduce contention.
	cacheMu      sync.RWMutex
	cache        map[string]cacheEntry
	circuitMu    sync.Mutex
	serviceState map[string]*serviceState
}

type cacheEntry struct {
	series PriceSeries
	ts     time.Time
}

type serviceState struct {
	failCount     int
	firstFailAt   time.Time
	cooldownUntil time.Time
}

func newHistoryFetcher(opts historyFetcherOptions) *historyFetcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &historyFetcher{
		logger:        logger,
		sources:       opts.Sources,
		store:         opts.Store,
		cacheTTL:      opts.CacheTTL,
		storeMaxAge:   opts.StoreMaxAge,
		failThreshold: defaultInt(opts.FailThreshold, 3),
		failWindow:    defaultDuration(opts.FailWindow, time.Minute),
		cooldown:      defaultDuration(opts.Cooldown, 2*time.Minute),
		cache:         map[string]cacheEntry{},
		serviceState:  map[string]*serviceState{},
	}
}

// FetchHistory implements PriceHistory with caching and source fallback.
func (hf *historyFetcher) FetchHistory(ctx context.Context, ticker string, start, end Date) (PriceSeries, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if cached, ok := hf.getCached(ticker, start, end); ok {
		return cached, nil
	}
	if hf.store != nil {
		series, ok, err := hf.store.loadHistory(ctx, ticker, start, end, hf.storeMaxAge)
		if err != nil {
			hf.logger.Warn("price cache read failed", "ticker", ticker, "err", err)
		} else if ok {
			hf.setCached(ticker, start, end, series)
			return series, nil
		}
	}

	hf.logger.Info("fetching price history", "ticker", ticker, "start", start.String(), "end", end.String())
	var errorsList []string
	for _, attempt := range hf.sources {
		service := attempt.name
		if !hf.serviceAvailable(service) {
			errorsList = append(errorsList, fmt.Sprintf("%s: circuit open", service))
			continue
		}
		series, err := attempt.source.FetchHistory(ctx, ticker, start, end)
		if err != nil {
			if errors.Is(err, ErrInvalidSymbol) {
				return PriceSeries{Ticker: ticker, Points: []PricePoint{}}, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return PriceSeries{}, ctxErr
			}
			hf.recordServiceFailure(service)
			errorsList = append(errorsList, fmt.Sprintf("%s: %v", service, err))
			continue
		}
		hf.recordServiceSuccess(service)
		series.Ticker = ticker
		series.Source = service
		series = normalizeSeries(series, start, end)
		if len(series.Points) == 0 {
			errorsList = append(errorsList, fmt.Sprintf("%s: no data", service))
			continue
		}
		hf.setCached(ticker, start, end, series)
		if hf.store != nil {
			if err := hf.store.saveHistory(ctx, series, start, end); err != nil {
				hf.logger.Warn("price cache write failed", "ticker", ticker, "err", err)
			}
		}
		return series, nil
	}

	if len(errorsList) == 0 {
		errorsList = append(errorsList, "no price sources configured")
	}
	msg := strings.Join(errorsList, "; ")
	if allNoData(errorsList) {
		return PriceSeries{Ticker: ticker, Points: []PricePoint{}}, fmt.Errorf("%w: %s", ErrNoData, msg)
	}
	return PriceSeries{}, fmt.Errorf("%w: %s", ErrSourceUnavailable, msg)
}

func allNoData(items []string) bool {
	for _, item := range items {
		if !strings.HasSuffix(item, ": no data") {
			return false
		}
	}
	return len(items) > 0
}

func (hf *historyFetcher) getCached(ticker string, start, end Date) (PriceSeries, bool) {
	key := cacheKey(ticker, start, end)
	hf.cacheMu.RLock()
	defer hf.cacheMu.RUnlock()
	entry, ok := hf.cache[key]
	if !ok {
		return PriceSeries{}, false
	}
	if time.Since(entry.ts) <= hf.cacheTTL {
		return entry.series, true
	}
	return PriceSeries{}, false
}

func (hf *historyFetcher) setCached(ticker string, start, end Date, series PriceSeries) {
	key := cacheKey(ticker, start, end)
	now := time.Now()
	hf.cacheMu.Lock()
	defer hf.cacheMu.Unlock()
	// Stale entries are dropped on every write.
	for k, entry := range hf.cache {
		if now.Sub(entry.ts) > hf.cacheTTL {
			delete(hf.cache, k)
		}
	}
	hf.cache[key] = cacheEntry{series: series, ts: now}
}

func cacheKey(ticker string, start, end Date) string {
	return fmt.Sprintf("%s|%s|%s", ticker, start, end)
}

func (hf *historyFetcher) serviceAvailable(service string) bool {
	hf.circuitMu.Lock()
	defer hf.circuitMu.Unlock()
	state, ok := hf.serviceState[service]
	if !ok {
		return true
	}
	return time.Now().After(state.cooldownUntil)
}

func (hf *historyFetcher) recordServiceFailure(service string) {
	hf.circuitMu.Lock()
	defer hf.circuitMu.Unlock()
	state := hf.serviceState[service]
	now := time.Now()
	if state == nil {
		state = &serviceState{firstFailAt: now}
		hf.serviceState[service] = state
	}
	if now.Sub(state.firstFailAt) > hf.failWindow {
		state.failCount = 0
		state.firstFailAt = now
	}
	state.failCount++
	if state.failCount >= hf.failThreshold {
		state.cooldownUntil = now.Add(hf.cooldown)
		hf.logger.Warn("price source circuit opened", "source", service, "cooldown", hf.cooldown.String())
	}
}

func (hf *historyFetcher) recordServiceSuccess(service string) {
	hf.circuitMu.Lock()
	defer hf.circuitMu.Unlock()
	delete(hf.serviceState, service)
}
