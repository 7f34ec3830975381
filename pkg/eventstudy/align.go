package eventstudy

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Window padding around the event dates. The trailing pad leaves room for
// the longest default horizon (40 trading days).
const (
	windowLeadDays  = 10
	windowTrailDays = 60
)

// Reasons recorded on DroppedPair.
const (
	dropNoSeries      = "no price data for ticker"
	dropBeforeHistory = "no trading day at or before event date"
)

// NoDataMessage is shown when no (date, ticker) pair could be priced.
const NoDataMessage = "No usable price data for the selected dates and tickers. Try different tickers."

// FetchWindow returns the padded price window covering dates. dates must be non-empty.
func FetchWindow(dates []Date) (Date, Date) {
	lo, hi := dates[0], dates[0]
	for _, d := range dates[1:] {
		if d.Before(lo) {
			lo = d
		}
		if d.After(hi) {
			hi = d
		}
	}
	return lo.AddDays(-windowLeadDays), hi.AddDays(windowTrailDays)
}

// AlignDate returns the index of the last trading day at or before d.
func AlignDate(series PriceSeries, d Date) (int, bool) {
	points := series.Points
	// First index strictly after d; the one before it is the answer.
	i := sort.Search(len(points), func(i int) bool { return points[i].Date.After(d) })
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}

// AlignmentOptions configures an AlignmentEngine.
type AlignmentOptions struct {
	Logger      *slog.Logger
	Concurrency int
	// Timeout bounds each ticker fetch.
	Timeout time.Duration
}

// AlignmentEngine fetches price series for a set of tickers and resolves each
// event date to a trading day in each series.
type AlignmentEngine struct {
	history     PriceHistory
	logger      *slog.Logger
	concurrency int
	timeout     time.Duration
}

// NewAlignmentEngine builds an AlignmentEngine over history.
func NewAlignmentEngine(history PriceHistory, opts AlignmentOptions) *AlignmentEngine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AlignmentEngine{
		history:     history,
		logger:      logger,
		concurrency: defaultInt(opts.Concurrency, 4),
		timeout:     defaultDuration(opts.Timeout, 20*time.Second),
	}
}

// Align fetches every ticker over the padded window and aligns every event
// date against it. Pairs that cannot be resolved are dropped. When nothing
// survives, the partial result is returned with an ErrCodeNoData error.
func (e *AlignmentEngine) Align(ctx context.Context, dates []Date, tickers []string) (*AlignmentResult, error) {
	dates = sortUniqueDates(dates)
	tickers = NormalizeTickers(tickers)
	if len(dates) == 0 {
		return nil, NewError(ErrCodeInvalidInput, "at least one event date is required")
	}
	if len(tickers) == 0 {
		return nil, NewError(ErrCodeInvalidInput, "at least one ticker is required")
	}
	start, end := FetchWindow(dates)

	series, err := e.fetchAll(ctx, tickers, start, end)
	if err != nil {
		return nil, err
	}

	result := &AlignmentResult{
		Observations: []AlignedObservation{},
		Series:       series,
		Dropped:      []DroppedPair{},
		Start:        start,
		End:          end,
	}
	for _, d := range dates {
		for _, ticker := range tickers {
			s := series[ticker]
			if len(s.Points) == 0 {
				result.Dropped = append(result.Dropped, DroppedPair{EventDate: d, Ticker: ticker, Reason: dropNoSeries})
				continue
			}
			idx, ok := AlignDate(s, d)
			if !ok {
				result.Dropped = append(result.Dropped, DroppedPair{EventDate: d, Ticker: ticker, Reason: dropBeforeHistory})
				continue
			}
			result.Observations = append(result.Observations, AlignedObservation{
				EventDate:  d,
				Ticker:     ticker,
				Index:      idx,
				TradingDay: s.Points[idx].Date,
			})
		}
	}

	if len(result.Dropped) > 0 {
		e.logger.Warn("dropped unaligned pairs", "dropped", len(result.Dropped), "kept", len(result.Observations))
	}
	if len(result.Observations) == 0 {
		return result, NewError(ErrCodeNoData, NoDataMessage)
	}
	return result, nil
}

// fetchAll fetches tickers concurrently and waits for all of them. A failed
// fetch yields an empty series; only cancellation of ctx aborts the batch.
func (e *AlignmentEngine) fetchAll(ctx context.Context, tickers []string, start, end Date) (map[string]PriceSeries, error) {
	var mu sync.Mutex
	out := make(map[string]PriceSeries, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, ticker := range tickers {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()
			s, err := e.history.FetchHistory(fetchCtx, ticker, start, end)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				e.logger.Warn("price fetch failed; ticker treated as empty", "ticker", ticker, "err", err)
				s = PriceSeries{Ticker: ticker}
			}
			s.Ticker = ticker
			s = normalizeSeries(s, start, end)

			mu.Lock()
			out[ticker] = s
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, WrapError(ErrCodeUpstream, "price fetch cancelled", err)
	}
	return out, nil
}
