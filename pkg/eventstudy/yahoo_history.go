package eventstudy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	yahooChartURL = "https://query1.finance.yahoo.com/v8/finance/chart/%s?%s"
	// maxResponseSize limits external API responses to 4MB; two years of
	// daily bars stay well under it.
	maxResponseSize = 4 << 20
)

var reYahooSymbol = regexp.MustCompile(`^[A-Z0-9.\-^=]{1,15}$`)

type yahooChartResponse struct {
	Chart struct {
		Result []yahooChartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type yahooChartResult struct {
	Meta struct {
		Symbol               string `json:"symbol"`
		ExchangeTimezoneName string `json:"exchangeTimezoneName"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

type yahooHistoryOptions struct {
	HTTPClient HTTPDoer
	Timeout    time.Duration
	RateLimit  float64
}

// yahooHistory reads split/dividend adjusted daily closes from the Yahoo chart API.
type yahooHistory struct {
	client  HTTPDoer
	limiter *rate.Limiter
	baseURL string
}

func newYahooHistory(opts yahooHistoryOptions) *yahooHistory {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultDuration(opts.Timeout, 10*time.Second)}
	}
	limit := opts.RateLimit
	if limit <= 0 {
		limit = 2
	}
	burst := int(limit)
	if burst < 1 {
		burst = 1
	}
	return &yahooHistory{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(limit), burst),
		baseURL: yahooChartURL,
	}
}

func (y *yahooHistory) FetchHistory(ctx context.Context, ticker string, start, end Date) (PriceSeries, error) {
	symbol := strings.ToUpper(strings.TrimSpace(ticker))
	if !reYahooSymbol.MatchString(symbol) {
		return PriceSeries{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, ticker)
	}
	if err := y.limiter.Wait(ctx); err != nil {
		return PriceSeries{}, err
	}

	query := url.Values{}
	query.Set("interval", "1d")
	query.Set("period1", fmt.Sprint(start.Time().Unix()))
	// period2 is exclusive; one extra day keeps end inclusive.
	query.Set("period2", fmt.Sprint(end.AddDays(1).Time().Unix()))
	query.Set("events", "div,split")
	query.Set("includeAdjustedClose", "true")
	endpoint := fmt.Sprintf(y.baseURL, url.PathEscape(symbol), query.Encode())

	body, status, err := httpGet(ctx, y.client, endpoint, map[string]string{"User-Agent": "Mozilla/5.0"})
	if err != nil {
		return PriceSeries{}, err
	}
	var payload yahooChartResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return PriceSeries{}, fmt.Errorf("decode yahoo chart: %w", err)
	}
	if payload.Chart.Error != nil {
		if strings.EqualFold(payload.Chart.Error.Code, "Not Found") || status == http.StatusNotFound {
			return PriceSeries{Ticker: symbol, Points: []PricePoint{}}, nil
		}
		return PriceSeries{}, fmt.Errorf("yahoo chart error: %s", payload.Chart.Error.Description)
	}
	if status < 200 || status >= 300 {
		return PriceSeries{}, fmt.Errorf("http status %d", status)
	}
	if len(payload.Chart.Result) == 0 {
		return PriceSeries{Ticker: symbol, Points: []PricePoint{}}, nil
	}
	return yahooSeries(symbol, payload.Chart.Result[0]), nil
}

// yahooSeries prefers adjusted closes and falls back to raw closes. Bars are
// dated in the exchange's own zone.
func yahooSeries(symbol string, result yahooChartResult) PriceSeries {
	loc := newYorkLocation
	if name := result.Meta.ExchangeTimezoneName; name != "" {
		if l, err := time.LoadLocation(name); err == nil {
			loc = l
		}
	}
	var closes []*float64
	if len(result.Indicators.AdjClose) > 0 && len(result.Indicators.AdjClose[0].AdjClose) == len(result.Timestamp) {
		closes = result.Indicators.AdjClose[0].AdjClose
	} else if len(result.Indicators.Quote) > 0 {
		closes = result.Indicators.Quote[0].Close
	}

	points := make([]PricePoint, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		points = append(points, PricePoint{
			Date:  DateOf(time.Unix(ts, 0), loc),
			Close: *closes[i],
		})
	}
	return PriceSeries{Ticker: symbol, Source: sourceYahoo, Points: points}
}

// httpGet returns the body and status; non-2xx statuses are not errors so
// callers can read provider error payloads.
func httpGet(ctx context.Context, client HTTPDoer, endpoint string, headers map[string]string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
