package eventstudy

import (
	"context"
	"fmt"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

// AlpacaOptions configures the Alpaca market data source.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Feed      string
}

type alpacaBarsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// alpacaHistory reads all-adjusted daily bars from Alpaca market data.
type alpacaHistory struct {
	client alpacaBarsClient
	feed   marketdata.Feed
}

func newAlpacaHistory(opts AlpacaOptions) *alpacaHistory {
	feed := strings.ToLower(strings.TrimSpace(opts.Feed))
	if feed == "" {
		feed = "iex"
	}
	return &alpacaHistory{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.BaseURL,
		}),
		feed: marketdata.Feed(feed),
	}
}

func (a *alpacaHistory) FetchHistory(ctx context.Context, ticker string, start, end Date) (PriceSeries, error) {
	symbol := strings.ToUpper(strings.TrimSpace(ticker))
	if symbol == "" {
		return PriceSeries{}, fmt.Errorf("%w: empty ticker", ErrInvalidSymbol)
	}
	if err := ctx.Err(); err != nil {
		return PriceSeries{}, err
	}
	bars, err := a.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.All,
		Start:      start.Time(),
		End:        end.AddDays(1).Time(),
		Feed:       a.feed,
	})
	if err != nil {
		return PriceSeries{}, fmt.Errorf("alpaca get bars: %w", err)
	}
	points := make([]PricePoint, 0, len(bars))
	for _, bar := range bars {
		points = append(points, PricePoint{
			Date:  DateOf(bar.Timestamp, newYorkLocation),
			Close: bar.Close,
		})
	}
	return PriceSeries{Ticker: symbol, Source: sourceAlpaca, Points: points}, nil
}
