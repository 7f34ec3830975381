package eventstudy

import (
	"context"
	"errors"
	"net/http"
	"sort"
)

// Price history errors. Use errors.Is() to check for these conditions.
var (
	// ErrInvalidSymbol indicates the ticker format is not accepted by the source.
	ErrInvalidSymbol = errors.New("invalid symbol format")
	// ErrNoData indicates the source returned no closes for the window.
	ErrNoData = errors.New("no price data available")
	// ErrSourceUnavailable indicates every configured source is failing or cooling down.
	ErrSourceUnavailable = errors.New("price sources unavailable")
)

// PriceHistory returns daily closes for ticker between start and end inclusive.
// An unknown or delisted ticker yields an empty series, not an error.
type PriceHistory interface {
	FetchHistory(ctx context.Context, ticker string, start, end Date) (PriceSeries, error)
}

// HTTPDoer is an interface for making HTTP requests. It enables dependency
// injection for testing without network calls.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// normalizeSeries sorts points by date, keeps the last close seen for a
// repeated date, drops non-positive closes and clips to [start, end].
func normalizeSeries(series PriceSeries, start, end Date) PriceSeries {
	byDate := make(map[Date]float64, len(series.Points))
	for _, p := range series.Points {
		if p.Close <= 0 || p.Date.IsZero() {
			continue
		}
		if !start.IsZero() && p.Date.Before(start) {
			continue
		}
		if !end.IsZero() && p.Date.After(end) {
			continue
		}
		byDate[p.Date] = p.Close
	}
	points := make([]PricePoint, 0, len(byDate))
	for d, c := range byDate {
		points = append(points, PricePoint{Date: d, Close: c})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return PriceSeries{Ticker: series.Ticker, Source: series.Source, Points: points}
}
