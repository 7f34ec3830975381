package eventstudy

import (
	"sort"

	"github.com/shopspring/decimal"
)

// DefaultHorizons are the forward windows reported for every observation.
var DefaultHorizons = []Horizon{
	{Label: "1D", Offset: 1},
	{Label: "1W", Offset: 5},
	{Label: "2W", Offset: 10},
	{Label: "1M", Offset: 20},
	{Label: "2M", Offset: 40},
}

// ComputeReturns computes the simple forward return of every observation over
// every horizon. A horizon running past the end of the series is nil.
func ComputeReturns(alignment *AlignmentResult, horizons []Horizon) AnalysisResult {
	result := AnalysisResult{}
	if alignment == nil {
		return result
	}
	for _, obs := range alignment.Observations {
		series := alignment.Series[obs.Ticker]
		date := obs.EventDate.String()
		byTicker, ok := result[date]
		if !ok {
			byTicker = map[string]map[string]*float64{}
			result[date] = byTicker
		}
		byHorizon := make(map[string]*float64, len(horizons))
		for _, h := range horizons {
			byHorizon[h.Label] = horizonReturn(series.Points, obs.Index, h.Offset)
		}
		byTicker[obs.Ticker] = byHorizon
	}
	return result
}

func horizonReturn(points []PricePoint, index, offset int) *float64 {
	if index < 0 || index >= len(points) || index+offset >= len(points) {
		return nil
	}
	base := points[index].Close
	if base <= 0 {
		return nil
	}
	r := points[index+offset].Close/base - 1
	return &r
}

// Summarize averages each ticker's returns across event dates, per horizon.
// Missing values are skipped; a horizon with no values stays nil. Rows
// follow basket order, then any other tickers alphabetically.
func Summarize(result AnalysisResult, horizons []Horizon, basket TickerBasket) Summary {
	labels := make([]string, len(horizons))
	for i, h := range horizons {
		labels[i] = h.Label
	}

	type acc struct {
		sums   []decimal.Decimal
		counts []int
	}
	byTicker := map[string]*acc{}
	for _, tickers := range result {
		for ticker, returns := range tickers {
			a, ok := byTicker[ticker]
			if !ok {
				a = &acc{sums: make([]decimal.Decimal, len(horizons)), counts: make([]int, len(horizons))}
				byTicker[ticker] = a
			}
			for i, label := range labels {
				v := returns[label]
				if v == nil {
					continue
				}
				a.sums[i] = a.sums[i].Add(decimal.NewFromFloat(*v))
				a.counts[i]++
			}
		}
	}

	order := make([]string, 0, len(byTicker))
	listed := map[string]bool{}
	for _, ticker := range basket.All() {
		if _, ok := byTicker[ticker]; ok {
			order = append(order, ticker)
			listed[ticker] = true
		}
	}
	var extra []string
	for ticker := range byTicker {
		if !listed[ticker] {
			extra = append(extra, ticker)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	summary := Summary{Horizons: labels, Rows: make([]SummaryRow, 0, len(order))}
	for _, ticker := range order {
		a := byTicker[ticker]
		row := SummaryRow{
			Ticker: ticker,
			Side:   basket.Side(ticker),
			Means:  make([]*float64, len(horizons)),
			Counts: a.counts,
		}
		for i := range horizons {
			if a.counts[i] == 0 {
				continue
			}
			mean := a.sums[i].Div(decimal.NewFromInt(int64(a.counts[i]))).InexactFloat64()
			row.Means[i] = &mean
		}
		summary.Rows = append(summary.Rows, row)
	}
	return summary
}

// FormatPercent renders a return fraction as a signed percentage with two
// decimals ("+5.00%"). Missing renders as "n/a".
func FormatPercent(v *float64) string {
	if v == nil {
		return "n/a"
	}
	d := decimal.NewFromFloat(*v).Shift(2).Round(2)
	s := d.StringFixed(2) + "%"
	if d.IsPositive() {
		s = "+" + s
	}
	return s
}

// BuildPayload assembles the stored results blob from an alignment.
func BuildPayload(alignment *AlignmentResult, horizons []Horizon, basket TickerBasket) *AnalysisPayload {
	results := ComputeReturns(alignment, horizons)
	return &AnalysisPayload{
		Horizons: horizons,
		Results:  results,
		Summary:  Summarize(results, horizons, basket),
		Dropped:  alignment.Dropped,
		Start:    alignment.Start,
		End:      alignment.End,
	}
}
