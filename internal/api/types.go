package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkfitzVT/event-stock-response/pkg/eventstudy"
)

type topicPayload struct {
	Query string `json:"query"`
	Seq   *int64 `json:"seq"`
}

type datesPayload struct {
	Confirm string   `json:"confirm"`
	Events  []string `json:"events"`
	Seq     *int64   `json:"seq"`
}

type stocksPayload struct {
	Stocks stockList `json:"stocks"`
	TopN   int       `json:"top_n"`
	Seq    *int64    `json:"seq"`
}

// stockList accepts either "AAPL, MSFT" or ["AAPL", "MSFT"].
type stockList []string

func (s *stockList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*s = splitSymbols(raw)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("stocks must be a string or a list of strings")
	}
	*s = list
	return nil
}

func splitSymbols(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == ';'
	})
}

type analysesResponse struct {
	Items  []eventstudy.AnalysisRecord `json:"items"`
	Limit  int                         `json:"limit"`
	Offset int                         `json:"offset"`
}

type analysisDetail struct {
	*eventstudy.AnalysisRecord
	Heatmap *heatmap `json:"heatmap,omitempty"`
}

// heatmap is the summary matrix with cells rendered as signed percents.
type heatmap struct {
	Horizons []string     `json:"horizons"`
	Rows     []heatmapRow `json:"rows"`
}

type heatmapRow struct {
	Ticker string   `json:"ticker"`
	Side   string   `json:"side"`
	Cells  []string `json:"cells"`
}

func buildHeatmap(summary eventstudy.Summary) *heatmap {
	out := &heatmap{Horizons: summary.Horizons, Rows: make([]heatmapRow, 0, len(summary.Rows))}
	for _, row := range summary.Rows {
		cells := make([]string, len(row.Means))
		for i, mean := range row.Means {
			cells[i] = eventstudy.FormatPercent(mean)
		}
		out.Rows = append(out.Rows, heatmapRow{Ticker: row.Ticker, Side: row.Side, Cells: cells})
	}
	return out
}
