package eventstudy

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHorizonReturnBoundary(t *testing.T) {
	points := []PricePoint{{Close: 100}, {Close: 105}, {Close: 99}, {Close: 110}}
	for i := range points {
		for h := 1; h <= 4; h++ {
			got := horizonReturn(points, i, h)
			if i+h >= len(points) {
				if got != nil {
					t.Fatalf("i=%d h=%d: expected missing, got %v", i, h, *got)
				}
				continue
			}
			want := points[i+h].Close/points[i].Close - 1
			if got == nil || *got != want {
				t.Fatalf("i=%d h=%d: got %v, want %v", i, h, got, want)
			}
		}
	}
}

func TestComputeReturnsNestedShape(t *testing.T) {
	series := tradingSeries("AAA", mustDate(t, "2024-01-02"), 100, 101, 102, 103, 104, 110)
	alignment := &AlignmentResult{
		Observations: []AlignedObservation{
			{EventDate: mustDate(t, "2024-01-02"), Ticker: "AAA", Index: 0},
			{EventDate: mustDate(t, "2024-01-05"), Ticker: "AAA", Index: 3},
		},
		Series: map[string]PriceSeries{"AAA": series},
	}
	result := ComputeReturns(alignment, DefaultHorizons)

	first := result["2024-01-02"]["AAA"]
	if first["1D"] == nil || !floatEquals(*first["1D"], 0.01, 1e-12) {
		t.Fatalf("unexpected 1D: %v", first["1D"])
	}
	if first["1W"] == nil || !floatEquals(*first["1W"], 0.10, 1e-12) {
		t.Fatalf("unexpected 1W: %v", first["1W"])
	}
	if first["2W"] != nil || first["2M"] != nil {
		t.Fatalf("expected long horizons missing")
	}
	second := result["2024-01-05"]["AAA"]
	if second["1D"] == nil || second["1W"] != nil {
		t.Fatalf("unexpected second row: %v", second)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"2W":null`) {
		t.Fatalf("missing horizons must encode as null: %s", raw)
	}
}

func TestSummarizeSkipsMissing(t *testing.T) {
	horizons := []Horizon{{Label: "1D", Offset: 1}, {Label: "1W", Offset: 5}}
	result := AnalysisResult{
		"2024-01-01": {"AAA": {"1D": floatPtr(0.05), "1W": nil}, "ZZZ": {"1D": nil, "1W": nil}},
		"2024-02-01": {"AAA": {"1D": nil, "1W": nil}},
		"2024-03-01": {"AAA": {"1D": floatPtr(-0.03), "1W": nil}, "BBB": {"1D": floatPtr(0.02), "1W": floatPtr(0.04)}},
	}
	basket := TickerBasket{Positive: []string{"BBB"}, Negative: []string{"AAA"}}
	summary := Summarize(result, horizons, basket)

	if len(summary.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(summary.Rows))
	}
	order := []string{summary.Rows[0].Ticker, summary.Rows[1].Ticker, summary.Rows[2].Ticker}
	if strings.Join(order, ",") != "BBB,AAA,ZZZ" {
		t.Fatalf("unexpected row order: %v", order)
	}
	aaa := summary.Rows[1]
	if aaa.Side != "negative" {
		t.Fatalf("unexpected side %q", aaa.Side)
	}
	if aaa.Means[0] == nil || *aaa.Means[0] != 0.01 {
		t.Fatalf("expected mean 0.01, got %v", aaa.Means[0])
	}
	if aaa.Counts[0] != 2 || aaa.Counts[1] != 0 {
		t.Fatalf("unexpected counts: %v", aaa.Counts)
	}
	if aaa.Means[1] != nil {
		t.Fatalf("all-missing horizon must stay missing, got %v", *aaa.Means[1])
	}
	if zzz := summary.Rows[2]; zzz.Side != "" || zzz.Means[0] != nil {
		t.Fatalf("unexpected extra row: %+v", zzz)
	}
}

func TestFormatPercent(t *testing.T) {
	cases := []struct {
		in   *float64
		want string
	}{
		{nil, "n/a"},
		{floatPtr(0.05), "+5.00%"},
		{floatPtr(-0.0312), "-3.12%"},
		{floatPtr(0), "0.00%"},
		{floatPtr(0.123456), "+12.35%"},
	}
	for _, tc := range cases {
		if got := FormatPercent(tc.in); got != tc.want {
			t.Fatalf("FormatPercent(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBuildPayload(t *testing.T) {
	series := tradingSeries("AAA", mustDate(t, "2024-01-02"), 100, 102)
	alignment := &AlignmentResult{
		Observations: []AlignedObservation{{EventDate: mustDate(t, "2024-01-02"), Ticker: "AAA", Index: 0}},
		Series:       map[string]PriceSeries{"AAA": series},
		Dropped:      []DroppedPair{{EventDate: mustDate(t, "2024-01-02"), Ticker: "BBB", Reason: dropNoSeries}},
		Start:        mustDate(t, "2023-12-23"),
		End:          mustDate(t, "2024-03-02"),
	}
	payload := BuildPayload(alignment, DefaultHorizons, TickerBasket{Positive: []string{"AAA", "BBB"}})
	if len(payload.Summary.Rows) != 1 || payload.Summary.Rows[0].Ticker != "AAA" {
		t.Fatalf("unexpected summary: %+v", payload.Summary)
	}
	if len(payload.Dropped) != 1 || payload.Start.String() != "2023-12-23" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if len(payload.Summary.Horizons) != len(DefaultHorizons) {
		t.Fatalf("unexpected horizons: %v", payload.Summary.Horizons)
	}
}
