package eventstudy

import (
	"reflect"
	"strings"
	"testing"
)

func TestCleanupModelJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"fenced json", "here:\n```json\n{\"a\":1}\n```\nbye", `{"a":1}`},
		{"fenced plain", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"braces", "Sure! {\"a\": {\"b\": 2}} hope that helps", `{"a": {"b": 2}}`},
		{"no braces", "  nothing here  ", "nothing here"},
	}
	for _, tc := range cases {
		if got := cleanupModelJSON(tc.in); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestParseDateCandidatesFencedAndBare(t *testing.T) {
	obj := `{"confirmed": true, "events": ["2024-03-01", "2024-01-15"], "message": "ok"}`
	bare := ParseDateCandidates(obj)
	fenced := ParseDateCandidates("```json\n" + obj + "\n```")
	if !reflect.DeepEqual(bare, fenced) {
		t.Fatalf("fenced and bare differ: %+v vs %+v", bare, fenced)
	}
	if !bare.Confirmed || bare.Message != "ok" {
		t.Fatalf("unexpected set: %+v", bare)
	}
	if got := dateStrings(bare.Events); !reflect.DeepEqual(got, []string{"2024-01-15", "2024-03-01"}) {
		t.Fatalf("events not sorted: %v", got)
	}
}

func TestParseDateCandidatesFallback(t *testing.T) {
	inputs := []string{
		"",
		"not json",
		`{"confirmed": true, "events": ["2024-01-01"]`,
		`{"confirmed": "yes", "events": [], "message": "m"}`,
		`{"confirmed": true, "events": ["01/02/2024"], "message": "m"}`,
		`{"confirmed": true, "events": "2024-01-01", "message": "m"}`,
		`{"events": ["2024-01-01"], "message": "m"}`,
		`{"confirmed": true, "events": ["2024-01-01"]}`,
		`[1, 2, 3]`,
	}
	want := FallbackDateCandidates()
	for _, in := range inputs {
		got := ParseDateCandidates(in)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("input %q: got %+v, want fallback", in, got)
		}
	}
	if want.Message != "Model response invalid" || want.Confirmed || len(want.Events) != 0 {
		t.Fatalf("unexpected fallback value: %+v", want)
	}
}

func TestParseDateCandidatesOrderingAndCap(t *testing.T) {
	raw := `{"confirmed": true, "message": "many", "events": [
		"2024-10-01","2024-09-01","2024-08-01","2024-07-01","2024-06-01",
		"2024-05-01","2024-04-01","2024-03-01","2024-02-01","2024-01-01","2024-01-01"]}`
	set := ParseDateCandidates(raw)
	if len(set.Events) != MaxEventDates {
		t.Fatalf("expected %d events, got %d", MaxEventDates, len(set.Events))
	}
	for i := 1; i < len(set.Events); i++ {
		if !set.Events[i-1].Before(set.Events[i]) {
			t.Fatalf("events not strictly ascending: %v", dateStrings(set.Events))
		}
	}
	if set.Events[0].String() != "2024-01-01" || set.Events[7].String() != "2024-08-01" {
		t.Fatalf("expected earliest eight, got %v", dateStrings(set.Events))
	}
}

func TestParseDateCandidatesUnconfirmedClearsEvents(t *testing.T) {
	set := ParseDateCandidates(`{"confirmed": false, "events": ["2024-01-01"], "message": "unsure"}`)
	if set.Confirmed || len(set.Events) != 0 || set.Message != "unsure" {
		t.Fatalf("unexpected set: %+v", set)
	}
}

func TestParseTickerSuggestionShapes(t *testing.T) {
	legacy, shape, err := parseTickerSuggestion(`{"stocks": ["A","B"], "message": "m"}`)
	if err != nil || shape != shapeLegacyFlatList {
		t.Fatalf("legacy parse: shape=%v err=%v", shape, err)
	}
	if !reflect.DeepEqual(legacy.Stocks.Positive, []string{"A", "B"}) || len(legacy.Stocks.Negative) != 0 {
		t.Fatalf("unexpected legacy basket: %+v", legacy.Stocks)
	}

	structured, shape, err := parseTickerSuggestion("```json\n" +
		`{"stocks": {"positive": [" xom ", "CVX", "xom"], "negative": ["dal"]}, "message": "oil"}` +
		"\n```")
	if err != nil || shape != shapeStructuredBasket {
		t.Fatalf("structured parse: shape=%v err=%v", shape, err)
	}
	if !reflect.DeepEqual(structured.Stocks.Positive, []string{"XOM", "CVX"}) {
		t.Fatalf("unexpected positive side: %v", structured.Stocks.Positive)
	}
	if !reflect.DeepEqual(structured.Stocks.Negative, []string{"DAL"}) {
		t.Fatalf("unexpected negative side: %v", structured.Stocks.Negative)
	}
}

func TestParseTickerSuggestionFallback(t *testing.T) {
	inputs := []string{
		"",
		"{",
		`{"stocks": "AAPL", "message": "m"}`,
		`{"stocks": [1, 2], "message": "m"}`,
		`{"stocks": {"positive": ["A"]}}`,
		`{"message": "m"}`,
	}
	want := FallbackTickerSuggestion()
	for _, in := range inputs {
		if got := ParseTickerSuggestion(in); !reflect.DeepEqual(got, want) {
			t.Fatalf("input %q: got %+v, want fallback", in, got)
		}
	}
}

func TestParseTickerSuggestionKeepsSymbolOnBothSides(t *testing.T) {
	got := ParseTickerSuggestion(`{"stocks": {"positive": ["AAPL"], "negative": ["AAPL"]}, "message": ""}`)
	if len(got.Stocks.Positive) != 1 || len(got.Stocks.Negative) != 1 {
		t.Fatalf("expected symbol kept on both sides, got %+v", got.Stocks)
	}
	if all := got.Stocks.All(); len(all) != 1 {
		t.Fatalf("expected All to fetch once, got %v", all)
	}
}

func TestNormalizeTickers(t *testing.T) {
	got := NormalizeTickers([]string{" aapl", "", "MSFT ", "aapl", "  "})
	if strings.Join(got, ",") != "AAPL,MSFT" {
		t.Fatalf("unexpected tickers: %v", got)
	}
}
