package eventstudy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// setupTestDB opens a Core on a temp database with the given collaborators.
// The caller should defer cleanup().
func setupTestDB(t *testing.T, completer TextCompleter, history PriceHistory) (*Core, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "eventstudy-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	if completer == nil {
		completer = &fakeCompleter{}
	}
	if history == nil {
		history = &fakeHistory{}
	}

	core, err := OpenWithOptions(Options{
		DBPath:    filepath.Join(tmpDir, "test.db"),
		Completer: completer,
		History:   history,
	})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to open test db: %v", err)
	}

	cleanup := func() {
		core.Close()
		os.RemoveAll(tmpDir)
	}
	return core, cleanup
}

// fakeCompleter answers date prompts with dates and ticker prompts with
// tickers; err, when set, fails every call.
type fakeCompleter struct {
	dates   string
	tickers string
	err     error

	mu    sync.Mutex
	calls int
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if strings.Contains(prompt, "significant dates") {
		return f.dates, nil
	}
	return f.tickers, nil
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeHistory serves fixed series per ticker; unknown tickers get an empty series.
type fakeHistory struct {
	series map[string]PriceSeries
	errs   map[string]error

	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeHistory) FetchHistory(_ context.Context, ticker string, _, _ Date) (PriceSeries, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[ticker]++
	f.mu.Unlock()
	if err := f.errs[ticker]; err != nil {
		return PriceSeries{}, err
	}
	s, ok := f.series[ticker]
	if !ok {
		return PriceSeries{Ticker: ticker, Points: []PricePoint{}}, nil
	}
	return s, nil
}

func (f *fakeHistory) callsFor(ticker string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ticker]
}

// tradingSeries builds a weekday-only series starting at the first weekday
// on or after start.
func tradingSeries(ticker string, start Date, closes ...float64) PriceSeries {
	points := make([]PricePoint, 0, len(closes))
	d := start
	for _, c := range closes {
		for d.Time().Weekday() == time.Saturday || d.Time().Weekday() == time.Sunday {
			d = d.AddDays(1)
		}
		points = append(points, PricePoint{Date: d, Close: c})
		d = d.AddDays(1)
	}
	return PriceSeries{Ticker: ticker, Points: points}
}

// mockHTTPClient implements HTTPDoer for testing.
type mockHTTPClient struct {
	status int
	body   string
	err    error

	lastURL string
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.lastURL = req.URL.String()
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(strings.NewReader(m.body)),
		Header:     make(http.Header),
	}, nil
}

var errBoom = errors.New("boom")

func mustDate(t *testing.T, s string) Date {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

func floatPtr(v float64) *float64 { return &v }

func floatEquals(a, b, epsilon float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < epsilon
}
