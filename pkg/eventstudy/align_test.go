package eventstudy

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFetchWindow(t *testing.T) {
	start, end := FetchWindow([]Date{mustDate(t, "2024-03-10"), mustDate(t, "2024-01-20"), mustDate(t, "2024-02-01")})
	if start.String() != "2024-01-10" || end.String() != "2024-05-09" {
		t.Fatalf("unexpected window %s..%s", start, end)
	}
}

func TestAlignDateForwardFill(t *testing.T) {
	series := PriceSeries{Points: []PricePoint{
		{Date: mustDate(t, "2024-01-02"), Close: 10},
		{Date: mustDate(t, "2024-01-05"), Close: 11},
		{Date: mustDate(t, "2024-01-08"), Close: 12},
	}}
	cases := []struct {
		date string
		idx  int
		ok   bool
	}{
		{"2024-01-01", 0, false},
		{"2024-01-02", 0, true},
		{"2024-01-04", 0, true},
		{"2024-01-05", 1, true},
		{"2024-01-07", 1, true},
		{"2024-01-08", 2, true},
		{"2024-02-01", 2, true},
	}
	for _, tc := range cases {
		idx, ok := AlignDate(series, mustDate(t, tc.date))
		if idx != tc.idx || ok != tc.ok {
			t.Fatalf("%s: got (%d,%v), want (%d,%v)", tc.date, idx, ok, tc.idx, tc.ok)
		}
	}
	if _, ok := AlignDate(PriceSeries{}, mustDate(t, "2024-01-01")); ok {
		t.Fatalf("empty series must not align")
	}
}

func TestAlignResolvesAndDrops(t *testing.T) {
	hist := &fakeHistory{
		series: map[string]PriceSeries{
			"AAA": tradingSeries("AAA", mustDate(t, "2024-01-02"), 10, 11, 12, 13, 14, 15, 16, 17, 18, 19),
		},
		errs: map[string]error{"BAD": errBoom},
	}
	engine := NewAlignmentEngine(hist, AlignmentOptions{Concurrency: 2, Timeout: time.Second})

	// 2024-01-06 is a Saturday and resolves to Friday 2024-01-05.
	res, err := engine.Align(context.Background(),
		[]Date{mustDate(t, "2024-01-06"), mustDate(t, "2023-12-01")},
		[]string{"aaa", "BAD", "NONE", "AAA"},
	)
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	if len(res.Observations) != 1 {
		t.Fatalf("expected one observation, got %+v", res.Observations)
	}
	obs := res.Observations[0]
	if obs.Ticker != "AAA" || obs.TradingDay.String() != "2024-01-05" || obs.Index != 3 {
		t.Fatalf("unexpected observation: %+v", obs)
	}
	// 2 dates x 3 tickers minus the one observation.
	if len(res.Dropped) != 5 {
		t.Fatalf("expected 5 dropped pairs, got %d: %+v", len(res.Dropped), res.Dropped)
	}
	if hist.callsFor("AAA") != 1 {
		t.Fatalf("duplicate tickers must be fetched once, got %d", hist.callsFor("AAA"))
	}
	if res.Start.String() != "2023-11-21" || res.End.String() != "2024-03-06" {
		t.Fatalf("unexpected window %s..%s", res.Start, res.End)
	}
}

func TestAlignNoData(t *testing.T) {
	hist := &fakeHistory{series: map[string]PriceSeries{
		"AAA": tradingSeries("AAA", mustDate(t, "2024-06-03"), 10, 11),
	}}
	engine := NewAlignmentEngine(hist, AlignmentOptions{})
	res, err := engine.Align(context.Background(), []Date{mustDate(t, "2020-01-01")}, []string{"AAA"})
	if !IsErrorCode(err, ErrCodeNoData) {
		t.Fatalf("expected no data error, got %v", err)
	}
	if res == nil || len(res.Observations) != 0 {
		t.Fatalf("expected empty observations, got %+v", res)
	}
}

func TestAlignInputValidation(t *testing.T) {
	engine := NewAlignmentEngine(&fakeHistory{}, AlignmentOptions{})
	if _, err := engine.Align(context.Background(), nil, []string{"A"}); !IsErrorCode(err, ErrCodeInvalidInput) {
		t.Fatalf("expected invalid input for no dates, got %v", err)
	}
	if _, err := engine.Align(context.Background(), []Date{mustDate(t, "2024-01-01")}, []string{" "}); !IsErrorCode(err, ErrCodeInvalidInput) {
		t.Fatalf("expected invalid input for no tickers, got %v", err)
	}
}

func TestAlignCancelledContext(t *testing.T) {
	blocking := historyFunc(func(ctx context.Context, _ string, _, _ Date) (PriceSeries, error) {
		<-ctx.Done()
		return PriceSeries{}, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAlignmentEngine(blocking, AlignmentOptions{}).Align(ctx, []Date{mustDate(t, "2024-01-02")}, []string{"A"})
	if !IsErrorCode(err, ErrCodeUpstream) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled upstream error, got %v", err)
	}
}

type historyFunc func(ctx context.Context, ticker string, start, end Date) (PriceSeries, error)

func (f historyFunc) FetchHistory(ctx context.Context, ticker string, start, end Date) (PriceSeries, error) {
	return f(ctx, ticker, start, end)
}
