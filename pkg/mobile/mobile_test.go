package mobile

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkfitzVT/event-stock-response/pkg/eventstudy"
)

type scriptedCompleter struct{}

func (scriptedCompleter) Complete(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "significant dates") {
		return `{"confirmed": true, "events": ["2024-01-03", "2024-01-10"], "message": "two dates"}`, nil
	}
	return `{"stocks": {"positive": ["AAA"], "negative": ["ZZZ"]}, "message": "why"}`, nil
}

type risingHistory struct{}

func (risingHistory) FetchHistory(_ context.Context, ticker string, start, end eventstudy.Date) (eventstudy.PriceSeries, error) {
	series := eventstudy.PriceSeries{Ticker: ticker}
	price := 50.0
	for d := start; !d.After(end); d = d.AddDays(1) {
		if wd := d.Time().Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		series.Points = append(series.Points, eventstudy.PricePoint{Date: d, Close: price})
		price += 0.5
	}
	return series, nil
}

func setupMobileCore(t *testing.T) *Core {
	t.Helper()
	core, err := openWithOptions(eventstudy.Options{
		DBPath:    filepath.Join(t.TempDir(), "test.db"),
		Completer: scriptedCompleter{},
		History:   risingHistory{},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = core.Close() })
	return core
}

func decode(t *testing.T, raw string) eventstudy.StepResult {
	t.Helper()
	var res eventstudy.StepResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return res
}

func TestMobileCoreJSONFlows(t *testing.T) {
	core := setupMobileCore(t)
	const sid = "phone"

	raw, err := core.WizardStateJSON(sid, false)
	if err != nil {
		t.Fatalf("WizardStateJSON: %v", err)
	}
	if res := decode(t, raw); res.Step != eventstudy.StepTopic {
		t.Fatalf("expected topic step, got %+v", res)
	}

	raw, err = core.SubmitTopicJSON(sid, NoSeq, "rate hikes")
	if err != nil {
		t.Fatalf("SubmitTopicJSON: %v", err)
	}
	res := decode(t, raw)
	if res.Step != eventstudy.StepDates || len(res.Dates) != 2 {
		t.Fatalf("unexpected dates step: %+v", res)
	}

	raw, err = core.ConfirmDatesJSON(sid, res.Seq, true, "2024-01-10")
	if err != nil {
		t.Fatalf("ConfirmDatesJSON: %v", err)
	}
	res = decode(t, raw)
	if res.Step != eventstudy.StepTickers || len(res.Selected) != 1 || res.Selected[0].String() != "2024-01-10" {
		t.Fatalf("unexpected tickers step: %+v", res)
	}

	raw, err = core.SubmitStocksJSON(sid, res.Seq, "", 1, "tester")
	if err != nil {
		t.Fatalf("SubmitStocksJSON: %v", err)
	}
	res = decode(t, raw)
	if !res.Done || res.AnalysisID <= 0 {
		t.Fatalf("expected completed analysis, got %+v", res)
	}

	raw, err = core.GetAnalysisJSON(res.AnalysisID)
	if err != nil {
		t.Fatalf("GetAnalysisJSON: %v", err)
	}
	if !strings.Contains(raw, `"title":"rate hikes"`) || !strings.Contains(raw, `"author":"tester"`) {
		t.Fatalf("unexpected analysis: %s", raw)
	}

	raw, err = core.ListAnalysesJSON(10, 0)
	if err != nil {
		t.Fatalf("ListAnalysesJSON: %v", err)
	}
	var list []map[string]any
	if err := json.Unmarshal([]byte(raw), &list); err != nil || len(list) != 1 {
		t.Fatalf("unexpected list %s: %v", raw, err)
	}
}

func TestMobileCoreStaleSeq(t *testing.T) {
	core := setupMobileCore(t)
	raw, err := core.SubmitTopicJSON("s", NoSeq, "oil shock")
	if err != nil {
		t.Fatalf("SubmitTopicJSON: %v", err)
	}
	res := decode(t, raw)
	if _, err := core.ConfirmDatesJSON("s", res.Seq+5, true, ""); !eventstudy.IsErrorCode(err, eventstudy.ErrCodeConflict) {
		t.Fatalf("expected conflict for stale seq, got %v", err)
	}
}

func TestMobileCoreWithoutModelKey(t *testing.T) {
	core, err := Open(filepath.Join(t.TempDir(), "nokey.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer core.Close()

	raw, err := core.SubmitTopicJSON("s", NoSeq, "anything")
	if err != nil {
		t.Fatalf("SubmitTopicJSON: %v", err)
	}
	res := decode(t, raw)
	if res.Step != eventstudy.StepTopic || res.ErrorCode != eventstudy.ErrCodeNoData {
		t.Fatalf("expected no-data on topic step, got %+v", res)
	}
	if _, err := core.GetAnalysisJSON(99); !eventstudy.IsErrorCode(err, eventstudy.ErrCodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSplitListAndSeq(t *testing.T) {
	if got := splitList(" aaa, ,bbb "); len(got) != 2 || got[0] != "aaa" || got[1] != "bbb" {
		t.Fatalf("unexpected split %v", got)
	}
	if splitList("") != nil {
		t.Fatalf("expected nil for empty input")
	}
	if seqPtr(NoSeq) != nil {
		t.Fatalf("expected nil seq")
	}
	if p := seqPtr(0); p == nil || *p != 0 {
		t.Fatalf("expected zero seq pointer")
	}
}

func TestCloseNil(t *testing.T) {
	var c *Core
	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil: %v", err)
	}
}
