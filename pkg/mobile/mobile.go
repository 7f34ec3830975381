// Package mobile exposes the wizard through gomobile-friendly types: every
// call takes strings and numbers and returns JSON.
package mobile

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkfitzVT/event-stock-response/pkg/eventstudy"
)

// NoSeq tells a step call to skip the stale-view check.
const NoSeq int64 = -1

// Core wraps the event study core for gomobile bindings.
type Core struct {
	core *eventstudy.Core
}

// Open initializes the core with a database path and no model credentials.
// Topic submissions then report that no dates were found.
func Open(dbPath string) (*Core, error) {
	return openWithOptions(eventstudy.Options{DBPath: dbPath})
}

// OpenWithLLM initializes the core with a model provider and key.
func OpenWithLLM(dbPath, provider, model, apiKey string) (*Core, error) {
	return openWithOptions(eventstudy.Options{
		DBPath: dbPath,
		LLM: eventstudy.LLMOptions{
			Provider: provider,
			Model:    model,
			APIKey:   apiKey,
		},
	})
}

func openWithOptions(opts eventstudy.Options) (*Core, error) {
	core, err := eventstudy.OpenWithOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Core{core: core}, nil
}

// Close releases resources.
func (c *Core) Close() error {
	if c == nil || c.core == nil {
		return nil
	}
	return c.core.Close()
}

// WizardStateJSON returns the current step for sessionID.
func (c *Core) WizardStateJSON(sessionID string, reset bool) (string, error) {
	return marshalStep(c.core.WizardState(context.Background(), sessionID, reset))
}

// SubmitTopicJSON starts an analysis for query.
func (c *Core) SubmitTopicJSON(sessionID string, seq int64, query string) (string, error) {
	return marshalStep(c.core.SubmitTopic(context.Background(), sessionID, seqPtr(seq), query))
}

// ConfirmDatesJSON accepts or rejects the proposed dates. selected is a
// comma separated subset in YYYY-MM-DD form; empty keeps all of them.
func (c *Core) ConfirmDatesJSON(sessionID string, seq int64, accept bool, selected string) (string, error) {
	return marshalStep(c.core.ConfirmDates(context.Background(), sessionID, seqPtr(seq), accept, splitList(selected)))
}

// SubmitStocksJSON runs the analysis for a comma separated symbol list.
// An empty list uses the top topN suggestions per side.
func (c *Core) SubmitStocksJSON(sessionID string, seq int64, stocks string, topN int, author string) (string, error) {
	return marshalStep(c.core.SubmitStocks(context.Background(), sessionID, seqPtr(seq), splitList(stocks), topN, author))
}

// ListAnalysesJSON returns saved analyses, newest first.
func (c *Core) ListAnalysesJSON(limit, offset int) (string, error) {
	records, err := c.core.Records().ListRecords(context.Background(), limit, offset)
	if err != nil {
		return "", err
	}
	return marshalJSON(records)
}

// GetAnalysisJSON returns one saved analysis.
func (c *Core) GetAnalysisJSON(id int64) (string, error) {
	record, err := c.core.Records().GetRecord(context.Background(), id)
	if err != nil {
		return "", err
	}
	return marshalJSON(record)
}

func seqPtr(seq int64) *int64 {
	if seq < 0 {
		return nil
	}
	return &seq
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func marshalStep(res eventstudy.StepResult, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return marshalJSON(res)
}

func marshalJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
