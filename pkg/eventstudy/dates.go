package eventstudy

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const defaultCompletionTimeout = 45 * time.Second

// DateExtractor asks the language model for significant dates of a topic.
type DateExtractor struct {
	completer TextCompleter
	logger    *slog.Logger
	timeout   time.Duration
}

// NewDateExtractor builds a DateExtractor. A zero timeout uses the default.
func NewDateExtractor(completer TextCompleter, logger *slog.Logger, timeout time.Duration) *DateExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DateExtractor{
		completer: completer,
		logger:    logger,
		timeout:   defaultDuration(timeout, defaultCompletionTimeout),
	}
}

// ExtractDates returns candidate event dates for topic. Completion errors,
// timeouts and unparseable answers all come back as FallbackDateCandidates.
func (e *DateExtractor) ExtractDates(ctx context.Context, topic string) DateCandidateSet {
	prompt := buildDatesPrompt(topic)
	raw, err := complete(ctx, e.completer, e.timeout, prompt, e.logger)
	if err != nil {
		e.logger.Warn("date extraction completion failed; using fallback", "topic", topic, "err", err)
		return FallbackDateCandidates()
	}
	set, err := parseDateCandidates(raw)
	if err != nil {
		e.logger.Warn("date extraction response rejected; using fallback", "topic", topic, "err", err)
		return FallbackDateCandidates()
	}
	e.logger.Info("date extraction completed", "topic", topic, "confirmed", set.Confirmed, "events", len(set.Events))
	return set
}

func buildDatesPrompt(topic string) string {
	return fmt.Sprintf("I want to analyse the event or topic: '%s'.\n"+
		"List up to %d significant dates (ISO-8601 YYYY-MM-DD).\n"+
		"Reply *only* with JSON containing exactly these keys:\n"+
		"  \"confirmed\": boolean   # true if dates found\n"+
		"  \"events\":    string[]  # the dates, earliest→latest\n"+
		"  \"message\":   string    # brief summary\n"+
		"Example:\n"+
		"{\"confirmed\": true, \"events\": [\"2025-01-01\"], \"message\": \"Found 1 date.\"}",
		topic, MaxEventDates)
}

// complete runs one bounded completion call and logs prompt and answer at debug.
func complete(ctx context.Context, completer TextCompleter, timeout time.Duration, prompt string, logger *slog.Logger) (string, error) {
	if completer == nil {
		return "", NewError(ErrCodeUpstream, "no text completion backend configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Debug("llm request prompt", "prompt", prompt)
	started := time.Now()
	raw, err := completer.Complete(callCtx, prompt)
	if err != nil {
		return "", WrapError(ErrCodeUpstream, "text completion failed", err)
	}
	logger.Debug("llm raw response", "duration_ms", time.Since(started).Milliseconds(), "raw_body", raw)
	return raw, nil
}
