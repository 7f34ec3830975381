package eventstudy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SuggestedTickersPerSide is how many symbols per side the wizard pre-populates.
const SuggestedTickersPerSide = 3

// TickerSuggester asks the language model which tickers react to a topic.
type TickerSuggester struct {
	completer TextCompleter
	logger    *slog.Logger
	timeout   time.Duration
}

// NewTickerSuggester builds a TickerSuggester. A zero timeout uses the default.
func NewTickerSuggester(completer TextCompleter, logger *slog.Logger, timeout time.Duration) *TickerSuggester {
	if logger == nil {
		logger = slog.Default()
	}
	return &TickerSuggester{
		completer: completer,
		logger:    logger,
		timeout:   defaultDuration(timeout, defaultCompletionTimeout),
	}
}

// SuggestTickers returns a positive/negative basket for topic, each side cut
// to limit entries when limit > 0. Failures come back as FallbackTickerSuggestion.
func (s *TickerSuggester) SuggestTickers(ctx context.Context, topic string, limit int) TickerSuggestion {
	raw, err := complete(ctx, s.completer, s.timeout, buildTickersPrompt(topic), s.logger)
	if err != nil {
		s.logger.Warn("ticker suggestion completion failed; using fallback", "topic", topic, "err", err)
		return FallbackTickerSuggestion()
	}
	suggestion, shape, err := parseTickerSuggestion(raw)
	if err != nil {
		s.logger.Warn("ticker suggestion response rejected; using fallback", "topic", topic, "err", err)
		return FallbackTickerSuggestion()
	}
	if shape == shapeLegacyFlatList {
		s.logger.Debug("ticker suggestion used flat list; treating all as positive", "topic", topic)
	}
	suggestion.Stocks = suggestion.Stocks.Truncate(limit)
	s.logger.Info("ticker suggestion completed",
		"topic", topic,
		"positive", len(suggestion.Stocks.Positive),
		"negative", len(suggestion.Stocks.Negative),
	)
	return suggestion
}

func buildTickersPrompt(topic string) string {
	return fmt.Sprintf("Suggest up to 6 liquid US-listed tickers that historically react to news about: '%s'.\n"+
		"Return JSON exactly like:\n"+
		"{\n"+
		"  \"stocks\": {\n"+
		"    \"positive\": [\"TICK1\", \"TICK2\"],\n"+
		"    \"negative\": [\"TICK3\", \"TICK4\"]\n"+
		"  },\n"+
		"  \"message\": \"short rationale\"\n"+
		"}", topic)
}

// Truncate cuts each side to at most n entries, keeping order. n <= 0 is a no-op.
func (b TickerBasket) Truncate(n int) TickerBasket {
	out := TickerBasket{Positive: cloneStrings(b.Positive), Negative: cloneStrings(b.Negative)}
	if n <= 0 {
		return out
	}
	if len(out.Positive) > n {
		out.Positive = out.Positive[:n]
	}
	if len(out.Negative) > n {
		out.Negative = out.Negative[:n]
	}
	return out
}

// All lists positive then negative symbols, each symbol once.
func (b TickerBasket) All() []string {
	return NormalizeTickers(append(cloneStrings(b.Positive), b.Negative...))
}

// IsEmpty reports whether neither side has a symbol.
func (b TickerBasket) IsEmpty() bool {
	return len(b.Positive) == 0 && len(b.Negative) == 0
}

// Side reports which side symbol belongs to; positive wins when on both.
func (b TickerBasket) Side(symbol string) string {
	for _, s := range b.Positive {
		if s == symbol {
			return "positive"
		}
	}
	for _, s := range b.Negative {
		if s == symbol {
			return "negative"
		}
	}
	return ""
}

// Summary renders the basket as "+ A, B; - X".
func (b TickerBasket) Summary() string {
	var parts []string
	if len(b.Positive) > 0 {
		parts = append(parts, "+ "+strings.Join(b.Positive, ", "))
	}
	if len(b.Negative) > 0 {
		parts = append(parts, "- "+strings.Join(b.Negative, ", "))
	}
	return strings.Join(parts, "; ")
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
