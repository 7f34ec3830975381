package eventstudy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// InvalidModelResponseMessage is the message carried by every fallback value.
const InvalidModelResponseMessage = "Model response invalid"

var (
	reModelJSONFence = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	modelValidate    = validator.New(validator.WithRequiredStructEnabled())
)

// cleanupModelJSON pulls the JSON object out of raw model text: a fenced
// block if there is one, else the outermost braces, else the trimmed text.
func cleanupModelJSON(content string) string {
	if m := reModelJSONFence.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return strings.TrimSpace(content)
}

func decodeModelJSON(content string, dst any) error {
	cleaned := cleanupModelJSON(content)
	if err := json.Unmarshal([]byte(cleaned), dst); err != nil {
		return fmt.Errorf("model returned invalid JSON: %w", err)
	}
	if err := modelValidate.Struct(dst); err != nil {
		return fmt.Errorf("model response failed schema: %w", err)
	}
	return nil
}

type datesModelResponse struct {
	Confirmed *bool    `json:"confirmed" validate:"required"`
	Events    []string `json:"events" validate:"required,dive,datetime=2006-01-02"`
	Message   *string  `json:"message" validate:"required"`
}

// FallbackDateCandidates is returned whenever a dates response cannot be used.
func FallbackDateCandidates() DateCandidateSet {
	return DateCandidateSet{Confirmed: false, Events: []Date{}, Message: InvalidModelResponseMessage}
}

// ParseDateCandidates turns raw model output into a DateCandidateSet. It
// never fails: unusable input yields FallbackDateCandidates.
func ParseDateCandidates(content string) DateCandidateSet {
	set, err := parseDateCandidates(content)
	if err != nil {
		return FallbackDateCandidates()
	}
	return set
}

func parseDateCandidates(content string) (DateCandidateSet, error) {
	var parsed datesModelResponse
	if err := decodeModelJSON(content, &parsed); err != nil {
		return DateCandidateSet{}, err
	}
	events, err := ParseDates(parsed.Events)
	if err != nil {
		return DateCandidateSet{}, err
	}
	set := DateCandidateSet{
		Confirmed: *parsed.Confirmed,
		Events:    normalizeEventDates(events),
		Message:   strings.TrimSpace(*parsed.Message),
	}
	if !set.Confirmed {
		set.Events = []Date{}
	}
	return set, nil
}

// normalizeEventDates sorts ascending, removes duplicates and keeps the
// earliest MaxEventDates.
func normalizeEventDates(events []Date) []Date {
	out := sortUniqueDates(events)
	if len(out) > MaxEventDates {
		out = out[:MaxEventDates]
	}
	return out
}

// basketShape tells which of the two accepted "stocks" encodings a response used.
type basketShape int

const (
	shapeStructuredBasket basketShape = iota + 1
	shapeLegacyFlatList
)

// stocksField decodes either {"positive": [...], "negative": [...]} or a
// bare list, which is read as all-positive.
type stocksField struct {
	shape  basketShape
	basket TickerBasket
}

func (f *stocksField) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("empty stocks value")
	}
	switch trimmed[0] {
	case '[':
		var list []string
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		f.shape = shapeLegacyFlatList
		f.basket = TickerBasket{Positive: list, Negative: []string{}}
		return nil
	case '{':
		var obj struct {
			Positive []string `json:"positive"`
			Negative []string `json:"negative"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return err
		}
		f.shape = shapeStructuredBasket
		f.basket = TickerBasket{Positive: obj.Positive, Negative: obj.Negative}
		return nil
	default:
		return fmt.Errorf("stocks must be an object or a list, got %s", string(trimmed))
	}
}

type tickersModelResponse struct {
	Stocks  *stocksField `json:"stocks" validate:"required"`
	Message *string      `json:"message" validate:"required"`
}

// FallbackTickerSuggestion is returned whenever a tickers response cannot be used.
func FallbackTickerSuggestion() TickerSuggestion {
	return TickerSuggestion{
		Stocks:  TickerBasket{Positive: []string{}, Negative: []string{}},
		Message: InvalidModelResponseMessage,
	}
}

// ParseTickerSuggestion turns raw model output into a TickerSuggestion. It
// never fails: unusable input yields FallbackTickerSuggestion.
func ParseTickerSuggestion(content string) TickerSuggestion {
	suggestion, _, err := parseTickerSuggestion(content)
	if err != nil {
		return FallbackTickerSuggestion()
	}
	return suggestion
}

func parseTickerSuggestion(content string) (TickerSuggestion, basketShape, error) {
	var parsed tickersModelResponse
	if err := decodeModelJSON(content, &parsed); err != nil {
		return TickerSuggestion{}, 0, err
	}
	return TickerSuggestion{
		Stocks: TickerBasket{
			Positive: NormalizeTickers(parsed.Stocks.basket.Positive),
			Negative: NormalizeTickers(parsed.Stocks.basket.Negative),
		},
		Message: strings.TrimSpace(*parsed.Message),
	}, parsed.Stocks.shape, nil
}

// NormalizeTickers upper-cases and trims symbols, dropping blanks and
// repeats while keeping first-seen order.
func NormalizeTickers(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
