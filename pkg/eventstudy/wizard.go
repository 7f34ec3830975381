package eventstudy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// User-facing wizard messages.
const (
	msgTopicRequired   = "Please describe an event or topic."
	msgNoDates         = "Couldn't find any dates. Try describing the event differently."
	msgNotAwaitDates   = "There are no dates waiting for confirmation."
	msgNotAwaitTickers = "Dates must be confirmed before choosing stocks."
	msgNoTickers       = "No tickers to analyze. Enter symbols or try again for suggestions."
)

// Operation names recorded in the operation log.
const (
	OpTopicSubmitted  = "topic_submitted"
	OpDatesRejected   = "dates_rejected"
	OpDatesConfirmed  = "dates_confirmed"
	OpAnalysisCreated = "analysis_created"
	OpNoData          = "no_data"
	OpWizardReset     = "wizard_reset"
)

// DateService proposes event dates for a topic.
type DateService interface {
	ExtractDates(ctx context.Context, topic string) DateCandidateSet
}

// TickerService proposes tickers for a topic.
type TickerService interface {
	SuggestTickers(ctx context.Context, topic string, limit int) TickerSuggestion
}

// Aligner resolves event dates against price series.
type Aligner interface {
	Align(ctx context.Context, dates []Date, tickers []string) (*AlignmentResult, error)
}

// WizardDeps are the collaborators a Wizard drives.
type WizardDeps struct {
	Dates    DateService
	Tickers  TickerService
	Aligner  Aligner
	Records  RecordStore
	Horizons []Horizon
	Logger   *slog.Logger
}

// Wizard sequences topic -> dates -> stocks -> analysis over an explicit
// WizardSession. It holds no per-user state itself.
type Wizard struct {
	dates    DateService
	tickers  TickerService
	aligner  Aligner
	records  RecordStore
	horizons []Horizon
	logger   *slog.Logger
}

// NewWizard builds a Wizard. Nil Horizons uses DefaultHorizons.
func NewWizard(deps WizardDeps) *Wizard {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	horizons := deps.Horizons
	if len(horizons) == 0 {
		horizons = DefaultHorizons
	}
	return &Wizard{
		dates:    deps.Dates,
		tickers:  deps.Tickers,
		aligner:  deps.Aligner,
		records:  deps.Records,
		horizons: horizons,
		logger:   logger,
	}
}

// StepResult is what a wizard step shows the user next. Error is set for
// conditions the user can act on; the step is then unchanged.
type StepResult struct {
	Step       int               `json:"step"`
	Seq        int64             `json:"seq"`
	Title      string            `json:"title,omitempty"`
	Message    string            `json:"message,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorCode  ErrorCode         `json:"error_code,omitempty"`
	Dates      []Date            `json:"dates,omitempty"`
	Selected   []Date            `json:"selected,omitempty"`
	Suggested  *TickerSuggestion `json:"suggested,omitempty"`
	AnalysisID int64             `json:"analysis_id,omitempty"`
	Done       bool              `json:"done"`

	op      string
	details string
}

func viewOf(s *WizardSession) StepResult {
	res := StepResult{Step: s.Step, Seq: s.Seq, Title: s.Title}
	switch s.Step {
	case StepDates:
		res.Dates = s.Proposed
		res.Message = s.DatesMessage
	case StepTickers:
		res.Selected = s.Events
		res.Suggested = s.Suggested
	}
	return res
}

func (r StepResult) withError(code ErrorCode, msg string) StepResult {
	r.ErrorCode = code
	r.Error = msg
	return r
}

// Reset clears s back to step 1.
func (w *Wizard) Reset(s *WizardSession) StepResult {
	seq := s.Seq
	*s = *NewWizardSession(s.ID)
	s.Seq = seq + 1
	res := viewOf(s)
	res.op = OpWizardReset
	return res
}

// Current returns the view for the current step. At step 3 a missing
// suggestion is fetched; changed reports that s was modified.
func (w *Wizard) Current(ctx context.Context, s *WizardSession) (res StepResult, changed bool) {
	if s.Step < StepTopic || s.Step > StepTickers {
		w.Reset(s)
		changed = true
	}
	if s.Step == StepTickers && s.Suggested == nil {
		suggestion := w.tickers.SuggestTickers(ctx, s.Title, SuggestedTickersPerSide)
		s.Suggested = &suggestion
		changed = true
	}
	return viewOf(s), changed
}

// SubmitTopic asks for event dates for query. Submitting a topic always
// starts a new flow, discarding any earlier selections.
func (w *Wizard) SubmitTopic(ctx context.Context, s *WizardSession, query string) StepResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return viewOf(s).withError(ErrCodeInvalidInput, msgTopicRequired)
	}
	if s.Step != StepTopic {
		w.Reset(s)
	}

	set := w.dates.ExtractDates(ctx, query)
	if !set.Confirmed || len(set.Events) == 0 {
		res := viewOf(s).withError(ErrCodeNoData, msgNoDates)
		res.Message = set.Message
		return res
	}

	s.Title = query
	s.RawPrompt = query
	s.Proposed = set.Events
	s.Events = set.Events
	s.DatesMessage = set.Message
	s.Step = StepDates
	s.Seq++

	res := viewOf(s)
	res.op = OpTopicSubmitted
	res.details = fmt.Sprintf("topic=%q dates=%s", query, strings.Join(dateStrings(set.Events), ","))
	return res
}

// ConfirmDates handles the yes/no answer on proposed dates. On yes, selected
// may narrow the proposal; every selected date must be one of the proposed.
func (w *Wizard) ConfirmDates(ctx context.Context, s *WizardSession, accept bool, selected []string) StepResult {
	if s.Step != StepDates {
		return viewOf(s).withError(ErrCodeInvalidInput, msgNotAwaitDates)
	}
	if !accept {
		title := s.Title
		w.Reset(s)
		res := viewOf(s)
		res.op = OpDatesRejected
		res.details = fmt.Sprintf("topic=%q", title)
		return res
	}

	events := s.Proposed
	if len(selected) > 0 {
		chosen, err := selectDates(s.Proposed, selected)
		if err != nil {
			return viewOf(s).withError(ErrCodeInvalidInput, ErrorMessage(err))
		}
		events = chosen
	}

	s.Events = events
	s.Step = StepTickers
	suggestion := w.tickers.SuggestTickers(ctx, s.Title, SuggestedTickersPerSide)
	s.Suggested = &suggestion
	s.Seq++

	res := viewOf(s)
	res.Message = suggestion.Message
	res.op = OpDatesConfirmed
	res.details = "dates=" + strings.Join(dateStrings(events), ",")
	return res
}

func selectDates(proposed []Date, selected []string) ([]Date, error) {
	allowed := make(map[Date]bool, len(proposed))
	for _, d := range proposed {
		allowed[d] = true
	}
	parsed, err := ParseDates(selected)
	if err != nil {
		return nil, NewError(ErrCodeInvalidInput, err.Error())
	}
	for _, d := range parsed {
		if !allowed[d] {
			return nil, NewError(ErrCodeInvalidInput, fmt.Sprintf("date %s was not proposed", d))
		}
	}
	return sortUniqueDates(parsed), nil
}

// SubmitStocks runs the analysis. An explicit stocks list overrides the
// suggestion; with none, the ticker service is asked with topN per side
// (0 = unlimited). Infrastructure failures come back as err; a usable result
// clears s and reports the new analysis id.
func (w *Wizard) SubmitStocks(ctx context.Context, s *WizardSession, stocks []string, topN int, author string) (StepResult, error) {
	if s.Step != StepTickers {
		return viewOf(s).withError(ErrCodeInvalidInput, msgNotAwaitTickers), nil
	}

	var basket TickerBasket
	if explicit := NormalizeTickers(stocks); len(explicit) > 0 {
		basket = TickerBasket{Positive: explicit, Negative: []string{}}
	} else {
		basket = w.tickers.SuggestTickers(ctx, s.Title, topN).Stocks
	}
	if basket.IsEmpty() {
		return viewOf(s).withError(ErrCodeInvalidInput, msgNoTickers), nil
	}
	s.Stocks = basket

	alignment, err := w.aligner.Align(ctx, s.Events, basket.All())
	if err != nil {
		if IsErrorCode(err, ErrCodeNoData) {
			s.Seq++
			res := viewOf(s).withError(ErrCodeNoData, NoDataMessage)
			res.op = OpNoData
			res.details = "tickers=" + strings.Join(basket.All(), ",")
			return res, nil
		}
		return StepResult{}, err
	}

	payload := BuildPayload(alignment, w.horizons, basket)
	id, err := w.records.CreateRecord(ctx, AnalysisRecord{
		Author:      author,
		Title:       s.Title,
		PromptText:  s.RawPrompt,
		EventsData:  s.Events,
		StocksData:  basket,
		ResultsData: payload,
	})
	if err != nil {
		return StepResult{}, err
	}
	w.logger.Info("analysis created", "id", id, "title", s.Title, "observations", len(alignment.Observations))

	w.Reset(s)
	res := viewOf(s)
	res.Done = true
	res.AnalysisID = id
	res.Message = basket.Summary()
	res.op = OpAnalysisCreated
	res.details = "stocks=" + basket.Summary()
	return res, nil
}
