package eventstudy

import "time"

// MaxEventDates caps how many candidate dates a topic can yield.
const MaxEventDates = 8

// DateCandidateSet is the validated answer to "which dates matter for this topic".
// Events is empty whenever Confirmed is false.
type DateCandidateSet struct {
	Confirmed bool   `json:"confirmed"`
	Events    []Date `json:"events"`
	Message   string `json:"message"`
}

// TickerBasket groups symbols by expected reaction to a topic.
type TickerBasket struct {
	Positive []string `json:"positive"`
	Negative []string `json:"negative"`
}

// TickerSuggestion is a basket plus the model's rationale.
type TickerSuggestion struct {
	Stocks  TickerBasket `json:"stocks"`
	Message string       `json:"message"`
}

// PricePoint is one trading-day close.
type PricePoint struct {
	Date  Date    `json:"date"`
	Close float64 `json:"close"`
}

// PriceSeries holds daily closes strictly increasing by date.
type PriceSeries struct {
	Ticker string       `json:"ticker"`
	Source string       `json:"source,omitempty"`
	Points []PricePoint `json:"points"`
}

// AlignedObservation ties an event date to a trading-day index in a ticker's series.
type AlignedObservation struct {
	EventDate  Date   `json:"event_date"`
	Ticker     string `json:"ticker"`
	Index      int    `json:"index"`
	TradingDay Date   `json:"trading_day"`
}

// DroppedPair is a (date, ticker) pair that could not be aligned.
type DroppedPair struct {
	EventDate Date   `json:"event_date"`
	Ticker    string `json:"ticker"`
	Reason    string `json:"reason"`
}

// AlignmentResult is the output of PriceAlignment: resolved observations,
// the series they index into, and the pairs that were dropped.
type AlignmentResult struct {
	Observations []AlignedObservation   `json:"observations"`
	Series       map[string]PriceSeries `json:"-"`
	Dropped      []DroppedPair          `json:"dropped"`
	Start        Date                   `json:"start"`
	End          Date                   `json:"end"`
}

// Horizon is a labelled forward window measured in trading days.
type Horizon struct {
	Label  string `json:"label"`
	Offset int    `json:"offset"`
}

// AnalysisResult maps event date -> ticker -> horizon label -> return.
// A nil return means the horizon overran the available series.
type AnalysisResult map[string]map[string]map[string]*float64

// SummaryRow is the per-ticker aggregate across all event dates.
type SummaryRow struct {
	Ticker string     `json:"ticker"`
	Side   string     `json:"side"`
	Means  []*float64 `json:"means"`
	Counts []int      `json:"counts"`
}

// Summary is the ticker x horizon matrix of mean returns.
type Summary struct {
	Horizons []string     `json:"horizons"`
	Rows     []SummaryRow `json:"rows"`
}

// AnalysisPayload is what gets stored as results_data.
type AnalysisPayload struct {
	Horizons []Horizon      `json:"horizons"`
	Results  AnalysisResult `json:"results"`
	Summary  Summary        `json:"summary"`
	Dropped  []DroppedPair  `json:"dropped"`
	Start    Date           `json:"window_start"`
	End      Date           `json:"window_end"`
}

// AnalysisRecord is a persisted analysis.
type AnalysisRecord struct {
	ID          int64            `json:"id"`
	Author      string           `json:"author"`
	Title       string           `json:"title"`
	PromptText  string           `json:"prompt_text"`
	EventsData  []Date           `json:"events_data"`
	StocksData  TickerBasket     `json:"stocks_data"`
	ResultsData *AnalysisPayload `json:"results_data,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// RecordUpdate carries the fields UpdateRecord may change. Nil fields are left alone.
type RecordUpdate struct {
	Title       *string
	ResultsData *AnalysisPayload
}

// OperationLog represents an audit entry for a wizard transition.
type OperationLog struct {
	ID         int64   `json:"id"`
	Operation  string  `json:"operation_type"`
	SessionID  *string `json:"session_id,omitempty"`
	AnalysisID *int64  `json:"analysis_id,omitempty"`
	Details    *string `json:"details,omitempty"`
	CreatedAt  *string `json:"created_at,omitempty"`
}
