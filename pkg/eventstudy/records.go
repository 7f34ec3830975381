package eventstudy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RecordStore persists finished analyses.
type RecordStore interface {
	CreateRecord(ctx context.Context, rec AnalysisRecord) (int64, error)
	UpdateRecord(ctx context.Context, id int64, upd RecordUpdate) error
	GetRecord(ctx context.Context, id int64) (*AnalysisRecord, error)
	ListRecords(ctx context.Context, limit, offset int) ([]AnalysisRecord, error)
}

// NormalizeLimitOffset applies list paging defaults: limit 50, max 500.
func NormalizeLimitOffset(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// sqliteRecordStore keeps analyses in the analysis_posts table.
type sqliteRecordStore struct {
	db *sql.DB
}

const recordColumns = "id, author, title, prompt_text, events_data, stocks_data, results_data, created_at, updated_at"

func (s *sqliteRecordStore) CreateRecord(ctx context.Context, rec AnalysisRecord) (int64, error) {
	if strings.TrimSpace(rec.Title) == "" {
		return 0, NewError(ErrCodeValidation, "title is required")
	}
	author := strings.TrimSpace(rec.Author)
	if author == "" {
		author = "anonymous"
	}
	events, stocks, results, err := encodeRecordBlobs(rec)
	if err != nil {
		return 0, err
	}
	now := formatTimestamp(time.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_posts (author, title, prompt_text, events_data, stocks_data, results_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, author, rec.Title, rec.PromptText, events, stocks, results, now, now)
	if err != nil {
		return 0, WrapError(ErrCodeDatabase, "failed to create analysis", err)
	}
	return res.LastInsertId()
}

func (s *sqliteRecordStore) UpdateRecord(ctx context.Context, id int64, upd RecordUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTimestamp(time.Now())}
	if upd.Title != nil {
		if strings.TrimSpace(*upd.Title) == "" {
			return NewError(ErrCodeValidation, "title cannot be empty")
		}
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.ResultsData != nil {
		raw, err := json.Marshal(upd.ResultsData)
		if err != nil {
			return WrapError(ErrCodeInternal, "failed to encode results", err)
		}
		sets = append(sets, "results_data = ?")
		args = append(args, string(raw))
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, "UPDATE analysis_posts SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return WrapError(ErrCodeDatabase, "failed to update analysis", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewError(ErrCodeNotFound, fmt.Sprintf("analysis %d not found", id))
	}
	return nil
}

func (s *sqliteRecordStore) GetRecord(ctx context.Context, id int64) (*AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM analysis_posts WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("analysis %d not found", id))
	}
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "failed to load analysis", err)
	}
	return rec, nil
}

func (s *sqliteRecordStore) ListRecords(ctx context.Context, limit, offset int) ([]AnalysisRecord, error) {
	limit, offset = NormalizeLimitOffset(limit, offset)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM analysis_posts ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "failed to list analyses", err)
	}
	defer rows.Close()

	records := []AnalysisRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, WrapError(ErrCodeDatabase, "failed to read analysis", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(ErrCodeDatabase, "failed to list analyses", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*AnalysisRecord, error) {
	var rec AnalysisRecord
	var events, stocks, createdAt, updatedAt string
	var results sql.NullString
	if err := row.Scan(&rec.ID, &rec.Author, &rec.Title, &rec.PromptText, &events, &stocks, &results, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := DecodeRecordBlobs(&rec, events, stocks, results.String); err != nil {
		return nil, err
	}
	var err error
	if rec.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	return &rec, nil
}

func encodeRecordBlobs(rec AnalysisRecord) (string, string, *string, error) {
	events := rec.EventsData
	if events == nil {
		events = []Date{}
	}
	eventsRaw, err := json.Marshal(events)
	if err != nil {
		return "", "", nil, WrapError(ErrCodeInternal, "failed to encode events", err)
	}
	stocks := TickerBasket{Positive: cloneStrings(rec.StocksData.Positive), Negative: cloneStrings(rec.StocksData.Negative)}
	stocksRaw, err := json.Marshal(stocks)
	if err != nil {
		return "", "", nil, WrapError(ErrCodeInternal, "failed to encode stocks", err)
	}
	var results *string
	if rec.ResultsData != nil {
		raw, err := json.Marshal(rec.ResultsData)
		if err != nil {
			return "", "", nil, WrapError(ErrCodeInternal, "failed to encode results", err)
		}
		s := string(raw)
		results = &s
	}
	return string(eventsRaw), string(stocksRaw), results, nil
}

// DecodeRecordBlobs fills the JSON-backed fields of rec. An empty results
// blob leaves ResultsData nil.
func DecodeRecordBlobs(rec *AnalysisRecord, events, stocks, results string) error {
	if events != "" {
		if err := json.Unmarshal([]byte(events), &rec.EventsData); err != nil {
			return fmt.Errorf("events_data: %w", err)
		}
	}
	if stocks != "" {
		if err := json.Unmarshal([]byte(stocks), &rec.StocksData); err != nil {
			return fmt.Errorf("stocks_data: %w", err)
		}
	}
	if results != "" {
		var payload AnalysisPayload
		if err := json.Unmarshal([]byte(results), &payload); err != nil {
			return fmt.Errorf("results_data: %w", err)
		}
		rec.ResultsData = &payload
	}
	return nil
}

// EncodeRecordBlobs returns the JSON text of the three blob fields of rec.
// results is empty when rec has no ResultsData.
func EncodeRecordBlobs(rec AnalysisRecord) (events, stocks, results string, err error) {
	e, s, r, err := encodeRecordBlobs(rec)
	if err != nil {
		return "", "", "", err
	}
	if r != nil {
		results = *r
	}
	return e, s, results, nil
}
