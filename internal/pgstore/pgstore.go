// Package pgstore keeps analysis records in PostgreSQL through GORM.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pkfitzVT/event-stock-response/pkg/eventstudy"
)

// analysisPost is the analysis_posts row. The three data columns hold JSON.
type analysisPost struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Author      string    `gorm:"size:150;not null;default:anonymous"`
	Title       string    `gorm:"size:255;not null"`
	PromptText  string    `gorm:"type:text;not null;default:''"`
	EventsData  string    `gorm:"type:jsonb;not null"`
	StocksData  string    `gorm:"type:jsonb;not null"`
	ResultsData *string   `gorm:"type:jsonb"`
	CreatedAt   time.Time `gorm:"index;not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (analysisPost) TableName() string {
	return "analysis_posts"
}

// Store implements eventstudy.RecordStore.
type Store struct {
	db *gorm.DB
}

var _ eventstudy.RecordStore = (*Store)(nil)

// Open connects to dsn and migrates the analysis_posts table.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := New(db)
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&analysisPost{}); err != nil {
		return fmt.Errorf("failed to migrate analysis_posts: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateRecord(ctx context.Context, rec eventstudy.AnalysisRecord) (int64, error) {
	row, err := toRow(rec, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, eventstudy.WrapError(eventstudy.ErrCodeDatabase, "failed to create analysis", err)
	}
	return row.ID, nil
}

func (s *Store) UpdateRecord(ctx context.Context, id int64, upd eventstudy.RecordUpdate) error {
	changes, err := updateColumns(upd, time.Now().UTC())
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&analysisPost{}).Where("id = ?", id).Updates(changes)
	if res.Error != nil {
		return eventstudy.WrapError(eventstudy.ErrCodeDatabase, "failed to update analysis", res.Error)
	}
	if res.RowsAffected == 0 {
		return eventstudy.NewError(eventstudy.ErrCodeNotFound, fmt.Sprintf("analysis %d not found", id))
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id int64) (*eventstudy.AnalysisRecord, error) {
	var row analysisPost
	err := s.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, eventstudy.NewError(eventstudy.ErrCodeNotFound, fmt.Sprintf("analysis %d not found", id))
	}
	if err != nil {
		return nil, eventstudy.WrapError(eventstudy.ErrCodeDatabase, "failed to load analysis", err)
	}
	rec, err := fromRow(row)
	if err != nil {
		return nil, eventstudy.WrapError(eventstudy.ErrCodeDatabase, "failed to load analysis", err)
	}
	return rec, nil
}

func (s *Store) ListRecords(ctx context.Context, limit, offset int) ([]eventstudy.AnalysisRecord, error) {
	limit, offset = eventstudy.NormalizeLimitOffset(limit, offset)
	var rows []analysisPost
	err := s.db.WithContext(ctx).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, eventstudy.WrapError(eventstudy.ErrCodeDatabase, "failed to list analyses", err)
	}
	records := make([]eventstudy.AnalysisRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, eventstudy.WrapError(eventstudy.ErrCodeDatabase, "failed to read analysis", err)
		}
		records = append(records, *rec)
	}
	return records, nil
}

func toRow(rec eventstudy.AnalysisRecord, now time.Time) (analysisPost, error) {
	if strings.TrimSpace(rec.Title) == "" {
		return analysisPost{}, eventstudy.NewError(eventstudy.ErrCodeValidation, "title is required")
	}
	author := strings.TrimSpace(rec.Author)
	if author == "" {
		author = "anonymous"
	}
	events, stocks, results, err := eventstudy.EncodeRecordBlobs(rec)
	if err != nil {
		return analysisPost{}, err
	}
	row := analysisPost{
		Author:     author,
		Title:      rec.Title,
		PromptText: rec.PromptText,
		EventsData: events,
		StocksData: stocks,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if results != "" {
		row.ResultsData = &results
	}
	return row, nil
}

func fromRow(row analysisPost) (*eventstudy.AnalysisRecord, error) {
	rec := &eventstudy.AnalysisRecord{
		ID:         row.ID,
		Author:     row.Author,
		Title:      row.Title,
		PromptText: row.PromptText,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
	results := ""
	if row.ResultsData != nil {
		results = *row.ResultsData
	}
	if err := eventstudy.DecodeRecordBlobs(rec, row.EventsData, row.StocksData, results); err != nil {
		return nil, err
	}
	return rec, nil
}

func updateColumns(upd eventstudy.RecordUpdate, now time.Time) (map[string]any, error) {
	changes := map[string]any{"updated_at": now}
	if upd.Title != nil {
		if strings.TrimSpace(*upd.Title) == "" {
			return nil, eventstudy.NewError(eventstudy.ErrCodeValidation, "title cannot be empty")
		}
		changes["title"] = *upd.Title
	}
	if upd.ResultsData != nil {
		_, _, results, err := eventstudy.EncodeRecordBlobs(eventstudy.AnalysisRecord{ResultsData: upd.ResultsData})
		if err != nil {
			return nil, err
		}
		changes["results_data"] = results
	}
	return changes, nil
}
