package eventstudy

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"
)

// DefaultSessionTTL bounds how long an idle wizard session is kept.
const DefaultSessionTTL = 24 * time.Hour

// Wizard steps.
const (
	StepTopic   = 1
	StepDates   = 2
	StepTickers = 3
)

// WizardSession is the per-user wizard state carried between requests.
type WizardSession struct {
	ID   string `json:"id"`
	Step int    `json:"step"`
	// Seq increases on every transition; clients echo it back so stale
	// duplicate submissions can be rejected.
	Seq          int64             `json:"seq"`
	Title        string            `json:"title,omitempty"`
	RawPrompt    string            `json:"raw_prompt,omitempty"`
	Proposed     []Date            `json:"proposed,omitempty"`
	DatesMessage string            `json:"dates_message,omitempty"`
	Events       []Date            `json:"events,omitempty"`
	Stocks       TickerBasket      `json:"stocks"`
	Suggested    *TickerSuggestion `json:"suggested,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NewWizardSession returns a fresh session at step 1.
func NewWizardSession(id string) *WizardSession {
	return &WizardSession{ID: id, Step: StepTopic}
}

// Clone returns a deep copy of s.
func (s *WizardSession) Clone() *WizardSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Proposed = append([]Date(nil), s.Proposed...)
	out.Events = append([]Date(nil), s.Events...)
	out.Stocks = TickerBasket{Positive: cloneStrings(s.Stocks.Positive), Negative: cloneStrings(s.Stocks.Negative)}
	if s.Suggested != nil {
		sug := *s.Suggested
		sug.Stocks = s.Suggested.Stocks.Truncate(0)
		out.Suggested = &sug
	}
	return &out
}

// SessionStore keeps wizard sessions between requests. Get returns nil, nil
// for an unknown or expired id.
type SessionStore interface {
	Get(ctx context.Context, id string) (*WizardSession, error)
	Set(ctx context.Context, s *WizardSession) error
	Pop(ctx context.Context, id string) error
}

type expiringStore interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// SweepExpiredSessions removes expired sessions when the configured store
// keeps them past expiry. It returns how many were removed.
func (c *Core) SweepExpiredSessions(ctx context.Context) (int64, error) {
	store, ok := c.sessions.(expiringStore)
	if !ok {
		return 0, nil
	}
	return store.SweepExpired(ctx)
}

// sqliteSessionStore keeps sessions in the wizard_sessions table.
type sqliteSessionStore struct {
	db  *sql.DB
	ttl time.Duration
}

func (s *sqliteSessionStore) Get(ctx context.Context, id string) (*WizardSession, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM wizard_sessions WHERE session_id = ? AND expires_at > ?",
		id, formatTimestamp(time.Now()),
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "failed to load session", err)
	}
	var session WizardSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, WrapError(ErrCodeInternal, "failed to decode session", err)
	}
	return &session, nil
}

func (s *sqliteSessionStore) Set(ctx context.Context, session *WizardSession) error {
	now := time.Now()
	session.UpdatedAt = now.UTC()
	payload, err := json.Marshal(session)
	if err != nil {
		return WrapError(ErrCodeInternal, "failed to encode session", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO wizard_sessions (session_id, payload, updated_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at, expires_at = excluded.expires_at
	`, session.ID, string(payload), formatTimestamp(now), formatTimestamp(now.Add(s.ttl)))
	if err != nil {
		return WrapError(ErrCodeDatabase, "failed to save session", err)
	}
	return nil
}

func (s *sqliteSessionStore) Pop(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM wizard_sessions WHERE session_id = ?", id); err != nil {
		return WrapError(ErrCodeDatabase, "failed to clear session", err)
	}
	return nil
}

func (s *sqliteSessionStore) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM wizard_sessions WHERE expires_at <= ?", formatTimestamp(time.Now()))
	if err != nil {
		return 0, WrapError(ErrCodeDatabase, "failed to sweep sessions", err)
	}
	return res.RowsAffected()
}

// MemorySessionStore is a process-local SessionStore.
type MemorySessionStore struct {
	ttl time.Duration

	mu    sync.Mutex
	items map[string]memorySession
}

type memorySession struct {
	session   *WizardSession
	expiresAt time.Time
}

// NewMemorySessionStore returns an empty store. ttl <= 0 uses DefaultSessionTTL.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{ttl: defaultDuration(ttl, DefaultSessionTTL), items: map[string]memorySession{}}
}

// Get implements SessionStore.
func (m *MemorySessionStore) Get(_ context.Context, id string) (*WizardSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || !time.Now().Before(item.expiresAt) {
		return nil, nil
	}
	return item.session.Clone(), nil
}

// Set implements SessionStore.
func (m *MemorySessionStore) Set(_ context.Context, s *WizardSession) error {
	now := time.Now()
	s.UpdatedAt = now.UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[s.ID] = memorySession{session: s.Clone(), expiresAt: now.Add(m.ttl)}
	return nil
}

// Pop implements SessionStore.
func (m *MemorySessionStore) Pop(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

// SweepExpired drops expired entries.
func (m *MemorySessionStore) SweepExpired(_ context.Context) (int64, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, item := range m.items {
		if !now.Before(item.expiresAt) {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}
