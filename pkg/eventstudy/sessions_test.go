package eventstudy

import (
	"context"
	"testing"
	"time"
)

func exerciseSessionStore(t *testing.T, store SessionStore) {
	t.Helper()
	ctx := context.Background()

	got, err := store.Get(ctx, "missing")
	if err != nil || got != nil {
		t.Fatalf("expected nil for unknown session, got %+v, %v", got, err)
	}

	s := NewWizardSession("abc")
	s.Step = StepTickers
	s.Seq = 4
	s.Title = "rate hikes"
	s.Events = []Date{mustDate(t, "2022-03-16")}
	s.Suggested = &TickerSuggestion{Stocks: TickerBasket{Positive: []string{"JPM"}}, Message: "banks"}
	if err := store.Set(ctx, s); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	s.Events[0] = mustDate(t, "1999-01-01")

	got, err = store.Get(ctx, "abc")
	if err != nil || got == nil {
		t.Fatalf("get: %+v, %v", got, err)
	}
	if got.Step != StepTickers || got.Seq != 4 || got.Title != "rate hikes" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.Events[0].String() != "2022-03-16" {
		t.Fatalf("stored session aliased caller slice: %v", got.Events)
	}
	if got.Suggested == nil || got.Suggested.Stocks.Positive[0] != "JPM" {
		t.Fatalf("unexpected suggestion: %+v", got.Suggested)
	}

	if err := store.Pop(ctx, "abc"); err != nil {
		t.Fatalf("pop: %v", err)
	}
	if got, _ := store.Get(ctx, "abc"); got != nil {
		t.Fatalf("expected session cleared")
	}
}

func TestSQLiteSessionStore(t *testing.T) {
	core, cleanup := setupTestDB(t, nil, nil)
	defer cleanup()
	exerciseSessionStore(t, &sqliteSessionStore{db: core.db, ttl: time.Hour})
}

func TestMemorySessionStore(t *testing.T) {
	exerciseSessionStore(t, NewMemorySessionStore(time.Hour))
}

func TestSQLiteSessionStoreExpiry(t *testing.T) {
	core, cleanup := setupTestDB(t, nil, nil)
	defer cleanup()
	ctx := context.Background()
	store := &sqliteSessionStore{db: core.db, ttl: time.Hour}

	if err := store.Set(ctx, NewWizardSession("old")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, NewWizardSession("fresh")); err != nil {
		t.Fatalf("set: %v", err)
	}
	past := formatTimestamp(time.Now().Add(-time.Minute))
	if _, err := core.db.Exec("UPDATE wizard_sessions SET expires_at = ? WHERE session_id = 'old'", past); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if got, _ := store.Get(ctx, "old"); got != nil {
		t.Fatalf("expired session must not load")
	}

	n, err := core.SweepExpiredSessions(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	if got, _ := store.Get(ctx, "fresh"); got == nil {
		t.Fatalf("fresh session must survive sweep")
	}
}

func TestMemorySessionStoreExpiry(t *testing.T) {
	store := NewMemorySessionStore(time.Hour)
	ctx := context.Background()
	_ = store.Set(ctx, NewWizardSession("a"))
	store.items["a"] = memorySession{session: NewWizardSession("a"), expiresAt: time.Now().Add(-time.Second)}
	if got, _ := store.Get(ctx, "a"); got != nil {
		t.Fatalf("expected expired session hidden")
	}
	if n, _ := store.SweepExpired(ctx); n != 1 {
		t.Fatalf("expected one swept, got %d", n)
	}
}

func TestRunMaintenance(t *testing.T) {
	core, cleanup := setupTestDB(t, nil, nil)
	defer cleanup()
	report, err := core.RunMaintenance(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("maintenance: %v", err)
	}
	if report.SessionsSwept != 0 || report.PriceWindows != 0 {
		t.Fatalf("unexpected report on empty db: %+v", report)
	}
}

func TestLockSessionSerializes(t *testing.T) {
	core, cleanup := setupTestDB(t, nil, nil)
	defer cleanup()

	unlock := core.LockSession("s1")
	acquired := make(chan struct{})
	go func() {
		release := core.LockSession("s1")
		release()
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatalf("second lock acquired while first held")
	case <-time.After(50 * time.Millisecond):
	}
	// A different session is independent.
	other := core.LockSession("s2")
	other()
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("second lock never acquired")
	}
	core.lockMu.Lock()
	defer core.lockMu.Unlock()
	if len(core.sessionLocks) != 0 {
		t.Fatalf("expected lock entries released, got %d", len(core.sessionLocks))
	}
}
