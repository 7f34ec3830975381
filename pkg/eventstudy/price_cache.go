package eventstudy

import (
	"context"
	"database/sql"
	"time"
)

// sqliteHistoryStore keeps fetched price windows in the Core database.
type sqliteHistoryStore struct {
	db *sql.DB
}

func (s *sqliteHistoryStore) loadHistory(ctx context.Context, ticker string, start, end Date, maxAge time.Duration) (PriceSeries, bool, error) {
	var source, fetchedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT source, fetched_at FROM price_fetches WHERE ticker = ? AND start_date = ? AND end_date = ?",
		ticker, start.String(), end.String(),
	).Scan(&source, &fetchedAt)
	if err == sql.ErrNoRows {
		return PriceSeries{}, false, nil
	}
	if err != nil {
		return PriceSeries{}, false, err
	}
	fetched, err := parseTimestamp(fetchedAt)
	if err != nil || (maxAge > 0 && time.Since(fetched) > maxAge) {
		return PriceSeries{}, false, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT trade_date, close FROM price_history WHERE ticker = ? AND trade_date >= ? AND trade_date <= ? ORDER BY trade_date",
		ticker, start.String(), end.String(),
	)
	if err != nil {
		return PriceSeries{}, false, err
	}
	defer rows.Close()

	series := PriceSeries{Ticker: ticker, Source: source, Points: []PricePoint{}}
	for rows.Next() {
		var tradeDate string
		var close Amount
		if err := rows.Scan(&tradeDate, &close); err != nil {
			return PriceSeries{}, false, err
		}
		d, err := ParseDate(tradeDate)
		if err != nil {
			return PriceSeries{}, false, err
		}
		series.Points = append(series.Points, PricePoint{Date: d, Close: close.InexactFloat64()})
	}
	if err := rows.Err(); err != nil {
		return PriceSeries{}, false, err
	}
	if len(series.Points) == 0 {
		return PriceSeries{}, false, nil
	}
	return series, true, nil
}

func (s *sqliteHistoryStore) saveHistory(ctx context.Context, series PriceSeries, start, end Date) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	changed, err := closesChanged(ctx, tx, series, start, end)
	if err != nil {
		return err
	}
	if changed {
		// Overlapping windows would read back closes on two adjustment bases.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM price_fetches
			WHERE ticker = ? AND start_date <= ? AND end_date >= ?
			  AND NOT (start_date = ? AND end_date = ?)
		`, series.Ticker, end.String(), start.String(), start.String(), end.String()); err != nil {
			return err
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_history (ticker, trade_date, close, source) VALUES (?, ?, ?, ?)
		ON CONFLICT(ticker, trade_date) DO UPDATE SET close = excluded.close, source = excluded.source
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, p := range series.Points {
		if _, err := stmt.ExecContext(ctx, series.Ticker, p.Date.String(), NewAmount(p.Close), series.Source); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO price_fetches (ticker, start_date, end_date, source, fetched_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ticker, start_date, end_date) DO UPDATE SET source = excluded.source, fetched_at = excluded.fetched_at
	`, series.Ticker, start.String(), end.String(), series.Source, formatTimestamp(time.Now())); err != nil {
		return err
	}
	return tx.Commit()
}

// closesChanged reports whether any stored close in [start, end] differs
// from the close series is about to write for the same day.
func closesChanged(ctx context.Context, tx *sql.Tx, series PriceSeries, start, end Date) (bool, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT trade_date, close FROM price_history WHERE ticker = ? AND trade_date >= ? AND trade_date <= ?",
		series.Ticker, start.String(), end.String(),
	)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	stored := map[string]Amount{}
	for rows.Next() {
		var tradeDate string
		var close Amount
		if err := rows.Scan(&tradeDate, &close); err != nil {
			return false, err
		}
		stored[tradeDate] = close
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	for _, p := range series.Points {
		old, ok := stored[p.Date.String()]
		if ok && !old.Equal(NewAmount(p.Close).Round(closeScale)) {
			return true, nil
		}
	}
	return false, nil
}

// PrunePriceCache drops cached windows older than maxAge, and any stored
// closes no remaining window refers to. It returns the windows removed.
func (c *Core) PrunePriceCache(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := formatTimestamp(time.Now().Add(-maxAge))
	var removed int64
	err := c.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM price_fetches WHERE fetched_at < ?", cutoff)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		_, err = tx.ExecContext(ctx, `
			DELETE FROM price_history WHERE NOT EXISTS (
				SELECT 1 FROM price_fetches f
				WHERE f.ticker = price_history.ticker
				  AND price_history.trade_date BETWEEN f.start_date AND f.end_date
			)
		`)
		return err
	})
	if err != nil {
		return 0, WrapError(ErrCodeDatabase, "failed to prune price cache", err)
	}
	return removed, nil
}
