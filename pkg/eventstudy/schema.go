package eventstudy

import (
	"database/sql"
	"fmt"
)

func initDatabase(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS analysis_posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			author TEXT NOT NULL DEFAULT 'anonymous',
			title TEXT NOT NULL,
			prompt_text TEXT NOT NULL DEFAULT '',
			events_data TEXT NOT NULL DEFAULT '[]',
			stocks_data TEXT NOT NULL DEFAULT '{}',
			results_data TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		return err
	}
	if err := exec(tx, "CREATE INDEX IF NOT EXISTS idx_analysis_posts_created ON analysis_posts(created_at)"); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS wizard_sessions (
			session_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS price_history (
			ticker TEXT NOT NULL,
			trade_date TEXT NOT NULL,
			close REAL NOT NULL CHECK(close > 0),
			source TEXT NOT NULL,
			PRIMARY KEY (ticker, trade_date)
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS price_fetches (
			ticker TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			source TEXT NOT NULL,
			fetched_at TEXT NOT NULL,
			PRIMARY KEY (ticker, start_date, end_date)
		)
	`); err != nil {
		return err
	}

	if err := exec(tx, `
		CREATE TABLE IF NOT EXISTS operation_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			operation_type TEXT NOT NULL,
			session_id TEXT,
			details TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return err
	}
	hasAnalysisID, err := tableHasColumn(tx, "operation_logs", "analysis_id")
	if err != nil {
		return err
	}
	if !hasAnalysisID {
		if err := exec(tx, "ALTER TABLE operation_logs ADD COLUMN analysis_id INTEGER"); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func exec(tx *sql.Tx, query string) error {
	_, err := tx.Exec(query)
	return err
}

func tableExists(tx *sql.Tx, table string) (bool, error) {
	var name string
	err := tx.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func tableHasColumn(tx *sql.Tx, table, column string) (bool, error) {
	exists, err := tableExists(tx, table)
	if err != nil || !exists {
		return false, err
	}
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name string
		var ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
