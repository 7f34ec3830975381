package eventstudy

import (
	"context"
	"database/sql"
	"log/slog"
)

// WithTx runs fn inside a transaction on the Core database, committing when
// fn returns nil and rolling back otherwise. A panic in fn rolls back and
// re-panics.
func (c *Core) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return withTx(ctx, c.db, c.logger, fn)
}

func withTx(ctx context.Context, db *sql.DB, logger *slog.Logger, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return WrapError(ErrCodeDatabase, "failed to begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("transaction rollback failed on panic", "error", rbErr, "panic_value", p)
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("transaction rollback failed", "error", rbErr, "original_error", err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return WrapError(ErrCodeDatabase, "failed to commit transaction", err)
	}
	return nil
}
