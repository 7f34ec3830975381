package eventstudy

import (
	"context"
	"database/sql"
	"time"
)

// AddOperationLog appends an audit entry.
func (c *Core) AddOperationLog(ctx context.Context, log OperationLog) (int64, error) {
	result, err := c.db.ExecContext(ctx, `
		INSERT INTO operation_logs (operation_type, session_id, analysis_id, details, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, log.Operation, log.SessionID, log.AnalysisID, log.Details, formatTimestamp(time.Now()))
	if err != nil {
		return 0, WrapError(ErrCodeDatabase, "failed to add operation log", err)
	}
	return result.LastInsertId()
}

// GetOperationLogs returns recent operation logs, newest first.
func (c *Core) GetOperationLogs(ctx context.Context, limit, offset int) ([]OperationLog, error) {
	limit, offset = NormalizeLimitOffset(limit, offset)
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, operation_type, session_id, analysis_id, details, created_at FROM operation_logs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, WrapError(ErrCodeDatabase, "failed to query operation logs", err)
	}
	defer rows.Close()

	logs := []OperationLog{}
	for rows.Next() {
		var log OperationLog
		var sessionID, details, createdAt sql.NullString
		var analysisID sql.NullInt64
		if err := rows.Scan(&log.ID, &log.Operation, &sessionID, &analysisID, &details, &createdAt); err != nil {
			return nil, WrapError(ErrCodeDatabase, "failed to read operation log", err)
		}
		if sessionID.Valid {
			log.SessionID = &sessionID.String
		}
		if analysisID.Valid {
			log.AnalysisID = &analysisID.Int64
		}
		if details.Valid {
			log.Details = &details.String
		}
		if createdAt.Valid {
			log.CreatedAt = &createdAt.String
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(ErrCodeDatabase, "failed to query operation logs", err)
	}
	return logs, nil
}
