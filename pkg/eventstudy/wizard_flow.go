package eventstudy

import (
	"context"
	"fmt"
	"strings"
)

// SessionIDMaxLen bounds accepted session identifiers.
const SessionIDMaxLen = 128

// WizardState returns the current step view for sessionID. reset clears any
// progress first.
func (c *Core) WizardState(ctx context.Context, sessionID string, reset bool) (StepResult, error) {
	return c.runStep(ctx, sessionID, nil, func(s *WizardSession) (StepResult, bool, error) {
		if reset {
			res := c.wizard.Reset(s)
			return res, true, nil
		}
		res, changed := c.wizard.Current(ctx, s)
		return res, changed, nil
	})
}

// SubmitTopic runs step 1 for sessionID.
func (c *Core) SubmitTopic(ctx context.Context, sessionID string, seq *int64, query string) (StepResult, error) {
	return c.runStep(ctx, sessionID, seq, func(s *WizardSession) (StepResult, bool, error) {
		return c.wizard.SubmitTopic(ctx, s, query), true, nil
	})
}

// ConfirmDates runs step 2 for sessionID.
func (c *Core) ConfirmDates(ctx context.Context, sessionID string, seq *int64, accept bool, selected []string) (StepResult, error) {
	return c.runStep(ctx, sessionID, seq, func(s *WizardSession) (StepResult, bool, error) {
		return c.wizard.ConfirmDates(ctx, s, accept, selected), true, nil
	})
}

// SubmitStocks runs step 3 for sessionID and, on success, returns the id of
// the stored analysis.
func (c *Core) SubmitStocks(ctx context.Context, sessionID string, seq *int64, stocks []string, topN int, author string) (StepResult, error) {
	return c.runStep(ctx, sessionID, seq, func(s *WizardSession) (StepResult, bool, error) {
		res, err := c.wizard.SubmitStocks(ctx, s, stocks, topN, author)
		return res, err == nil, err
	})
}

// runStep loads the session under its lock, rejects stale submissions,
// applies fn and stores or clears the session.
func (c *Core) runStep(ctx context.Context, sessionID string, seq *int64, fn func(*WizardSession) (StepResult, bool, error)) (StepResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || len(sessionID) > SessionIDMaxLen {
		return StepResult{}, NewError(ErrCodeInvalidInput, "invalid session id")
	}
	unlock := c.LockSession(sessionID)
	defer unlock()

	s, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return StepResult{}, err
	}
	if s == nil {
		s = NewWizardSession(sessionID)
	}
	if seq != nil && *seq != s.Seq {
		return StepResult{}, NewError(ErrCodeConflict, fmt.Sprintf("stale wizard submission: seq %d, current %d", *seq, s.Seq))
	}

	res, save, err := fn(s)
	if err != nil {
		return StepResult{}, err
	}
	if res.Done {
		if err := c.sessions.Pop(ctx, sessionID); err != nil {
			return StepResult{}, err
		}
	} else if save {
		if err := c.sessions.Set(ctx, s); err != nil {
			return StepResult{}, err
		}
	}

	if res.op != "" {
		c.recordOperation(ctx, sessionID, res)
	}
	return res, nil
}

func (c *Core) recordOperation(ctx context.Context, sessionID string, res StepResult) {
	entry := OperationLog{Operation: res.op, SessionID: &sessionID}
	if res.AnalysisID > 0 {
		id := res.AnalysisID
		entry.AnalysisID = &id
	}
	if res.details != "" {
		details := res.details
		entry.Details = &details
	}
	if _, err := c.AddOperationLog(ctx, entry); err != nil {
		c.logger.Warn("operation log write failed", "operation", res.op, "session_id", sessionID, "err", err)
	}
}
