package eventstudy

import (
	"context"
	"errors"
	"time"
)

// MaintenanceReport counts what one maintenance pass removed.
type MaintenanceReport struct {
	SessionsSwept int64 `json:"sessions_swept"`
	PriceWindows  int64 `json:"price_windows"`
}

// RunMaintenance sweeps expired wizard sessions and prunes cached price
// windows older than priceMaxAge. Both steps run even if one fails.
func (c *Core) RunMaintenance(ctx context.Context, priceMaxAge time.Duration) (MaintenanceReport, error) {
	var report MaintenanceReport
	swept, sweepErr := c.SweepExpiredSessions(ctx)
	report.SessionsSwept = swept
	pruned, pruneErr := c.PrunePriceCache(ctx, defaultDuration(priceMaxAge, 7*24*time.Hour))
	report.PriceWindows = pruned
	if err := errors.Join(sweepErr, pruneErr); err != nil {
		return report, err
	}
	c.logger.Info("maintenance finished", "sessions_swept", swept, "price_windows", pruned)
	return report, nil
}
