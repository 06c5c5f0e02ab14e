package engine

import (
	"context"
	"time"
)

// SweepExpired lifts every active restriction whose expiry has passed,
// cascades included. Returns the number of primary records lifted.
func (e *Engine) SweepExpired(ctx context.Context) int {
	expired, err := e.Mods.ExpiredActiveRecords(ctx, e.now())
	if err != nil {
		e.Logger.Error("expiry sweep scan failed", "err", err)
		return 0
	}
	lifted := 0
	for _, rec := range expired {
		if err := e.Lift(ctx, rec.AccountID, nil, true); err != nil {
			e.Logger.Error("expiry lift failed", "account", rec.AccountID, "err", err)
			continue
		}
		lifted++
		expirySweepLifts.Inc()
	}
	if lifted > 0 {
		e.Logger.Info("expiry sweep complete", "lifted", lifted)
	}
	return lifted
}

// RunSweeper runs SweepExpired on the given interval until the context is
// cancelled. Intended to be started as a goroutine at process startup.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.Logger.Info("expiry sweeper started", "interval", interval)
	for {
		select {
		case <-ticker.C:
			e.SweepExpired(ctx)
		case <-ctx.Done():
			e.Logger.Info("expiry sweeper stopped")
			return
		}
	}
}
