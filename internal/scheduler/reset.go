package scheduler

import (
	"context"
	"time"

	"sitevisit_backend/platform/logger"
)

// DailyReset zeroes technician counters at local midnight. It is the
// fallback for deployments without redis, where the asynq periodic task
// cannot run.
type DailyReset struct {
	resetter CounterResetter
	loc      *time.Location
	log      *logger.Logger
}

func NewDailyReset(resetter CounterResetter, timezone string, log *logger.Logger) *DailyReset {
	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		loc = time.UTC
	}
	return &DailyReset{resetter: resetter, loc: loc, log: log}
}

func (d *DailyReset) Run(ctx context.Context) {
	if d == nil || d.resetter == nil {
		return
	}

	for {
		timer := time.NewTimer(time.Until(nextMidnight(time.Now(), d.loc)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		reset, err := d.resetter.ResetDailyCounters(ctx)
		if err != nil {
			d.log.Warn("technician counter reset failed", "error", err)
			continue
		}
		d.log.Info("technician daily counters reset", "technicians", reset)
	}
}

func nextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}
