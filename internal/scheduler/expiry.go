package scheduler

import (
	"context"
	"time"

	"sitevisit_backend/internal/visits/repository"
	"sitevisit_backend/platform/config"
	"sitevisit_backend/platform/logger"
	"sitevisit_backend/platform/metrics"
)

const (
	defaultExpiryInterval = 2 * time.Hour
	defaultInactivity     = 7 * 24 * time.Hour
	expiryReason          = "inactive"
	sweepExpiry           = "expiry"
)

// Expiry periodically closes conversations that have gone quiet. Expiry
// only moves the flow step; the visit status is left alone.
type Expiry struct {
	store      repository.VisitStore
	log        *logger.Logger
	metrics    *metrics.Metrics
	interval   time.Duration
	inactivity time.Duration
	now        func() time.Time
}

func NewExpiry(store repository.VisitStore, cfg config.SweepConfig, m *metrics.Metrics, log *logger.Logger) *Expiry {
	interval := cfg.GetSchedulerExpiryInterval()
	if interval <= 0 {
		interval = defaultExpiryInterval
	}
	inactivity := cfg.GetConversationInactivity()
	if inactivity <= 0 {
		inactivity = defaultInactivity
	}

	return &Expiry{
		store:      store,
		log:        log,
		metrics:    m,
		interval:   interval,
		inactivity: inactivity,
		now:        time.Now,
	}
}

// SetClock overrides the time source.
func (e *Expiry) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Expiry) Run(ctx context.Context) {
	if e == nil || e.store == nil {
		return
	}

	e.Sweep(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep expires every conversation inactive for longer than the window.
func (e *Expiry) Sweep(ctx context.Context) int64 {
	started := time.Now()
	defer e.metrics.ObserveSweep(sweepExpiry, started)

	now := e.now().UTC()
	expired, err := e.store.ExpireInactive(ctx, now.Add(-e.inactivity), now, expiryReason)
	if err != nil {
		e.log.Warn("conversation expiry failed", "error", err)
		return 0
	}

	if expired > 0 {
		e.log.Info("expired inactive conversations", "expired", expired)
	}
	return expired
}
