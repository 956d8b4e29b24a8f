// Package assignment hands confirmed visits to technicians in rotation and
// tells both sides who is coming.
package assignment

import (
	"context"
	"errors"
	"time"

	"sitevisit_backend/internal/events"
	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/internal/visits/prompt"
	"sitevisit_backend/internal/visits/repository"
	"sitevisit_backend/internal/whatsapp"
	"sitevisit_backend/platform/config"
	"sitevisit_backend/platform/logger"
	"sitevisit_backend/platform/metrics"

	"github.com/google/uuid"
)

const (
	defaultBatchSize = 50
	defaultInterval  = time.Minute
)

// Gateway is the part of the messaging gateway the engine uses.
type Gateway interface {
	SendTemplate(ctx context.Context, msg whatsapp.TemplateMessage) (string, error)
	SendMessage(ctx context.Context, phoneNumber string, message string) error
}

// NotifyQueue defers assignment notifications to a background worker.
type NotifyQueue interface {
	EnqueueAssignmentNotification(ctx context.Context, visitID, technicianID uuid.UUID) error
}

// Engine assigns approved visits. Rotation state lives in the technician
// rows, so several engines may run against the same store.
type Engine struct {
	visits  repository.VisitStore
	techs   repository.TechnicianStore
	gateway Gateway
	prompts *prompt.Builder
	bus     events.Bus
	queue   NotifyQueue
	cfg     config.AssignmentConfig
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

func NewEngine(visits repository.VisitStore, techs repository.TechnicianStore, gateway Gateway, prompts *prompt.Builder, bus events.Bus, cfg config.AssignmentConfig, m *metrics.Metrics, log *logger.Logger) *Engine {
	return &Engine{
		visits:  visits,
		techs:   techs,
		gateway: gateway,
		prompts: prompts,
		bus:     bus,
		cfg:     cfg,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// SetQueue routes notifications through q instead of sending inline.
func (e *Engine) SetQueue(q NotifyQueue) {
	e.queue = q
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultInterval
	}

	e.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runOnce(ctx)
		}
	}
}

func (e *Engine) runOnce(ctx context.Context) {
	if _, err := e.Sweep(ctx); err != nil && ctx.Err() == nil {
		e.log.Error("assignment sweep failed", "error", err)
	}
}

// Sweep assigns every visit that has been approved for longer than the
// triage delay. It stops early when no technician is eligible.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	started := time.Now()
	defer e.metrics.ObserveSweep("assignment", started)

	now := e.now().UTC()
	limit := e.cfg.GetSchedulerBatchSize()
	if limit < 1 {
		limit = defaultBatchSize
	}

	candidates, err := e.visits.ListAssignable(ctx, now.Add(-e.cfg.GetAssignmentDelay()), limit)
	if err != nil {
		return 0, err
	}

	assigned := 0
	for _, v := range candidates {
		if ctx.Err() != nil {
			return assigned, ctx.Err()
		}
		if v.AssigneeID != nil {
			continue
		}

		tech, err := e.assignOne(ctx, v, now)
		if errors.Is(err, errNoTechnician) {
			break
		}
		if err != nil {
			e.metrics.Assignment("error")
			e.log.Error("assignment failed", "visitId", v.ID, "error", err)
			continue
		}
		if tech == nil {
			continue
		}

		assigned++
		e.metrics.Assignment("assigned")
		e.log.Info("visit assigned", "visitId", v.ID, "technicianId", tech.ID, "assignedToday", tech.AssignedToday+1)
		e.dispatch(ctx, v.ID, tech.ID)
	}

	e.log.SweepResult("assignment", assigned, 0)
	return assigned, nil
}

var errNoTechnician = errors.New("no eligible technician")

// assignOne walks the rotation until a technician accepts the visit. A nil
// technician with a nil error means the visit was taken elsewhere.
func (e *Engine) assignOne(ctx context.Context, v domain.Visit, now time.Time) (*domain.Technician, error) {
	eligible, err := e.techs.ListEligible(ctx)
	if err != nil {
		return nil, err
	}

	for i := range eligible {
		tech := eligible[i]
		result, err := e.visits.AssignTechnician(ctx, v.ID, tech.ID, now)
		if err != nil {
			return nil, err
		}
		switch result {
		case repository.AssignApplied:
			return &tech, nil
		case repository.AssignVisitUnavailable:
			e.metrics.Assignment("visit_unavailable")
			return nil, nil
		}
		// AssignTechnicianUnavailable: someone else filled their cap, try the next.
	}

	e.metrics.Assignment("no_technician")
	e.log.Warn("no eligible technician", "visitId", v.ID)
	return nil, errNoTechnician
}

func (e *Engine) dispatch(ctx context.Context, visitID, technicianID uuid.UUID) {
	if e.queue != nil {
		err := e.queue.EnqueueAssignmentNotification(ctx, visitID, technicianID)
		if err == nil {
			return
		}
		e.log.Warn("failed to enqueue assignment notification, sending inline", "visitId", visitID, "error", err)
	}
	if err := e.Notify(ctx, visitID, technicianID); err != nil {
		e.log.Warn("assignment notification failed", "visitId", visitID, "error", err)
	}
}

// Notify tells the counterparty and the technician about an assignment and
// publishes VisitAssigned for the email subscribers. Gateway failures are
// logged; only a failure to load the records is returned, since the
// assignment itself already stands.
func (e *Engine) Notify(ctx context.Context, visitID, technicianID uuid.UUID) error {
	v, err := e.visits.GetByID(ctx, visitID)
	if err != nil {
		return err
	}
	tech, err := e.techs.GetTechnician(ctx, technicianID)
	if err != nil {
		return err
	}
	if v.AssigneeID == nil || *v.AssigneeID != technicianID {
		e.log.Info("assignment changed before notification, skipping", "visitId", visitID)
		return nil
	}

	_, err = e.gateway.SendTemplate(ctx, e.prompts.Assigned(*v, *tech))
	e.metrics.Send(string(prompt.PurposeAssignment), err)
	if err != nil {
		e.log.SendFailed(v.ID.String(), string(v.Conversation.Step), string(prompt.PurposeAssignment), 1, err)
	}

	err = e.gateway.SendMessage(ctx, tech.Phone, e.prompts.TechnicianBrief(*v, *tech))
	e.metrics.Send("technician_brief", err)
	if err != nil {
		e.log.SendFailed(v.ID.String(), string(v.Conversation.Step), "technician_brief", 1, err)
	}

	e.bus.Publish(ctx, events.VisitAssigned{
		BaseEvent:       events.NewBaseEvent(),
		VisitID:         v.ID,
		Reference:       v.Reference(),
		ClientName:      v.Booking.Name,
		ClientEmail:     v.Booking.Email,
		Address:         v.Booking.Address,
		RequestedSlot:   v.Booking.RequestedSlot,
		TechnicianID:    tech.ID,
		TechnicianName:  tech.Name,
		TechnicianEmail: tech.Email,
		TechnicianPhone: tech.Phone,
		Summary:         prompt.SummaryLines(v.Conversation.Answers),
	})
	return nil
}
