// Package outbound sends conversation prompts through the messaging gateway
// and records the outcome on the visit. Both the webhook router and the
// scheduler's reminder and recovery sweeps go through it.
package outbound

import (
	"context"
	"time"

	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/internal/visits/prompt"
	"sitevisit_backend/internal/whatsapp"
	"sitevisit_backend/platform/logger"
	"sitevisit_backend/platform/metrics"

	"github.com/google/uuid"
)

// Gateway is the templated-send side of the messaging gateway.
type Gateway interface {
	SendTemplate(ctx context.Context, msg whatsapp.TemplateMessage) (string, error)
}

// StepMarker records step prompt delivery.
type StepMarker interface {
	RecordStepSent(ctx context.Context, id uuid.UUID, step domain.FlowStep, at time.Time) error
	RecordStepSendError(ctx context.Context, id uuid.UUID, step domain.FlowStep, message string) error
}

// Sender delivers step prompts and records the result.
type Sender struct {
	gateway Gateway
	store   StepMarker
	prompts *prompt.Builder
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

func NewSender(gateway Gateway, store StepMarker, prompts *prompt.Builder, m *metrics.Metrics, log *logger.Logger) *Sender {
	return &Sender{
		gateway: gateway,
		store:   store,
		prompts: prompts,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// SetClock overrides the time source.
func (s *Sender) SetClock(now func() time.Time) {
	s.now = now
}

// Prompts exposes the builder so callers render other messages the same way.
func (s *Sender) Prompts() *prompt.Builder {
	return s.prompts
}

// Gateway exposes the underlying gateway.
func (s *Sender) Gateway() Gateway {
	return s.gateway
}

// SendStep sends the prompt for step. On success the step's sent marker is
// recorded, unless purpose is a reminder: reminders are accounted for by
// their own counter. Failures are recorded on the visit and returned.
func (s *Sender) SendStep(ctx context.Context, v domain.Visit, step domain.FlowStep, purpose prompt.Purpose) error {
	msg, ok := s.prompts.Step(v, step, purpose)
	if !ok {
		return nil
	}

	_, err := s.gateway.SendTemplate(ctx, msg)
	s.metrics.Send(string(purpose), err)
	if err != nil {
		s.log.SendFailed(v.ID.String(), string(step), string(purpose), 1, err)
		if recErr := s.store.RecordStepSendError(ctx, v.ID, step, err.Error()); recErr != nil {
			s.log.DatabaseError("record step send error", recErr)
		}
		return err
	}

	if purpose == prompt.PurposeReminder {
		return nil
	}
	if err := s.store.RecordStepSent(ctx, v.ID, step, s.now()); err != nil {
		s.log.DatabaseError("record step sent", err)
		return err
	}
	return nil
}
