// Package notification sends lifecycle emails in response to visit domain
// events. Visits and assignment publish events and never talk to the email
// provider directly.
package notification

import (
	"context"
	"strings"

	"sitevisit_backend/internal/email"
	"sitevisit_backend/internal/events"
	"sitevisit_backend/platform/logger"
)

// Module subscribes to visit events and emails the people involved.
type Module struct {
	sender email.Sender
	log    *logger.Logger
}

func New(sender email.Sender, log *logger.Logger) *Module {
	if sender == nil {
		sender = email.NoopSender{}
	}
	return &Module{sender: sender, log: log}
}

// RegisterHandlers subscribes the module to the events it handles.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.VisitRequested{}.EventName(), m)
	bus.Subscribe(events.VisitAssigned{}.EventName(), m)
	bus.Subscribe(events.VisitCancelled{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.VisitRequested:
		return m.handleVisitRequested(ctx, e)
	case events.VisitAssigned:
		return m.handleVisitAssigned(ctx, e)
	case events.VisitCancelled:
		return m.handleVisitCancelled(ctx, e)
	default:
		m.log.Warn("unhandled event type", "event", event.EventName())
		return nil
	}
}

func (m *Module) handleVisitRequested(ctx context.Context, e events.VisitRequested) error {
	if !hasEmail(e.Email) {
		return nil
	}
	err := m.sender.SendVisitReceivedEmail(ctx, e.Email, email.VisitReceived{
		Name:      e.Name,
		Reference: e.Reference,
		Slot:      e.RequestedSlot,
		Address:   e.Address,
	})
	if err != nil {
		m.log.Error("failed to send visit received email", "visitId", e.VisitID, "error", err)
		return err
	}
	m.log.Info("visit received email sent", "visitId", e.VisitID)
	return nil
}

func (m *Module) handleVisitAssigned(ctx context.Context, e events.VisitAssigned) error {
	var firstErr error

	if hasEmail(e.TechnicianEmail) {
		err := m.sender.SendTechnicianAssignmentEmail(ctx, e.TechnicianEmail, email.TechnicianAssignment{
			TechnicianName: e.TechnicianName,
			Reference:      e.Reference,
			ClientName:     e.ClientName,
			Slot:           e.RequestedSlot,
			Address:        e.Address,
			Summary:        e.Summary,
		})
		if err != nil {
			m.log.Error("failed to send technician assignment email",
				"visitId", e.VisitID,
				"technicianId", e.TechnicianID,
				"error", err,
			)
			firstErr = err
		}
	}

	if hasEmail(e.ClientEmail) {
		err := m.sender.SendClientAssignmentEmail(ctx, e.ClientEmail, email.ClientAssignment{
			Name:           e.ClientName,
			Reference:      e.Reference,
			Slot:           e.RequestedSlot,
			Address:        e.Address,
			TechnicianName: e.TechnicianName,
		})
		if err != nil {
			m.log.Error("failed to send client assignment email", "visitId", e.VisitID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr == nil {
		m.log.Info("assignment emails processed", "visitId", e.VisitID, "technicianId", e.TechnicianID)
	}
	return firstErr
}

func (m *Module) handleVisitCancelled(ctx context.Context, e events.VisitCancelled) error {
	if !hasEmail(e.Email) {
		return nil
	}
	if err := m.sender.SendVisitCancelledEmail(ctx, e.Email, email.VisitCancelled{Name: e.Name, Reference: e.Reference}); err != nil {
		m.log.Error("failed to send visit cancelled email", "visitId", e.VisitID, "error", err)
		return err
	}
	return nil
}

func hasEmail(address string) bool {
	return strings.TrimSpace(address) != ""
}
