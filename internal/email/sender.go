// Package email renders and delivers the transactional mail of the visit
// lifecycle. Brevo and plain SMTP share the same templates.
package email

import (
	"context"
	"fmt"
	"time"

	"sitevisit_backend/platform/config"
)

// Sender delivers the visit lifecycle emails.
type Sender interface {
	SendVisitReceivedEmail(ctx context.Context, toEmail string, data VisitReceived) error
	SendClientAssignmentEmail(ctx context.Context, toEmail string, data ClientAssignment) error
	SendTechnicianAssignmentEmail(ctx context.Context, toEmail string, data TechnicianAssignment) error
	SendVisitCancelledEmail(ctx context.Context, toEmail string, data VisitCancelled) error
}

// VisitReceived acknowledges a new request.
type VisitReceived struct {
	Name      string
	Reference string
	Slot      time.Time
	Address   string
}

// ClientAssignment tells the client who is coming.
type ClientAssignment struct {
	Name           string
	Reference      string
	Slot           time.Time
	Address        string
	TechnicianName string
}

// TechnicianAssignment briefs the technician.
type TechnicianAssignment struct {
	TechnicianName string
	Reference      string
	ClientName     string
	Slot           time.Time
	Address        string
	Summary        []string
}

// VisitCancelled confirms a cancellation.
type VisitCancelled struct {
	Name      string
	Reference string
}

// NoopSender drops every email. Used when EMAIL_ENABLED is false.
type NoopSender struct{}

func (NoopSender) SendVisitReceivedEmail(context.Context, string, VisitReceived) error { return nil }
func (NoopSender) SendClientAssignmentEmail(context.Context, string, ClientAssignment) error {
	return nil
}
func (NoopSender) SendTechnicianAssignmentEmail(context.Context, string, TechnicianAssignment) error {
	return nil
}
func (NoopSender) SendVisitCancelledEmail(context.Context, string, VisitCancelled) error { return nil }

// transport delivers one rendered HTML message.
type transport interface {
	send(ctx context.Context, toEmail, subject, htmlContent string) error
}

// TemplateSender renders templates and hands them to a transport.
type TemplateSender struct {
	transport transport
	loc       *time.Location
}

// NewSender picks the transport from configuration.
func NewSender(cfg config.EmailConfig, timezone string) (Sender, error) {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}, nil
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	switch cfg.GetEmailProvider() {
	case "smtp":
		if cfg.GetSMTPHost() == "" {
			return nil, fmt.Errorf("SMTP_HOST is required for the smtp email provider")
		}
		return &TemplateSender{transport: NewSMTPTransport(cfg), loc: loc}, nil
	case "brevo", "":
		if cfg.GetBrevoAPIKey() == "" {
			return nil, fmt.Errorf("BREVO_API_KEY is required for the brevo email provider")
		}
		return &TemplateSender{transport: NewBrevoTransport(cfg, brevoEndpoint), loc: loc}, nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.GetEmailProvider())
	}
}

func (s *TemplateSender) slot(t time.Time) string {
	return t.In(s.loc).Format(slotLayout)
}

func (s *TemplateSender) SendVisitReceivedEmail(ctx context.Context, toEmail string, data VisitReceived) error {
	content, err := renderEmailTemplate("visit_received.html", visitReceivedEmailData{
		baseEmailData: baseEmailData{Title: "Visit request received", Heading: "We received your request"},
		Name:          data.Name,
		Reference:     data.Reference,
		Slot:          s.slot(data.Slot),
		Address:       data.Address,
	})
	if err != nil {
		return err
	}
	return s.transport.send(ctx, toEmail, fmt.Sprintf(subjectVisitReceivedFmt, data.Reference), content)
}

func (s *TemplateSender) SendClientAssignmentEmail(ctx context.Context, toEmail string, data ClientAssignment) error {
	content, err := renderEmailTemplate("client_assignment.html", clientAssignmentEmailData{
		baseEmailData:  baseEmailData{Title: "Your technician", Heading: "Your site visit is scheduled"},
		Name:           data.Name,
		Reference:      data.Reference,
		Slot:           s.slot(data.Slot),
		Address:        data.Address,
		TechnicianName: data.TechnicianName,
	})
	if err != nil {
		return err
	}
	return s.transport.send(ctx, toEmail, fmt.Sprintf(subjectClientAssignmentFmt, data.Reference), content)
}

func (s *TemplateSender) SendTechnicianAssignmentEmail(ctx context.Context, toEmail string, data TechnicianAssignment) error {
	content, err := renderEmailTemplate("technician_assignment.html", technicianAssignmentEmailData{
		baseEmailData:  baseEmailData{Title: "New site visit", Heading: "A site visit has been assigned to you"},
		TechnicianName: data.TechnicianName,
		Reference:      data.Reference,
		ClientName:     data.ClientName,
		Slot:           s.slot(data.Slot),
		Address:        data.Address,
		Summary:        data.Summary,
	})
	if err != nil {
		return err
	}
	return s.transport.send(ctx, toEmail, fmt.Sprintf(subjectTechnicianAssignmentFmt, data.Reference), content)
}

func (s *TemplateSender) SendVisitCancelledEmail(ctx context.Context, toEmail string, data VisitCancelled) error {
	content, err := renderEmailTemplate("visit_cancelled.html", visitCancelledEmailData{
		baseEmailData: baseEmailData{Title: "Visit cancelled", Heading: "Your site visit was cancelled"},
		Name:          data.Name,
		Reference:     data.Reference,
	})
	if err != nil {
		return err
	}
	return s.transport.send(ctx, toEmail, fmt.Sprintf(subjectVisitCancelledFmt, data.Reference), content)
}
