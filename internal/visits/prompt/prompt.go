// Package prompt renders the outbound template messages of the visit
// conversation. Every message carries a correlation token of the form
// v1.<visit id>.<step>.<purpose>.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/internal/whatsapp"
	"sitevisit_backend/platform/config"
)

// Purpose says why a message was sent.
type Purpose string

const (
	PurposeWelcome    Purpose = "welcome"
	PurposePrompt     Purpose = "prompt"
	PurposeReminder   Purpose = "reminder"
	PurposeRecovery   Purpose = "recovery"
	PurposeNotice     Purpose = "notice"
	PurposeAssignment Purpose = "assignment"
)

const (
	TemplateWelcome    = "visit_welcome"
	TemplateConfirm    = "visit_confirm"
	TemplatePaused     = "visit_paused_nudge"
	TemplateReschedule = "visit_reschedule"
	TemplateReadiness  = "visit_readiness"
	TemplateCustomTime = "visit_custom_time"
	TemplateBudget     = "visit_budget"
	TemplateTimeline   = "visit_timeline"
	TemplateDecision   = "visit_decision"
	TemplateSummary    = "visit_summary"
	TemplateCancelled  = "visit_cancelled"
	TemplateQualified  = "visit_qualified"
	TemplateAssigned   = "visit_assigned"
)

const slotLayout = "Mon 2 Jan 2006, 3:04 PM"

var stepTemplates = map[domain.FlowStep]string{
	domain.StepAwaitingConfirm:    TemplateConfirm,
	domain.StepPaused:             TemplatePaused,
	domain.StepAwaitingReschedule: TemplateReschedule,
	domain.StepAwaitingReadiness:  TemplateReadiness,
	domain.StepAwaitingCustomTime: TemplateCustomTime,
	domain.StepAwaitingBudget:     TemplateBudget,
	domain.StepAwaitingTimeline:   TemplateTimeline,
	domain.StepAwaitingDecision:   TemplateDecision,
	domain.StepAwaitingSummary:    TemplateSummary,
	domain.StepCanceled:           TemplateCancelled,
	domain.StepCompleted:          TemplateQualified,
}

// Builder renders template messages in one language and time zone.
type Builder struct {
	language string
	loc      *time.Location
}

// NewBuilder falls back to UTC when the configured zone cannot be loaded.
func NewBuilder(cfg config.PromptConfig) *Builder {
	loc, err := time.LoadLocation(cfg.GetVisitTimezone())
	if err != nil || cfg.GetVisitTimezone() == "" {
		loc = time.UTC
	}
	return &Builder{language: cfg.GetWhatsAppLanguage(), loc: loc}
}

// Correlation builds the opaque token attached to an outbound message.
func Correlation(v domain.Visit, step domain.FlowStep, purpose Purpose) string {
	stepToken := string(step)
	if stepToken == "" {
		stepToken = "none"
	}
	return fmt.Sprintf("v1.%s.%s.%s", v.ID, stepToken, purpose)
}

// Welcome is sent once to counterparties with no earlier visit.
func (b *Builder) Welcome(v domain.Visit) whatsapp.TemplateMessage {
	return b.message(v, TemplateWelcome, domain.StepNone, PurposeWelcome, []string{firstName(v)})
}

// Step renders the prompt that asks the question of step, or the closing
// notice for a terminal step. ok is false for steps that send nothing.
func (b *Builder) Step(v domain.Visit, step domain.FlowStep, purpose Purpose) (whatsapp.TemplateMessage, bool) {
	template, ok := stepTemplates[step]
	if !ok {
		return whatsapp.TemplateMessage{}, false
	}

	name := firstName(v)
	var params []string
	switch step {
	case domain.StepAwaitingConfirm:
		params = []string{name, v.Reference(), b.slot(v.Booking.RequestedSlot), v.Booking.Address}
	case domain.StepAwaitingReadiness:
		params = []string{name, b.slot(v.Booking.RequestedSlot)}
	case domain.StepAwaitingSummary:
		params = append([]string{name, v.Reference()}, SummaryLines(v.Conversation.Answers)...)
	case domain.StepCanceled, domain.StepCompleted:
		params = []string{name, v.Reference()}
	default:
		params = []string{name}
	}

	msg := b.message(v, template, step, purpose, params)
	for _, opt := range domain.Options(step) {
		msg.Buttons = append(msg.Buttons, opt.Label)
	}
	return msg, true
}

// Assigned tells the counterparty who will visit.
func (b *Builder) Assigned(v domain.Visit, tech domain.Technician) whatsapp.TemplateMessage {
	return b.message(v, TemplateAssigned, v.Conversation.Step, PurposeAssignment, []string{
		firstName(v),
		v.Reference(),
		tech.Name,
		tech.Phone,
		b.slot(v.Booking.RequestedSlot),
	})
}

// TechnicianBrief is the plain-text job sheet sent to the technician.
func (b *Builder) TechnicianBrief(v domain.Visit, tech domain.Technician) string {
	answers := v.Conversation.Answers
	lines := []string{
		fmt.Sprintf("Hi %s, you have a new site visit (%s).", tech.Name, v.Reference()),
		"Client: " + v.Booking.Name + " (" + v.Booking.Phone + ")",
		"When: " + b.slot(v.Booking.RequestedSlot),
		"Where: " + v.Booking.Address,
	}
	summary := SummaryLines(answers)
	lines = append(lines,
		"Availability: "+summary[0],
		"Budget: "+summary[1],
		"Timeline: "+summary[2],
		"Decision maker: "+summary[3],
	)
	return strings.Join(lines, "\n")
}

// SummaryLines returns the four collected answers shown in the summary
// prompt: availability, budget, timeline and decision maker.
func SummaryLines(a domain.Answers) []string {
	availability := domain.OptionLabel(domain.StepAwaitingReadiness, a.ReadinessWindow.String())
	if a.ReadinessWindow.String() == domain.ChoiceChooseDifferentTime && a.CustomTime.IsSet() {
		availability = a.CustomTime.String()
	}
	return []string{
		orDash(availability),
		orDash(domain.OptionLabel(domain.StepAwaitingBudget, a.Budget.String())),
		orDash(a.Timeline.String()),
		orDash(domain.OptionLabel(domain.StepAwaitingDecision, a.DecisionMaker.String())),
	}
}

func (b *Builder) message(v domain.Visit, template string, step domain.FlowStep, purpose Purpose, params []string) whatsapp.TemplateMessage {
	return whatsapp.TemplateMessage{
		Phone:       v.Booking.Phone,
		Template:    template,
		Language:    b.language,
		Params:      params,
		Correlation: Correlation(v, step, purpose),
	}
}

func (b *Builder) slot(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(b.loc).Format(slotLayout)
}

func firstName(v domain.Visit) string {
	fields := strings.Fields(v.Booking.Name)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
