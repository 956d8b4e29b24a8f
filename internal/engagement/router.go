// Package engagement ingests counterparty replies from the messaging gateway
// webhook and drives the visit conversation state machine.
package engagement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/internal/visits/prompt"
	"sitevisit_backend/internal/visits/repository"
	"sitevisit_backend/platform/apperr"
	"sitevisit_backend/platform/logger"
	"sitevisit_backend/platform/metrics"
	"sitevisit_backend/platform/phone"
	"sitevisit_backend/platform/sanitize"

	"github.com/google/uuid"
)

// Outcome reasons. Everything except ReasonTransitioned leaves the
// conversation where it was.
const (
	ReasonTransitioned    = "transitioned"
	ReasonAudited         = "audited"
	ReasonUnsupported     = "unsupported"
	ReasonNoActiveVisit   = "no_active_visit"
	ReasonNotStarted      = "not_started"
	ReasonTerminal        = "terminal"
	ReasonDuplicate       = "duplicate"
	ReasonAlreadyAnswered = "already_answered"
	ReasonUnmatched       = "unmatched"
	ReasonConcurrent      = "concurrent"
)

// ConversationStore is the part of the visit store the router needs.
type ConversationStore interface {
	FindActiveByPhone(ctx context.Context, phone string) (*domain.Visit, error)
	RecordInbound(ctx context.Context, id uuid.UUID, record repository.InboundRecord) error
	ApplyTransition(ctx context.Context, id uuid.UUID, t repository.Transition) (bool, error)
}

// StepSender sends the prompt of a step.
type StepSender interface {
	SendStep(ctx context.Context, v domain.Visit, step domain.FlowStep, purpose prompt.Purpose) error
}

// Outcome describes what happened to one inbound event.
type Outcome struct {
	VisitID uuid.UUID       `json:"visitId,omitempty"`
	Reason  string          `json:"reason"`
	From    domain.FlowStep `json:"from,omitempty"`
	Next    domain.FlowStep `json:"next,omitempty"`
	SendErr error           `json:"-"`
}

// FlowRouter applies inbound replies to visits.
type FlowRouter struct {
	store   ConversationStore
	sender  StepSender
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

func NewFlowRouter(store ConversationStore, sender StepSender, m *metrics.Metrics, log *logger.Logger) *FlowRouter {
	return &FlowRouter{
		store:   store,
		sender:  sender,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// SetClock overrides the time source.
func (r *FlowRouter) SetClock(now func() time.Time) {
	r.now = now
}

// Handle routes one inbound event. State is persisted before the next prompt
// is sent; a failed send is reported in Outcome.SendErr and left to the
// recovery sweep. The returned error is reserved for store failures.
func (r *FlowRouter) Handle(ctx context.Context, ev InboundEvent) (Outcome, error) {
	text := sanitize.Inbound(ev.Text)
	if text == "" && strings.TrimSpace(ev.Payload) == "" {
		return r.ignored(ev, Outcome{Reason: ReasonUnsupported}), nil
	}

	visit, err := r.store.FindActiveByPhone(ctx, phone.FromGateway(ev.From))
	if apperr.Is(err, apperr.KindNotFound) {
		return r.ignored(ev, Outcome{Reason: ReasonNoActiveVisit}), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("find active visit: %w", err)
	}

	now := r.now()
	step := visit.Conversation.Step
	out := Outcome{VisitID: visit.ID, From: step, Next: step}
	reply := domain.NewReply(text, ev.Payload)
	fingerprint := domain.Fingerprint(visit.ID, step, ev.Type, reply.Canonical, ev.MessageID)
	audit := repository.InboundRecord{At: now, Text: text, Type: ev.Type, MessageID: ev.MessageID}

	switch {
	case step == domain.StepNone:
		out.Reason = ReasonNotStarted
	case step.IsTerminal():
		out.Reason = ReasonTerminal
	case visit.Conversation.Inbound.Fingerprint != nil && *visit.Conversation.Inbound.Fingerprint == fingerprint:
		out.Reason = ReasonDuplicate
	case visit.Conversation.AlreadyAnswered(step):
		out.Reason = ReasonAlreadyAnswered
	}
	if out.Reason != "" {
		return r.audited(ctx, ev, out, audit)
	}

	audit.Fingerprint = fingerprint
	decision, ok := domain.Decide(step, reply)
	if !ok {
		out.Reason = ReasonUnmatched
		return r.audited(ctx, ev, out, audit)
	}
	if !decision.Advances() {
		out.Reason = ReasonAudited
		return r.audited(ctx, ev, out, audit)
	}

	transition := repository.Transition{
		From:    decision.From,
		Next:    decision.Next,
		Topic:   decision.Topic,
		Answer:  decision.Answer,
		At:      now,
		Inbound: audit,
	}
	if status, changed := decision.StatusAfter(visit.Status); changed {
		transition.Status = &status
	}

	applied, err := r.store.ApplyTransition(ctx, visit.ID, transition)
	if err != nil {
		return Outcome{}, fmt.Errorf("apply transition: %w", err)
	}
	if !applied {
		return r.ignored(ev, Outcome{VisitID: visit.ID, From: step, Next: step, Reason: ReasonConcurrent}), nil
	}

	r.metrics.Transition(string(decision.Next))
	r.metrics.WebhookEvent(ReasonTransitioned)
	r.log.Info("visit conversation advanced",
		"visitId", visit.ID, "from", decision.From, "to", decision.Next, "messageId", ev.MessageID)

	advanced := *visit
	advanced.Conversation.Answers.Set(decision.Topic, decision.Answer, now)
	advanced.Conversation.Step = decision.Next
	advanced.Conversation.StepSetAt = &now
	if transition.Status != nil {
		advanced.Status = *transition.Status
	}

	out.Reason = ReasonTransitioned
	out.Next = decision.Next
	out.SendErr = r.sender.SendStep(ctx, advanced, decision.Next, prompt.PurposePrompt)
	return out, nil
}

func (r *FlowRouter) audited(ctx context.Context, ev InboundEvent, out Outcome, audit repository.InboundRecord) (Outcome, error) {
	if err := r.store.RecordInbound(ctx, out.VisitID, audit); err != nil {
		return Outcome{}, fmt.Errorf("record inbound audit: %w", err)
	}
	return r.ignored(ev, out), nil
}

func (r *FlowRouter) ignored(ev InboundEvent, out Outcome) Outcome {
	r.metrics.WebhookEvent(out.Reason)
	if out.Reason != ReasonAudited {
		r.log.WebhookIgnored(out.Reason, ev.MessageID, "type", ev.Type, "step", string(out.From))
	}
	return out
}
