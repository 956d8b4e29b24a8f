package engagement

import (
	"context"
	"testing"
	"time"

	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/internal/visits/prompt"
)

func TestHandleRunsConversationToCompletion(t *testing.T) {
	h := newHarness(t)
	v := h.seedAwaitingConfirm(t)
	ctx := context.Background()

	replies := []struct {
		ev   InboundEvent
		next domain.FlowStep
	}{
		{textEvent("m1", "Yes, confirm"), domain.StepAwaitingReadiness},
		{textEvent("m2", "proceed now"), domain.StepAwaitingBudget},
		{InboundEvent{MessageID: "m3", From: "919876543210", Type: EventButton, Text: "₹50 Lakh – ₹1 Crore", Payload: "budget_50l_1cr"}, domain.StepAwaitingTimeline},
		{textEvent("m4", "Within 3 months"), domain.StepAwaitingDecision},
		{textEvent("m5", "Me"), domain.StepAwaitingSummary},
		{textEvent("m6", "Proceed"), domain.StepCompleted},
	}
	for _, r := range replies {
		h.clock.Advance(time.Minute)
		out, err := h.router.Handle(ctx, r.ev)
		if err != nil {
			t.Fatalf("handle %s: %v", r.ev.MessageID, err)
		}
		if out.Reason != ReasonTransitioned || out.Next != r.next {
			t.Fatalf("%s: expected transition to %s, got %+v", r.ev.MessageID, r.next, out)
		}
		if out.SendErr != nil {
			t.Fatalf("%s: unexpected send error %v", r.ev.MessageID, out.SendErr)
		}
	}

	got := h.visit(t, v.ID)
	if got.Conversation.Step != domain.StepCompleted {
		t.Fatalf("expected completed step, got %s", got.Conversation.Step)
	}
	if got.Status != domain.StatusConfirmed {
		t.Fatalf("expected confirmed status, got %s", got.Status)
	}
	a := got.Conversation.Answers
	if a.ConfirmChoice.String() != domain.ChoiceConfirm || a.ReadinessWindow.String() != domain.ChoiceProceedNow {
		t.Fatalf("unexpected early answers: %q %q", a.ConfirmChoice.String(), a.ReadinessWindow.String())
	}
	if a.Budget.String() != "budget_50l_1cr" || a.Timeline.String() != "Within 3 months" || a.DecisionMaker.String() != "decision_self" {
		t.Fatalf("unexpected qualification answers: %q %q %q", a.Budget.String(), a.Timeline.String(), a.DecisionMaker.String())
	}
	if a.SummaryChoice.String() != domain.ChoiceProceed {
		t.Fatalf("unexpected summary choice %q", a.SummaryChoice.String())
	}

	want := []string{
		prompt.TemplateReadiness,
		prompt.TemplateBudget,
		prompt.TemplateTimeline,
		prompt.TemplateDecision,
		prompt.TemplateSummary,
		prompt.TemplateQualified,
	}
	sent := h.gateway.templates()
	if len(sent) != len(want) {
		t.Fatalf("expected %d prompts, got %v", len(want), sent)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Fatalf("prompt %d: expected %s, got %s", i, want[i], sent[i])
		}
	}
}

func TestHandleIgnoresRedeliveredMessage(t *testing.T) {
	h := newHarness(t)
	v := h.seedAwaitingConfirm(t)
	ctx := context.Background()

	// Unmatched text leaves the step where it is, so a redelivery hits the
	// stored fingerprint.
	if out, err := h.router.Handle(ctx, textEvent("m1", "what time again?")); err != nil || out.Reason != ReasonUnmatched {
		t.Fatalf("expected unmatched, got %+v err=%v", out, err)
	}
	out, err := h.router.Handle(ctx, textEvent("m1", "what time again?"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Reason != ReasonDuplicate {
		t.Fatalf("expected duplicate, got %s", out.Reason)
	}

	got := h.visit(t, v.ID)
	if got.Conversation.Step != domain.StepAwaitingConfirm {
		t.Fatalf("expected step unchanged, got %s", got.Conversation.Step)
	}
	if got.Conversation.Inbound.LastText == nil || *got.Conversation.Inbound.LastText != "what time again?" {
		t.Fatalf("expected inbound audit to be recorded")
	}
	if len(h.gateway.templates()) != 0 {
		t.Fatalf("expected no prompts, got %v", h.gateway.templates())
	}
}

func TestHandleAppliesConfirmOnlyOnce(t *testing.T) {
	h := newHarness(t)
	v := h.seedAwaitingConfirm(t)
	ctx := context.Background()

	if _, err := h.router.Handle(ctx, textEvent("m1", "Yes, confirm")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	out, err := h.router.Handle(ctx, textEvent("m1", "Yes, confirm"))
	if err != nil {
		t.Fatalf("handle redelivery: %v", err)
	}
	if out.Reason == ReasonTransitioned {
		t.Fatalf("redelivered confirm must not transition again")
	}

	got := h.visit(t, v.ID)
	if got.Conversation.Step != domain.StepAwaitingReadiness {
		t.Fatalf("expected awaiting_readiness, got %s", got.Conversation.Step)
	}
	if sent := h.gateway.templates(); len(sent) != 1 {
		t.Fatalf("expected a single readiness prompt, got %v", sent)
	}
}

func TestHandleRejectsAnswerForAnsweredStep(t *testing.T) {
	h := newHarness(t)
	v := h.seedAwaitingConfirm(t)

	// A visit parked back in a step whose answer is already stored.
	stored := h.visit(t, v.ID)
	stored.Conversation.Answers.Set(domain.TopicConfirmChoice, domain.ChoiceConfirm, h.clock.now)
	h.store.Seed(*stored)

	out, err := h.router.Handle(context.Background(), textEvent("m9", "Cancel visit"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Reason != ReasonAlreadyAnswered {
		t.Fatalf("expected already_answered, got %s", out.Reason)
	}
	if got := h.visit(t, v.ID); got.Status != domain.StatusRequested {
		t.Fatalf("expected status unchanged, got %s", got.Status)
	}
}

func TestHandleKeepsStateWhenPromptFails(t *testing.T) {
	h := newHarness(t)
	v := h.seedAwaitingConfirm(t)
	h.gateway.err = errGatewayDown

	out, err := h.router.Handle(context.Background(), textEvent("m1", "Reschedule"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Reason != ReasonTransitioned || out.SendErr == nil {
		t.Fatalf("expected transition with send error, got %+v", out)
	}

	got := h.visit(t, v.ID)
	if got.Conversation.Step != domain.StepAwaitingReschedule {
		t.Fatalf("expected awaiting_reschedule, got %s", got.Conversation.Step)
	}
	if got.Conversation.StepSent(domain.StepAwaitingReschedule) {
		t.Fatalf("failed prompt must not be marked sent")
	}
	if got.Conversation.StepLastError == nil {
		t.Fatalf("expected send error to be recorded")
	}
}

func TestHandleIgnoresUnknownSenderAndStatusOnly(t *testing.T) {
	h := newHarness(t)
	h.seedAwaitingConfirm(t)
	ctx := context.Background()

	out, err := h.router.Handle(ctx, InboundEvent{MessageID: "x1", From: "14155550100", Type: EventText, Text: "hello"})
	if err != nil || out.Reason != ReasonNoActiveVisit {
		t.Fatalf("expected no_active_visit, got %+v err=%v", out, err)
	}

	out, err = h.router.Handle(ctx, InboundEvent{MessageID: "x2", From: "919876543210", Type: "image"})
	if err != nil || out.Reason != ReasonUnsupported {
		t.Fatalf("expected unsupported, got %+v err=%v", out, err)
	}
}

func TestHandleIgnoresRepliesAfterExpiry(t *testing.T) {
	h := newHarness(t)
	v := h.seedAwaitingConfirm(t)
	ctx := context.Background()

	h.clock.Advance(8 * 24 * time.Hour)
	expired, err := h.store.ExpireInactive(ctx, h.clock.now.Add(-7*24*time.Hour), h.clock.now, "inactive")
	if err != nil || expired != 1 {
		t.Fatalf("expected one expired visit, got %d err=%v", expired, err)
	}

	out, err := h.router.Handle(ctx, textEvent("late", "Yes, confirm"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Reason != ReasonNoActiveVisit {
		t.Fatalf("expected no_active_visit, got %s", out.Reason)
	}
	if got := h.visit(t, v.ID); got.Conversation.Step != domain.StepExpired {
		t.Fatalf("expected expired step, got %s", got.Conversation.Step)
	}
	if len(h.gateway.templates()) != 0 {
		t.Fatalf("expected no prompts after expiry")
	}
}

func TestHandleAuditsPausedLater(t *testing.T) {
	h := newHarness(t)
	v := h.seedAwaitingConfirm(t)
	ctx := context.Background()

	if out, _ := h.router.Handle(ctx, textEvent("m1", "Not now")); out.Next != domain.StepPaused {
		t.Fatalf("expected paused, got %+v", out)
	}
	out, err := h.router.Handle(ctx, textEvent("m2", "later"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Reason != ReasonAudited {
		t.Fatalf("expected audited, got %s", out.Reason)
	}
	out, err = h.router.Handle(ctx, textEvent("m3", "I'm ready"))
	if err != nil || out.Next != domain.StepAwaitingReadiness {
		t.Fatalf("expected resume to readiness, got %+v err=%v", out, err)
	}
	if got := h.visit(t, v.ID); got.Conversation.Answers.ConfirmChoice.String() != domain.ChoiceDecline {
		t.Fatalf("expected decline recorded")
	}
}
