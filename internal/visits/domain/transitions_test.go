package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCanonicalizeNormalizesDashesCaseAndPunctuation(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  Yes, confirm! ", "yes confirm"},
		{"₹1 Crore – ₹2 Crore", "₹1 crore - ₹2 crore"},
		{"₹1 crore-₹2 crore", "₹1 crore - ₹2 crore"},
		{"PROCEED   NOW.", "proceed now"},
		{"I am the decision maker", "i am the decision maker"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Canonicalize(tc.in); got != tc.want {
			t.Fatalf("Canonicalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDecideFollowsTransitionTable(t *testing.T) {
	cases := []struct {
		step   FlowStep
		text   string
		next   FlowStep
		answer string
	}{
		{StepAwaitingConfirm, "Yes, confirm", StepAwaitingReadiness, ChoiceConfirm},
		{StepAwaitingConfirm, "not now", StepPaused, ChoiceDecline},
		{StepAwaitingConfirm, "Reschedule", StepAwaitingReschedule, ChoiceReschedule},
		{StepAwaitingConfirm, "cancel visit", StepCanceled, ChoiceCancel},
		{StepPaused, "Continue", StepAwaitingReadiness, ChoiceContinue},
		{StepPaused, "later", StepPaused, ChoiceLater},
		{StepAwaitingReschedule, "this weekend", StepAwaitingReadiness, ChoiceWeekend},
		{StepAwaitingReadiness, "Proceed now", StepAwaitingBudget, ChoiceProceedNow},
		{StepAwaitingReadiness, "Choose different time", StepAwaitingCustomTime, ChoiceChooseDifferentTime},
		{StepAwaitingCustomTime, "Saturday 11am", StepAwaitingBudget, "Saturday 11am"},
		{StepAwaitingBudget, "₹1 Crore – ₹2 Crore", StepAwaitingTimeline, "budget_1cr_2cr"},
		{StepAwaitingTimeline, "Within 3 months", StepAwaitingDecision, "Within 3 months"},
		{StepAwaitingDecision, "I am the decision maker", StepAwaitingSummary, "decision_self"},
		{StepAwaitingSummary, "Proceed", StepCompleted, ChoiceProceed},
		{StepAwaitingSummary, "Cancel", StepCanceled, ChoiceCancel},
	}

	for _, tc := range cases {
		decision, ok := Decide(tc.step, NewReply(tc.text, ""))
		if !ok {
			t.Fatalf("expected %q to match in %s", tc.text, tc.step)
		}
		if decision.Next != tc.next {
			t.Fatalf("%s + %q: expected next %s, got %s", tc.step, tc.text, tc.next, decision.Next)
		}
		if decision.Answer != tc.answer {
			t.Fatalf("%s + %q: expected answer %q, got %q", tc.step, tc.text, tc.answer, decision.Answer)
		}
	}
}

func TestDecideMatchesButtonPayload(t *testing.T) {
	decision, ok := Decide(StepAwaitingConfirm, NewReply("👍", "confirm"))
	if !ok || decision.Next != StepAwaitingReadiness {
		t.Fatalf("expected payload to drive transition, got %+v ok=%v", decision, ok)
	}
}

func TestDecideRejectsUnmappedAndTerminal(t *testing.T) {
	if _, ok := Decide(StepAwaitingBudget, NewReply("whatever you think", "")); ok {
		t.Fatal("expected unmapped budget reply to be rejected")
	}
	if _, ok := Decide(StepAwaitingTimeline, NewReply("   ", "")); ok {
		t.Fatal("expected empty free-text reply to be rejected")
	}
	for _, step := range TerminalSteps {
		if _, ok := Decide(step, NewReply("proceed", "")); ok {
			t.Fatalf("expected terminal step %s to accept nothing", step)
		}
	}
}

func TestDecisionStatusAfter(t *testing.T) {
	completed := Decision{From: StepAwaitingSummary, Next: StepCompleted}
	if status, ok := completed.StatusAfter(StatusRequested); !ok || status != StatusConfirmed {
		t.Fatalf("expected completion to confirm visit, got %s ok=%v", status, ok)
	}
	canceled := Decision{From: StepAwaitingConfirm, Next: StepCanceled}
	if status, ok := canceled.StatusAfter(StatusRequested); !ok || status != StatusCancelled {
		t.Fatalf("expected cancellation, got %s ok=%v", status, ok)
	}
	rescheduled := Decision{From: StepAwaitingReschedule, Next: StepAwaitingReadiness}
	if status, ok := rescheduled.StatusAfter(StatusRequested); !ok || status != StatusRescheduled {
		t.Fatalf("expected rescheduled status, got %s ok=%v", status, ok)
	}
	budget := Decision{From: StepAwaitingBudget, Next: StepAwaitingTimeline}
	if _, ok := budget.StatusAfter(StatusRequested); ok {
		t.Fatal("expected budget answer to leave status unchanged")
	}
}

func TestAnswersSetOnlyOnce(t *testing.T) {
	var answers Answers
	now := time.Now()
	if !answers.Set(TopicBudget, "budget_1cr_2cr", now) {
		t.Fatal("expected first set to succeed")
	}
	if answers.Set(TopicBudget, "budget_above_2cr", now) {
		t.Fatal("expected second set to be rejected")
	}
	if answers.Budget.String() != "budget_1cr_2cr" {
		t.Fatalf("unexpected budget %q", answers.Budget.String())
	}
	if answers.Set(TopicNone, "x", now) {
		t.Fatal("expected paused step to have no answer field")
	}
}

func TestFingerprintDependsOnStepAndMessage(t *testing.T) {
	id := uuid.New()
	a := Fingerprint(id, StepAwaitingConfirm, "button", "yes confirm", "wamid.1")
	b := Fingerprint(id, StepAwaitingConfirm, "button", "yes confirm", "wamid.1")
	if a != b {
		t.Fatal("expected identical inputs to produce identical fingerprints")
	}
	if a == Fingerprint(id, StepAwaitingReadiness, "button", "yes confirm", "wamid.1") {
		t.Fatal("expected step to be part of the fingerprint")
	}
	if a == Fingerprint(id, StepAwaitingConfirm, "button", "yes confirm", "wamid.2") {
		t.Fatal("expected provider message id to be part of the fingerprint")
	}
}

func TestBookingReferenceIsShortAndStable(t *testing.T) {
	id := uuid.MustParse("3f2a9c10-1111-2222-3333-444455556666")
	if ref := BookingReference(id); ref != "SV-3F2A9C10" {
		t.Fatalf("unexpected booking reference %q", ref)
	}
}

func TestSiteKeyPrefersExplicitReference(t *testing.T) {
	if SiteKey("Plot-12", "anything") != "ref:plot-12" {
		t.Fatal("expected explicit site reference to win")
	}
	if SiteKey("", "  12 MG Road,   Pune ") != "addr:12 mg road, pune" {
		t.Fatalf("unexpected address key %q", SiteKey("", "  12 MG Road,   Pune "))
	}
}
