package domain

import (
	"testing"
	"time"
)

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	base := time.Minute
	max := 5 * time.Minute

	first := RetryDelay(1, base, max)
	second := RetryDelay(2, base, max)
	third := RetryDelay(3, base, max)
	if !(first < second && second < third) {
		t.Fatalf("expected strictly increasing delays, got %s %s %s", first, second, third)
	}
	if third != 4*time.Minute {
		t.Fatalf("expected third delay 4m, got %s", third)
	}
	if got := RetryDelay(10, base, max); got != max {
		t.Fatalf("expected cap %s, got %s", max, got)
	}
	if got := RetryDelay(0, base, max); got != base {
		t.Fatalf("expected attempt 0 to behave like attempt 1, got %s", got)
	}
}

func TestReminderPolicyConfirmStep(t *testing.T) {
	policy := ReminderPolicyFor(StepAwaitingConfirm)
	if policy.Due(5*time.Hour, 0) {
		t.Fatal("expected no reminder before 6h")
	}
	if !policy.Due(6*time.Hour, 0) {
		t.Fatal("expected first reminder at 6h")
	}
	if policy.Due(23*time.Hour, 1) {
		t.Fatal("expected second reminder to wait for 24h")
	}
	if !policy.Due(24*time.Hour, 1) {
		t.Fatal("expected second reminder at 24h")
	}
	if policy.Due(1000*time.Hour, 2) {
		t.Fatal("expected cap of two reminders")
	}
}

func TestReminderPolicyOtherSteps(t *testing.T) {
	policy := ReminderPolicyFor(StepAwaitingTimeline)
	if policy.Due(23*time.Hour, 0) || !policy.Due(24*time.Hour, 0) {
		t.Fatal("expected first reminder at 24h")
	}
	if policy.Due(47*time.Hour, 1) || !policy.Due(48*time.Hour, 1) {
		t.Fatal("expected second reminder at 48h")
	}
	if policy.Earliest() != 24*time.Hour {
		t.Fatalf("unexpected earliest threshold %s", policy.Earliest())
	}
}

func TestConversationLastActivityUsesLatestSignal(t *testing.T) {
	stepAt := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	inboundAt := stepAt.Add(2 * time.Hour)
	c := Conversation{StepSetAt: &stepAt, Inbound: InboundAudit{LastAt: &inboundAt}}
	if !c.LastActivity().Equal(inboundAt) {
		t.Fatalf("expected inbound time, got %s", c.LastActivity())
	}
}
