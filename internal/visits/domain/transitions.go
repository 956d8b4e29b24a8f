package domain

import "strings"

// Option is one accepted reply for a step. Key is what gets recorded; Label is
// what the counterparty sees on the button; Aliases are extra accepted forms.
type Option struct {
	Key     string
	Label   string
	Aliases []string
	Next    FlowStep
}

func (o Option) matches(canonical string) bool {
	if canonical == "" {
		return false
	}
	if canonical == Canonicalize(o.Key) || canonical == Canonicalize(o.Label) {
		return true
	}
	for _, alias := range o.Aliases {
		if canonical == Canonicalize(alias) {
			return true
		}
	}
	return false
}

// Choice keys recorded in answer fields.
const (
	ChoiceConfirm             = "confirm"
	ChoiceDecline             = "decline"
	ChoiceReschedule          = "reschedule"
	ChoiceCancel              = "cancel"
	ChoiceContinue            = "continue"
	ChoiceLater               = "later"
	ChoiceToday               = "today"
	ChoiceTomorrow            = "tomorrow"
	ChoiceWeekend             = "weekend"
	ChoiceProceedNow          = "proceed_now"
	ChoiceLaterToday          = "later_today"
	ChoiceChooseDifferentTime = "choose_different_time"
	ChoiceProceed             = "proceed"
)

var stepOptions = map[FlowStep][]Option{
	StepAwaitingConfirm: {
		{Key: ChoiceConfirm, Label: "Yes, confirm", Aliases: []string{"yes", "confirmed", "ok"}, Next: StepAwaitingReadiness},
		{Key: ChoiceDecline, Label: "Not now", Aliases: []string{"no", "not interested"}, Next: StepPaused},
		{Key: ChoiceReschedule, Label: "Reschedule", Aliases: []string{"change time", "change date"}, Next: StepAwaitingReschedule},
		{Key: ChoiceCancel, Label: "Cancel visit", Aliases: []string{"cancel booking"}, Next: StepCanceled},
	},
	StepPaused: {
		{Key: ChoiceContinue, Label: "Continue", Aliases: []string{"yes, continue", "resume", "i'm ready"}, Next: StepAwaitingReadiness},
		{Key: ChoiceLater, Label: "Later", Aliases: []string{"maybe later", "not now"}, Next: StepPaused},
	},
	StepAwaitingReschedule: {
		{Key: ChoiceToday, Label: "Today", Next: StepAwaitingReadiness},
		{Key: ChoiceTomorrow, Label: "Tomorrow", Next: StepAwaitingReadiness},
		{Key: ChoiceWeekend, Label: "This weekend", Aliases: []string{"weekend"}, Next: StepAwaitingReadiness},
	},
	StepAwaitingReadiness: {
		{Key: ChoiceProceedNow, Label: "Proceed now", Aliases: []string{"now"}, Next: StepAwaitingBudget},
		{Key: ChoiceLaterToday, Label: "Later today", Next: StepAwaitingBudget},
		{Key: ChoiceTomorrow, Label: "Tomorrow", Next: StepAwaitingBudget},
		{Key: ChoiceChooseDifferentTime, Label: "Choose different time", Aliases: []string{"choose a different time", "different time"}, Next: StepAwaitingCustomTime},
	},
	StepAwaitingBudget: {
		{Key: "budget_under_50l", Label: "Below ₹50 Lakh", Next: StepAwaitingTimeline},
		{Key: "budget_50l_1cr", Label: "₹50 Lakh – ₹1 Crore", Next: StepAwaitingTimeline},
		{Key: "budget_1cr_2cr", Label: "₹1 Crore – ₹2 Crore", Next: StepAwaitingTimeline},
		{Key: "budget_above_2cr", Label: "Above ₹2 Crore", Next: StepAwaitingTimeline},
	},
	StepAwaitingDecision: {
		{Key: "decision_self", Label: "I am the decision maker", Aliases: []string{"me", "myself"}, Next: StepAwaitingSummary},
		{Key: "decision_joint", Label: "Joint decision with family", Aliases: []string{"joint decision"}, Next: StepAwaitingSummary},
		{Key: "decision_other", Label: "Someone else decides", Next: StepAwaitingSummary},
	},
	StepAwaitingSummary: {
		{Key: ChoiceProceed, Label: "Proceed", Aliases: []string{"yes, proceed", "confirm"}, Next: StepCompleted},
		{Key: ChoiceCancel, Label: "Cancel", Aliases: []string{"cancel visit"}, Next: StepCanceled},
	},
}

// freeTextSteps accept any non-empty reply.
var freeTextSteps = map[FlowStep]FlowStep{
	StepAwaitingCustomTime: StepAwaitingBudget,
	StepAwaitingTimeline:   StepAwaitingDecision,
}

// Options returns the accepted options of a step, in display order.
func Options(step FlowStep) []Option {
	return stepOptions[step]
}

// OptionLabel returns the display label for a recorded key, or the key itself
// for free-text answers.
func OptionLabel(step FlowStep, key string) string {
	for _, opt := range stepOptions[step] {
		if opt.Key == key {
			return opt.Label
		}
	}
	return key
}

// Reply is an inbound reply prepared for the transition table.
type Reply struct {
	// Text is the trimmed raw text, recorded verbatim for free-text steps.
	Text string
	// Canonical is Canonicalize(Text).
	Canonical string
	// Payload is the canonicalized button payload, when the provider sent one.
	Payload string
}

// NewReply prepares raw text and an optional button payload.
func NewReply(text, payload string) Reply {
	return Reply{
		Text:      strings.TrimSpace(text),
		Canonical: Canonicalize(text),
		Payload:   Canonicalize(payload),
	}
}

// Decision is the outcome of applying a reply to the current step.
type Decision struct {
	From   FlowStep
	Next   FlowStep
	Topic  Topic
	Answer string
}

// Advances reports whether the decision moves the conversation.
func (d Decision) Advances() bool {
	return d.Next != d.From
}

// Decide maps (current step, reply) to the next step and the answer to record.
// ok is false when the reply does not match anything the step accepts or the
// step does not accept replies at all.
func Decide(step FlowStep, reply Reply) (Decision, bool) {
	if next, free := freeTextSteps[step]; free {
		if reply.Text == "" {
			return Decision{}, false
		}
		return Decision{From: step, Next: next, Topic: TopicFor(step), Answer: reply.Text}, true
	}

	for _, opt := range stepOptions[step] {
		if opt.matches(reply.Payload) || opt.matches(reply.Canonical) {
			return Decision{From: step, Next: opt.Next, Topic: TopicFor(step), Answer: opt.Key}, true
		}
	}
	return Decision{}, false
}

// StatusAfter returns the coarse status the visit takes once the decision is
// applied, or ok=false to leave it unchanged. Completing the conversation
// approves the visit for assignment.
func (d Decision) StatusAfter(current Status) (Status, bool) {
	switch {
	case d.Next == StepCanceled:
		return StatusCancelled, current != StatusCancelled
	case d.Next == StepCompleted:
		if current == StatusRequested || current == StatusRescheduled {
			return StatusConfirmed, true
		}
	case d.From == StepAwaitingReschedule:
		if current == StatusRequested {
			return StatusRescheduled, true
		}
	}
	return current, false
}
