package domain

import "time"

// FlowStep is the single source of truth for where a visit's conversation is.
type FlowStep string

const (
	// StepNone means the confirmation prompt has not been delivered yet.
	StepNone               FlowStep = ""
	StepAwaitingConfirm    FlowStep = "awaiting_confirm"
	StepPaused             FlowStep = "paused"
	StepAwaitingReschedule FlowStep = "awaiting_reschedule"
	StepAwaitingReadiness  FlowStep = "awaiting_readiness"
	StepAwaitingCustomTime FlowStep = "awaiting_custom_time"
	StepAwaitingBudget     FlowStep = "awaiting_budget"
	StepAwaitingTimeline   FlowStep = "awaiting_timeline"
	StepAwaitingDecision   FlowStep = "awaiting_decision"
	StepAwaitingSummary    FlowStep = "awaiting_summary"
	StepCompleted          FlowStep = "completed"
	StepCanceled           FlowStep = "canceled"
	StepExpired            FlowStep = "expired"
)

// ConversationSteps are the non-terminal steps in which the counterparty is
// expected to reply.
var ConversationSteps = []FlowStep{
	StepAwaitingConfirm,
	StepPaused,
	StepAwaitingReschedule,
	StepAwaitingReadiness,
	StepAwaitingCustomTime,
	StepAwaitingBudget,
	StepAwaitingTimeline,
	StepAwaitingDecision,
	StepAwaitingSummary,
}

// TerminalSteps cannot be left once entered.
var TerminalSteps = []FlowStep{StepCompleted, StepCanceled, StepExpired}

// IsTerminal reports whether the step is terminal.
func (s FlowStep) IsTerminal() bool {
	for _, t := range TerminalSteps {
		if s == t {
			return true
		}
	}
	return false
}

// IsConversation reports whether the step is a non-terminal conversation step.
func (s FlowStep) IsConversation() bool {
	for _, c := range ConversationSteps {
		if s == c {
			return true
		}
	}
	return false
}

// IsKnown reports whether the step is part of the enumeration.
func (s FlowStep) IsKnown() bool {
	return s == StepNone || s.IsConversation() || s.IsTerminal()
}

// StringValues converts steps to plain strings for query parameters.
func StringValues(steps []FlowStep) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = string(s)
	}
	return out
}

// Topic names an answer field of the conversation.
type Topic string

const (
	TopicNone                 Topic = ""
	TopicConfirmChoice        Topic = "confirm_choice"
	TopicReschedulePreference Topic = "reschedule_preference"
	TopicReadinessWindow      Topic = "readiness_window"
	TopicCustomTime           Topic = "custom_time"
	TopicBudget               Topic = "budget"
	TopicTimeline             Topic = "timeline"
	TopicDecisionMaker        Topic = "decision_maker"
	TopicSummaryChoice        Topic = "summary_choice"
)

var stepTopics = map[FlowStep]Topic{
	StepAwaitingConfirm:    TopicConfirmChoice,
	StepAwaitingReschedule: TopicReschedulePreference,
	StepAwaitingReadiness:  TopicReadinessWindow,
	StepAwaitingCustomTime: TopicCustomTime,
	StepAwaitingBudget:     TopicBudget,
	StepAwaitingTimeline:   TopicTimeline,
	StepAwaitingDecision:   TopicDecisionMaker,
	StepAwaitingSummary:    TopicSummaryChoice,
}

// TopicFor returns the answer field a step records. Paused has none.
func TopicFor(step FlowStep) Topic {
	return stepTopics[step]
}

// Answer returns the answer stored for a topic.
func (a Answers) Answer(topic Topic) Answer {
	switch topic {
	case TopicConfirmChoice:
		return a.ConfirmChoice
	case TopicReschedulePreference:
		return a.ReschedulePreference
	case TopicReadinessWindow:
		return a.ReadinessWindow
	case TopicCustomTime:
		return a.CustomTime
	case TopicBudget:
		return a.Budget
	case TopicTimeline:
		return a.Timeline
	case TopicDecisionMaker:
		return a.DecisionMaker
	case TopicSummaryChoice:
		return a.SummaryChoice
	default:
		return Answer{}
	}
}

// Set stores value for topic. It is a no-op when the topic is already set.
func (a *Answers) Set(topic Topic, value string, at time.Time) bool {
	target := a.field(topic)
	if target == nil || target.IsSet() {
		return false
	}
	v := value
	ts := at
	target.Value = &v
	target.SetAt = &ts
	return true
}

func (a *Answers) field(topic Topic) *Answer {
	switch topic {
	case TopicConfirmChoice:
		return &a.ConfirmChoice
	case TopicReschedulePreference:
		return &a.ReschedulePreference
	case TopicReadinessWindow:
		return &a.ReadinessWindow
	case TopicCustomTime:
		return &a.CustomTime
	case TopicBudget:
		return &a.Budget
	case TopicTimeline:
		return &a.Timeline
	case TopicDecisionMaker:
		return &a.DecisionMaker
	case TopicSummaryChoice:
		return &a.SummaryChoice
	default:
		return nil
	}
}

// AlreadyAnswered reports whether the answer field for step is set.
func (c Conversation) AlreadyAnswered(step FlowStep) bool {
	topic := TopicFor(step)
	if topic == TopicNone {
		return false
	}
	return c.Answers.Answer(topic).IsSet()
}
