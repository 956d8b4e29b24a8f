package domain

import "time"

// MaxRemindersPerStep caps reminders for a single step.
const MaxRemindersPerStep = 2

// ReminderPolicy lists, per reminder, how long after entering a step it
// becomes due.
type ReminderPolicy struct {
	Thresholds []time.Duration
}

var (
	confirmReminderPolicy = ReminderPolicy{Thresholds: []time.Duration{6 * time.Hour, 24 * time.Hour}}
	defaultReminderPolicy = ReminderPolicy{Thresholds: []time.Duration{24 * time.Hour, 48 * time.Hour}}
)

// ReminderPolicyFor returns the reminder policy of a conversation step.
func ReminderPolicyFor(step FlowStep) ReminderPolicy {
	if step == StepAwaitingConfirm {
		return confirmReminderPolicy
	}
	return defaultReminderPolicy
}

// Due reports whether the next reminder is due given the time spent in the
// step and the reminders already sent.
func (p ReminderPolicy) Due(elapsed time.Duration, sent int) bool {
	if sent >= MaxRemindersPerStep || sent >= len(p.Thresholds) {
		return false
	}
	return elapsed >= p.Thresholds[sent]
}

// Earliest returns the smallest threshold, used to pre-filter candidates.
func (p ReminderPolicy) Earliest() time.Duration {
	if len(p.Thresholds) == 0 {
		return 0
	}
	return p.Thresholds[0]
}
