// Package domain holds the site-visit aggregate and the pure rules of its
// qualification conversation. Nothing in this package performs I/O.
package domain

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the coarse lifecycle status of a visit, independent of the
// conversation step.
type Status string

const (
	StatusRequested   Status = "requested"
	StatusConfirmed   Status = "confirmed"
	StatusRescheduled Status = "rescheduled"
	StatusAssigned    Status = "assigned"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
)

// ActiveStatuses are the statuses that count towards the one-active-visit
// rule for a (phone, site) pair.
var ActiveStatuses = []Status{StatusRequested, StatusConfirmed, StatusRescheduled, StatusAssigned}

// IsActive reports whether the status is non-terminal.
func (s Status) IsActive() bool {
	for _, active := range ActiveStatuses {
		if s == active {
			return true
		}
	}
	return false
}

// Booking is the immutable booking metadata captured at creation.
type Booking struct {
	Name          string
	Phone         string
	Email         string
	RequestedSlot time.Time
	Address       string
	Latitude      *float64
	Longitude     *float64
	SiteKey       string
}

// OutboundPrompt tracks one of the two unconditioned initial prompts
// (welcome and confirmation). A nil DueAt means nothing is scheduled.
type OutboundPrompt struct {
	DueAt     *time.Time
	SentAt    *time.Time
	ClaimedAt *time.Time
	Attempts  int
	LastError *string
}

// Pending reports whether the prompt still has to be sent.
func (p OutboundPrompt) Pending() bool {
	return p.DueAt != nil && p.SentAt == nil
}

// Answer is a single topic answer. A non-nil Value means the step that asks
// for it has been answered.
type Answer struct {
	Value *string
	SetAt *time.Time
}

// IsSet reports whether the answer has been recorded.
func (a Answer) IsSet() bool { return a.Value != nil }

// String returns the answer value or an empty string.
func (a Answer) String() string {
	if a.Value == nil {
		return ""
	}
	return *a.Value
}

// Answers groups every per-topic answer collected by the conversation.
type Answers struct {
	ConfirmChoice        Answer
	ReschedulePreference Answer
	ReadinessWindow      Answer
	CustomTime           Answer
	Budget               Answer
	Timeline             Answer
	DecisionMaker        Answer
	SummaryChoice        Answer
}

// ReminderCounter counts reminders sent for one step.
type ReminderCounter struct {
	Count  int        `json:"count"`
	LastAt *time.Time `json:"lastAt,omitempty"`
}

// InboundAudit records the last inbound event seen for a visit, whether or
// not it caused a transition.
type InboundAudit struct {
	LastAt        *time.Time
	LastText      *string
	LastType      *string
	LastMessageID *string
	Fingerprint   *string
	FingerprintAt *time.Time
}

// Conversation is the embedded conversation state of a visit.
type Conversation struct {
	Step          FlowStep
	StepSetAt     *time.Time
	Answers       Answers
	Welcome       OutboundPrompt
	Confirmation  OutboundPrompt
	StepSentAt    map[FlowStep]time.Time
	Reminders     map[FlowStep]ReminderCounter
	StepLastError *string
	LastOutbound  *time.Time
	Inbound       InboundAudit
	ExpiredAt     *time.Time
	ExpiredReason *string
}

// StepSent reports whether the prompt for step has been sent.
func (c Conversation) StepSent(step FlowStep) bool {
	_, ok := c.StepSentAt[step]
	return ok
}

// ReminderCount returns the number of reminders sent for step.
func (c Conversation) ReminderCount(step FlowStep) int {
	return c.Reminders[step].Count
}

// LastActivity is the latest of the last step change and the last inbound
// event. Expiry is measured from this point.
func (c Conversation) LastActivity() time.Time {
	var last time.Time
	if c.StepSetAt != nil {
		last = *c.StepSetAt
	}
	if c.Inbound.LastAt != nil && c.Inbound.LastAt.After(last) {
		last = *c.Inbound.LastAt
	}
	return last
}

// Visit is the aggregate root: one request for an on-site consultation.
type Visit struct {
	ID           uuid.UUID
	Booking      Booking
	Status       Status
	Conversation Conversation
	AssigneeID   *uuid.UUID
	AssignedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Reference returns the human-readable booking reference.
func (v Visit) Reference() string {
	return BookingReference(v.ID)
}

// BookingReference derives the short booking reference from a visit id.
func BookingReference(id uuid.UUID) string {
	return "SV-" + strings.ToUpper(hex.EncodeToString(id[:4]))
}

// IsActive reports whether the visit still counts as the counterparty's
// open visit for its site.
func (v Visit) IsActive() bool {
	return v.Status.IsActive() && v.Conversation.Step != StepExpired && v.Conversation.Step != StepCanceled
}

// SiteKey canonicalizes an explicit site reference or, failing that, the
// free-text address into the key used by the one-active-visit rule.
func SiteKey(siteRef, address string) string {
	if key := strings.TrimSpace(siteRef); key != "" {
		return "ref:" + strings.ToLower(key)
	}
	return "addr:" + strings.Join(strings.Fields(strings.ToLower(address)), " ")
}

// PromptKind names one of the two initial prompts.
type PromptKind string

const (
	PromptWelcome      PromptKind = "welcome"
	PromptConfirmation PromptKind = "confirmation"
)

// Prompt returns the scheduling state of an initial prompt.
func (c Conversation) Prompt(kind PromptKind) OutboundPrompt {
	if kind == PromptWelcome {
		return c.Welcome
	}
	return c.Confirmation
}
