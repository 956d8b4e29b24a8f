package repository

import (
	"context"
	"time"

	"sitevisit_backend/internal/visits/domain"

	"github.com/google/uuid"
)

// InboundRecord is the audit trail of one inbound event.
type InboundRecord struct {
	At        time.Time
	Text      string
	Type      string
	MessageID string

	// Fingerprint is stored alongside the audit fields when non-empty.
	Fingerprint string
}

// Transition is a guarded state-machine step. It applies only while the
// visit is still in From, the topic answer is unset and the stored
// fingerprint differs from Inbound.Fingerprint.
type Transition struct {
	From    domain.FlowStep
	Next    domain.FlowStep
	Topic   domain.Topic
	Answer  string
	Status  *domain.Status
	At      time.Time
	Inbound InboundRecord
}

// PromptFailure records a failed initial prompt send. A nil NextDueAt
// means the prompt is given up.
type PromptFailure struct {
	Error     string
	NextDueAt *time.Time
}

// ListFilter narrows the admin visit list. Zero values match everything.
type ListFilter struct {
	Status domain.Status
	Step   domain.FlowStep
	Limit  int
}

// AssignResult is the outcome of AssignTechnician.
type AssignResult int

const (
	// AssignApplied means both the visit and the technician were updated.
	AssignApplied AssignResult = iota
	// AssignVisitUnavailable means the visit is already assigned or no
	// longer approved.
	AssignVisitUnavailable
	// AssignTechnicianUnavailable means the technician went inactive or hit
	// the daily cap.
	AssignTechnicianUnavailable
)

// VisitStore is the persistence contract for visits. Every mutation is
// scoped to one visit and guarded by a predicate; methods returning a bool
// report whether the guard held.
type VisitStore interface {
	// Lifecycle
	Create(ctx context.Context, visit *domain.Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Visit, error)
	FindActiveByCounterparty(ctx context.Context, phone, siteKey string) (*domain.Visit, error)
	FindActiveByPhone(ctx context.Context, phone string) (*domain.Visit, error)
	CountByPhone(ctx context.Context, phone string) (int, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Visit, error)
	Reschedule(ctx context.Context, id uuid.UUID, slot time.Time, at time.Time) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from []domain.Status, to domain.Status, at time.Time) (bool, error)
	// Cancel closes an open visit: status cancelled and, unless the
	// conversation already ended, step canceled.
	Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// Initial prompts
	ReleaseStaleClaims(ctx context.Context, staleBefore time.Time) (int64, error)
	ClaimDueWelcome(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.Visit, error)
	ClaimDueConfirmation(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.Visit, error)
	MarkWelcomeSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error)
	MarkConfirmationSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error)
	MarkPromptFailed(ctx context.Context, id uuid.UUID, kind domain.PromptKind, failure PromptFailure) error

	// Conversation follow-up
	ListReminderCandidates(ctx context.Context, setBefore time.Time, limit int) ([]domain.Visit, error)
	RecordReminder(ctx context.Context, id uuid.UUID, step domain.FlowStep, expectedCount int, at time.Time) (bool, error)
	ListRecoveryCandidates(ctx context.Context, quietBefore time.Time, limit int) ([]domain.Visit, error)
	ClaimRecovery(ctx context.Context, id uuid.UUID, step domain.FlowStep, quietBefore, at time.Time) (bool, error)
	RecordStepSent(ctx context.Context, id uuid.UUID, step domain.FlowStep, at time.Time) error
	RecordStepSendError(ctx context.Context, id uuid.UUID, step domain.FlowStep, message string) error
	ExpireInactive(ctx context.Context, inactiveBefore, at time.Time, reason string) (int64, error)

	// Inbound
	RecordInbound(ctx context.Context, id uuid.UUID, record InboundRecord) error
	ApplyTransition(ctx context.Context, id uuid.UUID, t Transition) (bool, error)

	// Assignment
	ListAssignable(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Visit, error)
	// AssignTechnician sets the assignee and bumps the technician's rotation
	// fields as one unit.
	AssignTechnician(ctx context.Context, visitID, technicianID uuid.UUID, at time.Time) (AssignResult, error)
}

// TechnicianStore is the persistence contract for the technician pool.
type TechnicianStore interface {
	CreateTechnician(ctx context.Context, tech *domain.Technician) error
	GetTechnician(ctx context.Context, id uuid.UUID) (*domain.Technician, error)
	ListTechnicians(ctx context.Context) ([]domain.Technician, error)
	SetTechnicianActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) error
	// ListEligible returns active technicians under their daily cap in
	// rotation order.
	ListEligible(ctx context.Context) ([]domain.Technician, error)
	ResetDailyCounters(ctx context.Context) (int64, error)
}

// Ensure Repository implements both stores
var (
	_ VisitStore      = (*Repository)(nil)
	_ TechnicianStore = (*Repository)(nil)
)
