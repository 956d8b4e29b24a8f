package transport

import (
	"time"

	"github.com/google/uuid"
)

// CreateVisitRequest is the public booking form.
type CreateVisitRequest struct {
	Name          string    `json:"name" validate:"required,min=1,max=120"`
	Phone         string    `json:"phone" validate:"required,phone"`
	Email         string    `json:"email,omitempty" validate:"omitempty,email,max=254"`
	RequestedSlot time.Time `json:"requestedSlot" validate:"required"`
	Address       string    `json:"address" validate:"required,min=3,max=500"`
	Latitude      *float64  `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude     *float64  `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	SiteRef       string    `json:"siteRef,omitempty" validate:"omitempty,max=120"`
}

// CreateVisitResponse is returned to the booking form.
type CreateVisitResponse struct {
	ID        uuid.UUID `json:"id"`
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
}

// RescheduleRequest moves the requested slot.
type RescheduleRequest struct {
	RequestedSlot time.Time `json:"requestedSlot" validate:"required"`
}

// ListVisitsRequest filters the admin visit list.
type ListVisitsRequest struct {
	Status string `form:"status" validate:"omitempty,oneof=requested confirmed rescheduled assigned completed cancelled"`
	Step   string `form:"step" validate:"omitempty,max=40"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=200"`
}

// PromptResponse is the scheduling state of an initial prompt.
type PromptResponse struct {
	DueAt     *time.Time `json:"dueAt,omitempty"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
	Attempts  int        `json:"attempts"`
	LastError *string    `json:"lastError,omitempty"`
}

// ConversationResponse exposes the conversation state to operators.
type ConversationResponse struct {
	Step          string                   `json:"step"`
	StepSetAt     *time.Time               `json:"stepSetAt,omitempty"`
	Answers       map[string]string        `json:"answers"`
	Welcome       PromptResponse           `json:"welcome"`
	Confirmation  PromptResponse           `json:"confirmation"`
	StepSentAt    map[string]time.Time     `json:"stepSentAt,omitempty"`
	Reminders     map[string]ReminderCount `json:"reminders,omitempty"`
	StepLastError *string                  `json:"stepLastError,omitempty"`
	LastInboundAt *time.Time               `json:"lastInboundAt,omitempty"`
	LastInbound   *string                  `json:"lastInbound,omitempty"`
	ExpiredAt     *time.Time               `json:"expiredAt,omitempty"`
	Summary       []string                 `json:"summary"`
}

// ReminderCount is the reminder counter of one step.
type ReminderCount struct {
	Count  int        `json:"count"`
	LastAt *time.Time `json:"lastAt,omitempty"`
}

// VisitResponse is the admin view of a visit.
type VisitResponse struct {
	ID            uuid.UUID            `json:"id"`
	Reference     string               `json:"reference"`
	Name          string               `json:"name"`
	Phone         string               `json:"phone"`
	Email         string               `json:"email,omitempty"`
	RequestedSlot time.Time            `json:"requestedSlot"`
	Address       string               `json:"address"`
	Latitude      *float64             `json:"latitude,omitempty"`
	Longitude     *float64             `json:"longitude,omitempty"`
	Status        string               `json:"status"`
	AssigneeID    *uuid.UUID           `json:"assigneeId,omitempty"`
	AssignedAt    *time.Time           `json:"assignedAt,omitempty"`
	Conversation  ConversationResponse `json:"conversation"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

// VisitListResponse wraps a list of visits.
type VisitListResponse struct {
	Items []VisitResponse `json:"items"`
}

// CreateTechnicianRequest adds a technician to the pool.
type CreateTechnicianRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=120"`
	Phone    string `json:"phone" validate:"required,phone"`
	Email    string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	DailyCap *int   `json:"dailyCap,omitempty" validate:"omitempty,min=1,max=50"`
}

// SetTechnicianActiveRequest toggles rotation membership.
type SetTechnicianActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// TechnicianResponse is the admin view of a technician.
type TechnicianResponse struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Phone          string     `json:"phone"`
	Email          string     `json:"email,omitempty"`
	Active         bool       `json:"active"`
	DailyCap       int        `json:"dailyCap"`
	AssignedToday  int        `json:"assignedToday"`
	LastAssignedAt *time.Time `json:"lastAssignedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// TechnicianListResponse wraps the pool.
type TechnicianListResponse struct {
	Items []TechnicianResponse `json:"items"`
}
