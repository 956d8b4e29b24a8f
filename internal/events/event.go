// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"sitevisit_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// VisitRequested is published when a new visit is accepted.
type VisitRequested struct {
	BaseEvent
	VisitID       uuid.UUID `json:"visitId"`
	Reference     string    `json:"reference"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	Email         string    `json:"email,omitempty"`
	Address       string    `json:"address"`
	RequestedSlot time.Time `json:"requestedSlot"`
	FirstVisit    bool      `json:"firstVisit"`
}

func (e VisitRequested) EventName() string { return "visits.visit.requested" }

// VisitCancelled is published when an operator cancels a visit.
type VisitCancelled struct {
	BaseEvent
	VisitID   uuid.UUID `json:"visitId"`
	Reference string    `json:"reference"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
}

func (e VisitCancelled) EventName() string { return "visits.visit.cancelled" }

// VisitAssigned is published after a technician has been attached to a
// visit.
type VisitAssigned struct {
	BaseEvent
	VisitID         uuid.UUID `json:"visitId"`
	Reference       string    `json:"reference"`
	ClientName      string    `json:"clientName"`
	ClientEmail     string    `json:"clientEmail,omitempty"`
	Address         string    `json:"address"`
	RequestedSlot   time.Time `json:"requestedSlot"`
	TechnicianID    uuid.UUID `json:"technicianId"`
	TechnicianName  string    `json:"technicianName"`
	TechnicianEmail string    `json:"technicianEmail,omitempty"`
	TechnicianPhone string    `json:"technicianPhone"`
	// Summary holds the qualification answers rendered as display lines.
	Summary []string `json:"summary"`
}

func (e VisitAssigned) EventName() string { return "visits.visit.assigned" }
