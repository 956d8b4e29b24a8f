package domain

import (
	"time"

	"github.com/google/uuid"
)

// Technician is a field technician in the assignment rotation.
type Technician struct {
	ID             uuid.UUID
	Name           string
	Phone          string
	Email          string
	Active         bool
	DailyCap       int
	AssignedToday  int
	LastAssignedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Eligible reports whether the technician can take another visit today.
func (t Technician) Eligible() bool {
	return t.Active && t.AssignedToday < t.DailyCap
}

// RotationLess orders technicians least-recently-assigned first. Never
// assigned technicians come before everyone else; ties break on name, then id.
func RotationLess(a, b Technician) bool {
	switch {
	case a.LastAssignedAt == nil && b.LastAssignedAt != nil:
		return true
	case a.LastAssignedAt != nil && b.LastAssignedAt == nil:
		return false
	case a.LastAssignedAt != nil && b.LastAssignedAt != nil && !a.LastAssignedAt.Equal(*b.LastAssignedAt):
		return a.LastAssignedAt.Before(*b.LastAssignedAt)
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.ID.String() < b.ID.String()
}
