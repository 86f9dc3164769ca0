package model

import "time"

// AssignmentType records who chose the provider.
type AssignmentType string

const (
	AssignmentManual    AssignmentType = "manual"
	AssignmentAutomatic AssignmentType = "automatic"
)

// AssignmentStatus is the lifecycle state. Cancelled and completed are terminal.
type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "active"
	AssignmentCancelled AssignmentStatus = "cancelled"
	AssignmentCompleted AssignmentStatus = "completed"
)

// Terminal reports whether no further transition is allowed.
func (s AssignmentStatus) Terminal() bool {
	return s == AssignmentCancelled || s == AssignmentCompleted
}

// Assignment binds one user to one provider.
//
// Rows are never deleted; they only move from active to cancelled or
// completed. MatchScore is nil for manual assignments. ReassignedFrom points
// at the assignment this one replaced, if any.
type Assignment struct {
	ID             string           `json:"id"`
	UserID         string           `json:"userId"`
	ProviderID     string           `json:"providerId"`
	Type           AssignmentType   `json:"type"`
	AssignedBy     string           `json:"assignedBy"`
	Reason         string           `json:"reason"`
	DistanceMeters float64          `json:"distance"`
	MatchScore     *float64         `json:"matchScore,omitempty"`
	Algorithm      string           `json:"algorithm,omitempty"`
	Status         AssignmentStatus `json:"status"`
	ReassignedFrom *string          `json:"reassignedFrom,omitempty"`
	AssignedAt     time.Time        `json:"assignedAt"`
	CancelledAt    *time.Time       `json:"cancelledAt,omitempty"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
}

// HistoryAction names an assignment transition.
type HistoryAction string

const (
	ActionCreated    HistoryAction = "created"
	ActionCancelled  HistoryAction = "cancelled"
	ActionCompleted  HistoryAction = "completed"
	ActionReassigned HistoryAction = "reassigned"
)

// AssignmentHistory is an append-only audit entry.
type AssignmentHistory struct {
	ID           string        `json:"id"`
	AssignmentID string        `json:"assignmentId"`
	Action       HistoryAction `json:"action"`
	Reason       string        `json:"reason"`
	Operator     string        `json:"operator"`
	CreatedAt    time.Time     `json:"createdAt"`
}
