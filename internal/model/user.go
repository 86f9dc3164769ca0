// Package model defines the data structures used throughout the assignment engine.
package model

import (
	"time"

	"github.com/sakif/care-assign/internal/geo"
)

// UserStatus tracks where a care recipient is in the assignment lifecycle.
type UserStatus string

const (
	UserUnassigned UserStatus = "unassigned"
	UserAssigned   UserStatus = "assigned"
	UserInService  UserStatus = "in_service"
)

// User is a care recipient awaiting or receiving service.
//
// Location is nil when the recipient has no usable address; such users are
// never matched automatically. Specialties are derived from the recipient's
// health-condition tags (e.g. "diabetes_care").
//
// Status and CurrentAssignmentID are owned by the assignment lifecycle:
// registration always creates a user as unassigned.
type User struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Location            *geo.Coordinate `json:"location,omitempty"`
	Specialties         []string        `json:"specialties"`
	CurrentAssignmentID *string         `json:"currentAssignmentId,omitempty"`
	Status              UserStatus      `json:"status"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}
