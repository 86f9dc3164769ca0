package model

import (
	"time"

	"github.com/sakif/care-assign/internal/geo"
)

// ProviderStatus gates whether a provider can take new users.
type ProviderStatus string

const (
	ProviderActive    ProviderStatus = "active"
	ProviderInactive  ProviderStatus = "inactive"
	ProviderSuspended ProviderStatus = "suspended"
)

// ScheduleWindow is one weekly working window, e.g. Monday 08:00-12:00.
// Start and End are "HH:MM" in the provider's local time.
type ScheduleWindow struct {
	Day   time.Weekday `json:"day"`
	Start string       `json:"start"`
	End   string       `json:"end"`
}

// Provider is a credentialed care professional with bounded capacity.
//
// CurrentUsers is never derived from assignment rows: the lifecycle manager
// adjusts it in the same transaction that creates, cancels or completes an
// assignment, keeping the capacity check O(1). 0 <= CurrentUsers <= MaxUsers
// always holds.
type Provider struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	Profession          string           `json:"profession"`
	ServiceCenter       geo.Coordinate   `json:"serviceCenter"`
	ServiceRadiusMeters float64          `json:"serviceRadius"`
	MaxUsers            int              `json:"maxUsers"`
	CurrentUsers        int              `json:"currentUsers"`
	Specialties         []string         `json:"specialties"`
	WorkSchedule        []ScheduleWindow `json:"workSchedule"`
	Status              ProviderStatus   `json:"status"`
	Rating              float64          `json:"rating"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// HasCapacity reports whether the provider can take one more user.
func (p *Provider) HasCapacity() bool {
	return p.CurrentUsers < p.MaxUsers
}

// WorksOn reports whether any schedule window falls on day.
func (p *Provider) WorksOn(day time.Weekday) bool {
	for _, w := range p.WorkSchedule {
		if w.Day == day {
			return true
		}
	}
	return false
}
