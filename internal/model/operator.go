package model

import "time"

// Operator is an administrative account allowed to drive assignments.
//
// PasswordHash is a bcrypt hash and is never serialised. Permissions are the
// strings checked by auth.RequirePermission, e.g. "assignments:write".
type Operator struct {
	ID           string    `json:"id"`
	Login        string    `json:"login"`
	PasswordHash string    `json:"-"`
	Permissions  []string  `json:"permissions"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
