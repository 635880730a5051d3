package models

import "time"

// StaffRole identifies administrative staff eligible for emergency coverage.
type StaffRole string

const (
	RoleAdmin         StaffRole = "admin"
	RolePrincipal     StaffRole = "principal"
	RoleVicePrincipal StaffRole = "vice_principal"
)

// StaffMember is an administrative staff record used by the emergency
// protocol strategy.
type StaffMember struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     string    `db:"email" json:"email"`
	Role      StaffRole `db:"role" json:"role"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
