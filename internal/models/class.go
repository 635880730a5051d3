package models

import "time"

// Class represents an academic class or section (read-only reference data).
type Class struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Grade     int       `db:"grade" json:"grade"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AdjacentGrade reports whether the two classes are at most one grade apart.
func (c Class) AdjacentGrade(other Class) bool {
	diff := c.Grade - other.Grade
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1
}
