package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SubstitutionPriority ranks how urgently a request must be covered.
type SubstitutionPriority string

const (
	PriorityLow    SubstitutionPriority = "low"
	PriorityMedium SubstitutionPriority = "medium"
	PriorityHigh   SubstitutionPriority = "high"
)

// Rank maps priorities onto a comparable scale (higher = more urgent).
func (p SubstitutionPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the priority is one of the known values.
func (p SubstitutionPriority) Valid() bool {
	return p.Rank() > 0
}

// SubstitutionStatus describes the lifecycle state of a request.
type SubstitutionStatus string

const (
	StatusPending   SubstitutionStatus = "pending"
	StatusAssigned  SubstitutionStatus = "assigned"
	StatusConfirmed SubstitutionStatus = "confirmed"
	StatusCompleted SubstitutionStatus = "completed"
	StatusCancelled SubstitutionStatus = "cancelled"
)

// Committed reports whether the status implies a substitute is booked.
func (s SubstitutionStatus) Committed() bool {
	return s == StatusAssigned || s == StatusConfirmed || s == StatusCompleted
}

// Terminal reports whether the status is immutable except for notes.
func (s SubstitutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// SubstitutionRequest represents one period of an absent teacher's class
// needing coverage.
type SubstitutionRequest struct {
	ID                  string               `db:"id" json:"id"`
	Date                time.Time            `db:"date" json:"date"`
	StartTime           string               `db:"start_time" json:"start_time"`
	EndTime             string               `db:"end_time" json:"end_time"`
	Priority            SubstitutionPriority `db:"priority" json:"priority"`
	IsEmergency         bool                 `db:"is_emergency" json:"is_emergency"`
	OriginalTeacherID   string               `db:"original_teacher_id" json:"original_teacher_id"`
	SubstituteTeacherID *string              `db:"substitute_teacher_id" json:"substitute_teacher_id,omitempty"`
	SubjectID           *string              `db:"subject_id" json:"subject_id,omitempty"`
	ClassID             *string              `db:"class_id" json:"class_id,omitempty"`
	Status              SubstitutionStatus   `db:"status" json:"status"`
	AutoAssigned        bool                 `db:"auto_assigned" json:"auto_assigned"`
	AssignedAt          *time.Time           `db:"assigned_at" json:"assigned_at,omitempty"`
	AssignedBy          *string              `db:"assigned_by" json:"assigned_by,omitempty"`
	Notes               string               `db:"notes" json:"notes"`
	CreatedAt           time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time            `db:"updated_at" json:"updated_at"`
}

// SubstitutionFilter captures query params for listing requests.
type SubstitutionFilter struct {
	Date      *time.Time
	Status    SubstitutionStatus
	TeacherID string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// SubstitutionStats holds raw aggregate counters for a date range.
type SubstitutionStats struct {
	Total              int     `db:"total"`
	Assigned           int     `db:"assigned"`
	AutoAssigned       int     `db:"auto_assigned"`
	Pending            int     `db:"pending"`
	Cancelled          int     `db:"cancelled"`
	AvgAssignedMinutes float64 `db:"avg_assigned_minutes"`
}

// StartMinutes returns the start time as minutes since midnight.
func (r SubstitutionRequest) StartMinutes() int {
	m, _ := ClockMinutes(r.StartTime)
	return m
}

// EndMinutes returns the end time as minutes since midnight.
func (r SubstitutionRequest) EndMinutes() int {
	m, _ := ClockMinutes(r.EndTime)
	return m
}

// DurationMinutes returns the request window length in minutes.
func (r SubstitutionRequest) DurationMinutes() int {
	return r.EndMinutes() - r.StartMinutes()
}

// Overlaps reports whether the two request windows intersect. Both requests
// must be on the same calendar day for the result to be meaningful.
func (r SubstitutionRequest) Overlaps(other SubstitutionRequest) bool {
	return r.StartMinutes() < other.EndMinutes() && other.StartMinutes() < r.EndMinutes()
}

// Contains reports whether the request window fully contains the other window.
func (r SubstitutionRequest) Contains(other SubstitutionRequest) bool {
	return r.StartMinutes() <= other.StartMinutes() && other.EndMinutes() <= r.EndMinutes()
}

// ClockMinutes parses an "HH:MM" clock value into minutes since midnight.
func ClockMinutes(clock string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(clock), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", clock)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q", clock)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q", clock)
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("clock value %q out of range", clock)
	}
	return hours*60 + minutes, nil
}

// MinutesClock renders minutes since midnight back into "HH:MM".
func MinutesClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
