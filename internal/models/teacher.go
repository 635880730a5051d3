package models

import (
	"time"

	"github.com/lib/pq"
)

// TeacherStatus describes employment status of a teacher.
type TeacherStatus string

const (
	TeacherActive   TeacherStatus = "active"
	TeacherPartTime TeacherStatus = "part_time"
	TeacherRetired  TeacherStatus = "retired"
)

// Teacher represents an instructor record used as read-only reference data
// by the assignment engine.
type Teacher struct {
	ID                       string         `db:"id" json:"id"`
	FullName                 string         `db:"full_name" json:"full_name"`
	Email                    string         `db:"email" json:"email"`
	SubjectIDs               pq.StringArray `db:"subject_ids" json:"subject_ids"`
	ClassIDs                 pq.StringArray `db:"class_ids" json:"class_ids"`
	ExperienceYears          int            `db:"experience_years" json:"experience_years"`
	PerformanceRating        int            `db:"performance_rating" json:"performance_rating"`
	Status                   TeacherStatus  `db:"status" json:"status"`
	AvailableForSubstitution bool           `db:"available_for_substitution" json:"available_for_substitution"`
	PartTimeDays             pq.StringArray `db:"part_time_days" json:"part_time_days,omitempty"`
	CreatedAt                time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time      `db:"updated_at" json:"updated_at"`
}

// TeachesSubject reports whether the teacher covers the given subject.
func (t Teacher) TeachesSubject(subjectID string) bool {
	return containsString(t.SubjectIDs, subjectID)
}

// TeachesClass reports whether the teacher covers the given class.
func (t Teacher) TeachesClass(classID string) bool {
	return containsString(t.ClassIDs, classID)
}

// WorksOn reports whether a part-time teacher is scheduled on the weekday.
// Teachers without a recorded schedule are treated as unavailable.
func (t Teacher) WorksOn(weekday time.Weekday) bool {
	return containsString(t.PartTimeDays, weekday.String())
}

func containsString(values []string, target string) bool {
	if target == "" {
		return false
	}
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
