package models

import "time"

// NotificationKind classifies outbound substitution notifications.
type NotificationKind string

const (
	NotificationSubstituteAssigned    NotificationKind = "substitute_assigned"
	NotificationOriginalCovered       NotificationKind = "original_teacher_covered"
	NotificationEmergencyCancellation NotificationKind = "emergency_cancellation"
	NotificationAssignmentCancelled   NotificationKind = "assignment_cancelled"
)

// Notification is an in-app notification record persisted on dispatch.
// Delivery is best-effort; failures never affect the originating decision.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	RecipientID string           `db:"recipient_id" json:"recipient_id"`
	Kind        NotificationKind `db:"kind" json:"kind"`
	Title       string           `db:"title" json:"title"`
	Body        string           `db:"body" json:"body"`
	RequestID   string           `db:"request_id" json:"request_id"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}
