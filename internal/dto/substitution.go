package dto

import "time"

// CreateSubstitutionRequest is the payload for reporting an absence period.
type CreateSubstitutionRequest struct {
	Date              string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime         string `json:"start_time" validate:"required"`
	EndTime           string `json:"end_time" validate:"required"`
	Priority          string `json:"priority" validate:"required,oneof=low medium high"`
	IsEmergency       bool   `json:"is_emergency"`
	OriginalTeacherID string `json:"original_teacher_id" validate:"required"`
	SubjectID         string `json:"subject_id"`
	ClassID           string `json:"class_id"`
	Notes             string `json:"notes"`
}

// AssignOptions tunes a single assignment or a batch run.
type AssignOptions struct {
	Criteria string `json:"criteria" validate:"omitempty,oneof=subject_expertise availability workload performance"`
	DryRun   bool   `json:"dry_run"`
	ActorID  string `json:"actor_id"`
}

// CandidateScore reports one scored candidate for observability.
type CandidateScore struct {
	TeacherID   string `json:"teacher_id"`
	TeacherName string `json:"teacher_name"`
	Score       int    `json:"score"`
}

// ConflictRecord describes one conflicting request touched during resolution.
type ConflictRecord struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	Detail    string `json:"detail,omitempty"`
}

// AssignmentResult is the outcome of assigning a single request.
type AssignmentResult struct {
	Success             bool             `json:"success"`
	RequestID           string           `json:"request_id"`
	SubstituteTeacherID string           `json:"substitute_teacher_id,omitempty"`
	SubstituteName      string           `json:"substitute_name,omitempty"`
	Score               int              `json:"score,omitempty"`
	Reason              string           `json:"reason,omitempty"`
	Strategy            string           `json:"strategy,omitempty"`
	ConflictsResolved   int              `json:"conflicts_resolved"`
	Conflicts           []ConflictRecord `json:"conflicts,omitempty"`
	Candidates          []CandidateScore `json:"candidates,omitempty"`
	DryRun              bool             `json:"dry_run"`
}

// BatchFailure records one request that could not be assigned during a batch.
type BatchFailure struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

// BatchResult aggregates a full auto-assignment run.
type BatchResult struct {
	Processed         int                `json:"processed"`
	Assigned          int                `json:"assigned"`
	Failed            int                `json:"failed"`
	ConflictsResolved int                `json:"conflicts_resolved"`
	Assignments       []AssignmentResult `json:"assignments"`
	Failures          []BatchFailure     `json:"failures"`
	Conflicts         []ConflictRecord   `json:"conflicts"`
	DryRun            bool               `json:"dry_run"`
}

// ConflictResult is the outcome of the single-request resolution cascade.
type ConflictResult struct {
	Success           bool             `json:"success"`
	RequestID         string           `json:"request_id"`
	Strategy          string           `json:"strategy,omitempty"`
	TeacherID         string           `json:"teacher_id,omitempty"`
	TeacherName       string           `json:"teacher_name,omitempty"`
	Assigned          bool             `json:"assigned"`
	Reason            string           `json:"reason,omitempty"`
	ConflictsResolved int              `json:"conflicts_resolved"`
	Conflicts         []ConflictRecord `json:"conflicts,omitempty"`
}

// ClusterResult reports resolution of one overlap cluster.
type ClusterResult struct {
	RequestIDs         []string `json:"request_ids"`
	ResolvedRequests   []string `json:"resolved_requests"`
	UnresolvedRequests []string `json:"unresolved_requests"`
}

// MultiConflictResult aggregates same-day cluster resolution.
type MultiConflictResult struct {
	Date               string          `json:"date"`
	Clusters           int             `json:"clusters"`
	Resolved           int             `json:"resolved"`
	UnresolvedRequests []string        `json:"unresolved_requests"`
	ClusterResults     []ClusterResult `json:"cluster_results"`
}

// AssignmentStats is a read-only projection over a date range.
type AssignmentStats struct {
	From               time.Time `json:"from"`
	To                 time.Time `json:"to"`
	TotalRequests      int       `json:"total_requests"`
	Assigned           int       `json:"assigned"`
	AutoAssigned       int       `json:"auto_assigned"`
	ManuallyAssigned   int       `json:"manually_assigned"`
	Pending            int       `json:"pending"`
	Cancelled          int       `json:"cancelled"`
	SuccessRate        float64   `json:"success_rate"`
	AvgAssignedMinutes float64   `json:"avg_assigned_minutes"`
}
