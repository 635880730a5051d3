package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-subs-api/internal/dto"
	"github.com/noah-isme/sma-subs-api/internal/models"
	appErrors "github.com/noah-isme/sma-subs-api/pkg/errors"
)

// Failure reasons surfaced in assignment results rather than as transport
// errors.
const (
	ReasonNoAvailableTeachers = "no_available_teachers"
	ReasonNoSuitableTeacher   = "no_suitable_teacher"
	ReasonRequestCancelled    = "request_cancelled"
)

type substitutionStore interface {
	Create(ctx context.Context, req *models.SubstitutionRequest) error
	FindByID(ctx context.Context, id string) (*models.SubstitutionRequest, error)
	List(ctx context.Context, filter models.SubstitutionFilter) ([]models.SubstitutionRequest, int, error)
	ListPendingFrom(ctx context.Context, from time.Time) ([]models.SubstitutionRequest, error)
	ListPendingByDate(ctx context.Context, date time.Time) ([]models.SubstitutionRequest, error)
	CountTeacherLoad(ctx context.Context, teacherID string, date time.Time) (int, error)
	AssignTx(ctx context.Context, exec sqlx.ExtContext, id, teacherID, actorID, note string, autoAssigned bool) error
	Stats(ctx context.Context, from, to time.Time) (*models.SubstitutionStats, error)
}

type availabilityResolver interface {
	FreeTeachers(ctx context.Context, date time.Time, start, end, excludeTeacherID string) ([]models.Teacher, error)
}

type teacherReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type conflictResolver interface {
	Resolve(ctx context.Context, req models.SubstitutionRequest, opts dto.AssignOptions) (*dto.ConflictResult, error)
}

// Notifier dispatches best-effort notifications. Implementations log delivery
// failures and never return them to the caller.
type Notifier interface {
	SubstituteAssigned(ctx context.Context, teacherID string, req models.SubstitutionRequest)
	OriginalTeacherCovered(ctx context.Context, teacherID string, req models.SubstitutionRequest)
	EmergencyCancellation(ctx context.Context, req models.SubstitutionRequest)
	AssignmentCancelled(ctx context.Context, teacherID string, req models.SubstitutionRequest)
}

type substitutionTxProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// SubstitutionService assigns substitutes to pending requests, runs the daily
// batch, and serves read-side stats.
type SubstitutionService struct {
	requests     substitutionStore
	teachers     teacherReader
	availability availabilityResolver
	conflicts    conflictResolver
	notifier     Notifier
	tx           substitutionTxProvider
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewSubstitutionService wires the assignment engine dependencies.
func NewSubstitutionService(
	requests substitutionStore,
	teachers teacherReader,
	availability availabilityResolver,
	conflicts conflictResolver,
	notifier Notifier,
	tx substitutionTxProvider,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *SubstitutionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubstitutionService{
		requests:     requests,
		teachers:     teachers,
		availability: availability,
		conflicts:    conflicts,
		notifier:     notifier,
		tx:           tx,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest records a new pending substitution request.
func (s *SubstitutionService) CreateRequest(ctx context.Context, req dto.CreateSubstitutionRequest) (*models.SubstitutionRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid substitution payload")
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be formatted YYYY-MM-DD")
	}
	start, err := models.ClockMinutes(req.StartTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	end, err := models.ClockMinutes(req.EndTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if start >= end {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_time must be before end_time")
	}
	if _, err := s.teachers.FindByID(ctx, req.OriginalTeacherID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "original teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	record := &models.SubstitutionRequest{
		Date:              date,
		StartTime:         models.MinutesClock(start),
		EndTime:           models.MinutesClock(end),
		Priority:          models.SubstitutionPriority(req.Priority),
		IsEmergency:       req.IsEmergency,
		OriginalTeacherID: req.OriginalTeacherID,
		SubjectID:         optional(req.SubjectID),
		ClassID:           optional(req.ClassID),
		Status:            models.StatusPending,
		Notes:             req.Notes,
	}
	if err := s.requests.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create substitution request")
	}
	return record, nil
}

// Get loads one request.
func (s *SubstitutionService) Get(ctx context.Context, id string) (*models.SubstitutionRequest, error) {
	req, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "substitution request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load substitution request")
	}
	return req, nil
}

// List returns requests matching the filter.
func (s *SubstitutionService) List(ctx context.Context, filter models.SubstitutionFilter) ([]models.SubstitutionRequest, int, error) {
	items, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list substitution requests")
	}
	return items, total, nil
}

// AssignSubstituteForRequest assigns one pending request, falling back to the
// conflict cascade when nobody is free.
func (s *SubstitutionService) AssignSubstituteForRequest(ctx context.Context, requestID string, opts dto.AssignOptions) (*dto.AssignmentResult, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.assign(ctx, *req, opts)
}

func (s *SubstitutionService) assign(ctx context.Context, req models.SubstitutionRequest, opts dto.AssignOptions) (*dto.AssignmentResult, error) {
	if req.Status != models.StatusPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("request is %s, only pending requests can be assigned", req.Status))
	}
	criteria := Criteria(opts.Criteria).OrDefault()
	if !criteria.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown priority criteria")
	}
	if req.StartMinutes() >= req.EndMinutes() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request has an invalid time window")
	}

	result := &dto.AssignmentResult{RequestID: req.ID, DryRun: opts.DryRun}

	candidates, err := s.availability.FreeTeachers(ctx, req.Date, req.StartTime, req.EndTime, req.OriginalTeacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve free teachers")
	}

	if len(candidates) == 0 {
		resolution, err := s.conflicts.Resolve(ctx, req, opts)
		if err != nil {
			return nil, err
		}
		if !resolution.Success {
			result.Reason = ReasonNoAvailableTeachers
			if resolution.Reason == ReasonRequestCancelled {
				result.Reason = ReasonRequestCancelled
				result.Strategy = resolution.Strategy
			}
			result.Conflicts = resolution.Conflicts
			return result, nil
		}
		if resolution.Assigned {
			// Emergency protocols commit the booking themselves.
			result.Success = true
			result.SubstituteTeacherID = resolution.TeacherID
			result.SubstituteName = resolution.TeacherName
			result.Strategy = resolution.Strategy
			result.ConflictsResolved = resolution.ConflictsResolved
			result.Conflicts = resolution.Conflicts
			return result, nil
		}
		freed, err := s.teachers.FindByID(ctx, resolution.TeacherID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load freed teacher")
		}
		candidates = []models.Teacher{*freed}
		result.Strategy = resolution.Strategy
		result.ConflictsResolved = resolution.ConflictsResolved
		result.Conflicts = resolution.Conflicts
	}

	loads := make(map[string]int, len(candidates))
	for _, candidate := range candidates {
		load, err := s.requests.CountTeacherLoad(ctx, candidate.ID, req.Date)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count teacher load")
		}
		loads[candidate.ID] = load
	}

	ranked := RankCandidates(candidates, req, loads, criteria)
	best, ok := BestCandidate(ranked)
	if !ok {
		// Candidates existed but scoring produced nothing actionable.
		result.Reason = ReasonNoSuitableTeacher
		return result, nil
	}

	if !opts.DryRun {
		if err := s.commitAssignment(ctx, req, best.Teacher, opts.ActorID); err != nil {
			return nil, err
		}
		s.metrics.RecordAssignment(true)
		if s.notifier != nil {
			s.notifier.SubstituteAssigned(ctx, best.Teacher.ID, req)
			s.notifier.OriginalTeacherCovered(ctx, req.OriginalTeacherID, req)
		}
	}

	result.Success = true
	result.SubstituteTeacherID = best.Teacher.ID
	result.SubstituteName = best.Teacher.FullName
	// Recomputed rather than reused so the reported score always reflects the
	// inputs of the final decision.
	result.Score = ScoreTeacher(best.Teacher, req, loads[best.Teacher.ID], criteria)
	for _, candidate := range ranked {
		result.Candidates = append(result.Candidates, dto.CandidateScore{
			TeacherID:   candidate.Teacher.ID,
			TeacherName: candidate.Teacher.FullName,
			Score:       candidate.Score,
		})
	}
	return result, nil
}

func (s *SubstitutionService) commitAssignment(ctx context.Context, req models.SubstitutionRequest, teacher models.Teacher, actorID string) error {
	if s.tx == nil {
		return appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	note := fmt.Sprintf("auto-assigned substitute %s", teacher.FullName)
	if err := s.requests.AssignTx(ctx, tx, req.ID, teacher.ID, actorID, note, true); err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrConflict, "request was modified concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist assignment")
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit assignment")
	}
	return nil
}

// AutoAssignSubstitutes processes every pending request from today onward in
// priority order. One request's failure never aborts the batch.
func (s *SubstitutionService) AutoAssignSubstitutes(ctx context.Context, opts dto.AssignOptions) (*dto.BatchResult, error) {
	today := s.now().Truncate(24 * time.Hour)
	pending, err := s.requests.ListPendingFrom(ctx, today)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pending requests")
	}

	batch := &dto.BatchResult{
		Assignments: make([]dto.AssignmentResult, 0, len(pending)),
		Failures:    []dto.BatchFailure{},
		Conflicts:   []dto.ConflictRecord{},
		DryRun:      opts.DryRun,
	}

	for _, req := range pending {
		batch.Processed++
		result, err := s.assignRecovered(ctx, req, opts)
		if err != nil {
			s.logger.Error("batch assignment failed",
				zap.String("request_id", req.ID),
				zap.String("date", req.Date.Format("2006-01-02")),
				zap.Error(err))
			s.metrics.RecordBatchFailure()
			batch.Failed++
			batch.Failures = append(batch.Failures, dto.BatchFailure{RequestID: req.ID, Reason: err.Error()})
			continue
		}
		if result.Success {
			batch.Assigned++
			batch.ConflictsResolved += result.ConflictsResolved
			batch.Assignments = append(batch.Assignments, *result)
			batch.Conflicts = append(batch.Conflicts, result.Conflicts...)
			continue
		}
		batch.Failed++
		batch.Failures = append(batch.Failures, dto.BatchFailure{RequestID: req.ID, Reason: result.Reason})
		batch.Conflicts = append(batch.Conflicts, result.Conflicts...)
	}
	return batch, nil
}

// assignRecovered shields the batch loop from panics in a single request.
func (s *SubstitutionService) assignRecovered(ctx context.Context, req models.SubstitutionRequest, opts dto.AssignOptions) (result *dto.AssignmentResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during assignment: %v", r)
		}
	}()
	return s.assign(ctx, req, opts)
}

// ResolveMultipleAbsenceConflicts groups the day's pending requests into
// transitively overlapping clusters and resolves each cluster member in
// priority order. Each success commits before the next member runs, so later
// members observe the updated availability.
func (s *SubstitutionService) ResolveMultipleAbsenceConflicts(ctx context.Context, date time.Time, opts dto.AssignOptions) (*dto.MultiConflictResult, error) {
	pending, err := s.requests.ListPendingByDate(ctx, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pending requests")
	}

	clusters := clusterOverlapping(pending)
	result := &dto.MultiConflictResult{
		Date:               date.Format("2006-01-02"),
		UnresolvedRequests: []string{},
		ClusterResults:     []dto.ClusterResult{},
	}

	for _, cluster := range clusters {
		if len(cluster) < 2 {
			continue
		}
		result.Clusters++
		sortByBatchPriority(cluster)

		clusterResult := dto.ClusterResult{
			ResolvedRequests:   []string{},
			UnresolvedRequests: []string{},
		}
		for _, member := range cluster {
			clusterResult.RequestIDs = append(clusterResult.RequestIDs, member.ID)
			assignment, err := s.assignRecovered(ctx, member, opts)
			if err != nil || !assignment.Success {
				if err != nil {
					s.logger.Warn("cluster member unresolved",
						zap.String("request_id", member.ID), zap.Error(err))
				}
				clusterResult.UnresolvedRequests = append(clusterResult.UnresolvedRequests, member.ID)
				result.UnresolvedRequests = append(result.UnresolvedRequests, member.ID)
				continue
			}
			clusterResult.ResolvedRequests = append(clusterResult.ResolvedRequests, member.ID)
		}
		if len(clusterResult.ResolvedRequests) > 0 {
			result.Resolved++
		}
		result.ClusterResults = append(result.ClusterResults, clusterResult)
	}
	return result, nil
}

// GetAssignmentStats aggregates assignment outcomes for the inclusive range.
func (s *SubstitutionService) GetAssignmentStats(ctx context.Context, from, to time.Time) (*dto.AssignmentStats, error) {
	if from.After(to) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}
	raw, err := s.requests.Stats(ctx, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate stats")
	}
	stats := &dto.AssignmentStats{
		From:               from,
		To:                 to,
		TotalRequests:      raw.Total,
		Assigned:           raw.Assigned,
		AutoAssigned:       raw.AutoAssigned,
		ManuallyAssigned:   raw.Assigned - raw.AutoAssigned,
		Pending:            raw.Pending,
		Cancelled:          raw.Cancelled,
		AvgAssignedMinutes: raw.AvgAssignedMinutes,
	}
	if raw.Total > 0 {
		stats.SuccessRate = float64(raw.Assigned) / float64(raw.Total)
	}
	return stats, nil
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
