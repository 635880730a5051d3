package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-subs-api/internal/dto"
	"github.com/noah-isme/sma-subs-api/internal/models"
	appErrors "github.com/noah-isme/sma-subs-api/pkg/errors"
)

// Strategy names reported in results and metrics.
const (
	StrategyPriorityReassignment = "priority_reassignment"
	StrategyAssignmentSplitting  = "assignment_splitting"
	StrategyPoolExpansion        = "pool_expansion"
	StrategyScheduleModification = "schedule_modification"
	StrategyEmergencyProtocols   = "emergency_protocols"
)

const (
	splittableMinDuration    = 120
	splitMinSlack            = 30
	sessionBlockMinutes      = 45
	sessionBreakMinutes      = 5
	sessionBlockMinRemainder = 20
	blockableMinDuration     = 90
)

type conflictStore interface {
	FindByID(ctx context.Context, id string) (*models.SubstitutionRequest, error)
	ListPendingByDate(ctx context.Context, date time.Time) ([]models.SubstitutionRequest, error)
	ListAssignedOverlapping(ctx context.Context, date time.Time, start, end string) ([]models.SubstitutionRequest, error)
	CountTeacherLoad(ctx context.Context, teacherID string, date time.Time) (int, error)
	AssignTx(ctx context.Context, exec sqlx.ExtContext, id, teacherID, actorID, note string, autoAssigned bool) error
	ReassignTx(ctx context.Context, exec sqlx.ExtContext, id, fromTeacherID, toTeacherID, note string) error
	CancelTx(ctx context.Context, exec sqlx.ExtContext, id, note string) error
	CreateTx(ctx context.Context, exec sqlx.ExtContext, req *models.SubstitutionRequest) error
	UpdateWindowTx(ctx context.Context, exec sqlx.ExtContext, id, start, end, note string) error
}

type poolExpander interface {
	FreePartTimeTeachers(ctx context.Context, date time.Time, start, end, excludeTeacherID string) ([]models.Teacher, error)
	FreeRetiredTeachers(ctx context.Context, date time.Time, start, end, excludeTeacherID string) ([]models.Teacher, error)
}

type periodReader interface {
	ListBySeason(ctx context.Context, season models.PeriodSeason) ([]models.Period, error)
}

type staffReader interface {
	FreeAdministrative(ctx context.Context, date time.Time, start, end string) ([]models.StaffMember, error)
}

type conflictClassReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

// strategyOutcome is what a single cascade strategy produces on success.
type strategyOutcome struct {
	teacherID         string
	teacherName       string
	assigned          bool
	cancelled         bool
	conflictsResolved int
	conflicts         []dto.ConflictRecord
}

// resolutionStrategy gives each cascade step a uniform shape so the cascade
// stays an ordered list instead of nested conditionals.
type resolutionStrategy struct {
	name string
	run  func(ctx context.Context, req models.SubstitutionRequest, opts dto.AssignOptions) (*strategyOutcome, error)
}

// ConflictService resolves scheduling conflicts for requests nobody is free
// to cover, via an ordered five-strategy cascade.
type ConflictService struct {
	requests     conflictStore
	availability availabilityResolver
	pool         poolExpander
	periods      periodReader
	staff        staffReader
	classes      conflictClassReader
	notifier     Notifier
	tx           substitutionTxProvider
	metrics      *MetricsService
	logger       *zap.Logger
	strategies   []resolutionStrategy
}

// NewConflictService wires the cascade.
func NewConflictService(
	requests conflictStore,
	availability availabilityResolver,
	pool poolExpander,
	periods periodReader,
	staff staffReader,
	classes conflictClassReader,
	notifier Notifier,
	tx substitutionTxProvider,
	metrics *MetricsService,
	logger *zap.Logger,
) *ConflictService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ConflictService{
		requests:     requests,
		availability: availability,
		pool:         pool,
		periods:      periods,
		staff:        staff,
		classes:      classes,
		notifier:     notifier,
		tx:           tx,
		metrics:      metrics,
		logger:       logger,
	}
	s.strategies = []resolutionStrategy{
		{name: StrategyPriorityReassignment, run: s.priorityReassignment},
		{name: StrategyAssignmentSplitting, run: s.assignmentSplitting},
		{name: StrategyPoolExpansion, run: s.poolExpansion},
		{name: StrategyScheduleModification, run: s.scheduleModification},
		{name: StrategyEmergencyProtocols, run: s.emergencyProtocols},
	}
	return s
}

// DisableEmergencyProtocols removes the last-resort strategy from the cascade
// for deployments that never want automatic cancellations or staff bookings.
func (s *ConflictService) DisableEmergencyProtocols() {
	kept := s.strategies[:0:0]
	for _, strategy := range s.strategies {
		if strategy.name != StrategyEmergencyProtocols {
			kept = append(kept, strategy)
		}
	}
	s.strategies = kept
}

// ResolveConflicts loads the request and runs the cascade against it.
func (s *ConflictService) ResolveConflicts(ctx context.Context, requestID string) (*dto.ConflictResult, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "substitution request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load substitution request")
	}
	if req.Status != models.StatusPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "only pending requests have conflicts to resolve")
	}
	return s.Resolve(ctx, *req, dto.AssignOptions{})
}

// Resolve runs the strategies in order and stops at the first success. A
// strategy error is logged and treated as that strategy failing.
func (s *ConflictService) Resolve(ctx context.Context, req models.SubstitutionRequest, opts dto.AssignOptions) (*dto.ConflictResult, error) {
	result := &dto.ConflictResult{RequestID: req.ID}

	for _, strategy := range s.strategies {
		outcome, err := strategy.run(ctx, req, opts)
		if err != nil {
			s.logger.Warn("conflict strategy failed",
				zap.String("request_id", req.ID),
				zap.String("strategy", strategy.name),
				zap.Error(err))
			continue
		}
		if outcome == nil {
			continue
		}
		result.Strategy = strategy.name
		result.ConflictsResolved = outcome.conflictsResolved
		result.Conflicts = outcome.conflicts
		if outcome.cancelled {
			result.Reason = ReasonRequestCancelled
			return result, nil
		}
		result.Success = true
		result.TeacherID = outcome.teacherID
		result.TeacherName = outcome.teacherName
		result.Assigned = outcome.assigned
		s.metrics.RecordConflictResolution(strategy.name)
		return result, nil
	}

	result.Reason = "all_strategies_exhausted"
	return result, nil
}

// priorityReassignment moves a strictly lower-priority overlapping assignment
// to an alternative substitute and frees its teacher for the new request.
func (s *ConflictService) priorityReassignment(ctx context.Context, req models.SubstitutionRequest, opts dto.AssignOptions) (*strategyOutcome, error) {
	overlapping, err := s.requests.ListAssignedOverlapping(ctx, req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	for _, conflicting := range overlapping {
		if conflicting.IsEmergency || conflicting.SubstituteTeacherID == nil {
			continue
		}
		if conflicting.Priority.Rank() >= req.Priority.Rank() {
			continue
		}
		freed := *conflicting.SubstituteTeacherID
		if teacherBusyElsewhere(overlapping, conflicting.ID, freed) {
			continue
		}

		alternatives, err := s.availability.FreeTeachers(ctx, conflicting.Date, conflicting.StartTime, conflicting.EndTime, conflicting.OriginalTeacherID)
		if err != nil {
			return nil, err
		}
		alternatives = excludeTeachers(alternatives, freed, req.OriginalTeacherID)
		if len(alternatives) == 0 {
			continue
		}

		loads := make(map[string]int, len(alternatives))
		for _, alt := range alternatives {
			load, err := s.requests.CountTeacherLoad(ctx, alt.ID, conflicting.Date)
			if err != nil {
				return nil, err
			}
			loads[alt.ID] = load
		}
		best, ok := BestCandidate(RankCandidates(alternatives, conflicting, loads, CriteriaSubjectExpertise))
		if !ok {
			continue
		}

		if !opts.DryRun {
			note := fmt.Sprintf("reassigned to %s to free substitute for request %s", best.Teacher.FullName, req.ID)
			if err := s.inTx(ctx, func(tx *sqlx.Tx) error {
				return s.requests.ReassignTx(ctx, tx, conflicting.ID, freed, best.Teacher.ID, note)
			}); err != nil {
				return nil, err
			}
			if s.notifier != nil {
				s.notifier.SubstituteAssigned(ctx, best.Teacher.ID, conflicting)
			}
		}

		return &strategyOutcome{
			teacherID:         freed,
			conflictsResolved: 1,
			conflicts: []dto.ConflictRecord{{
				RequestID: conflicting.ID,
				Action:    "reassigned",
				Detail:    fmt.Sprintf("substitute moved to %s", best.Teacher.FullName),
			}},
		}, nil
	}
	return nil, nil
}

// assignmentSplitting carves the new request's window out of a long
// containing assignment. The long assignment becomes two replicas around the
// new window, keeping its substitute, and that substitute covers the new
// request in between. The windows are disjoint, so no double-booking arises.
func (s *ConflictService) assignmentSplitting(ctx context.Context, req models.SubstitutionRequest, opts dto.AssignOptions) (*strategyOutcome, error) {
	overlapping, err := s.requests.ListAssignedOverlapping(ctx, req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	for _, long := range overlapping {
		if long.SubstituteTeacherID == nil {
			continue
		}
		if long.DurationMinutes() <= splittableMinDuration || !long.Contains(req) {
			continue
		}
		slackBefore := req.StartMinutes() - long.StartMinutes()
		slackAfter := long.EndMinutes() - req.EndMinutes()
		if slackBefore < splitMinSlack || slackAfter < splitMinSlack {
			continue
		}

		freed := *long.SubstituteTeacherID
		before := replicaOf(long, long.StartTime, req.StartTime)
		after := replicaOf(long, req.EndTime, long.EndTime)

		if !opts.DryRun {
			if err := s.inTx(ctx, func(tx *sqlx.Tx) error {
				if err := s.requests.CancelTx(ctx, tx, long.ID, fmt.Sprintf("split around request %s", req.ID)); err != nil {
					return err
				}
				if err := s.requests.CreateTx(ctx, tx, &before); err != nil {
					return err
				}
				return s.requests.CreateTx(ctx, tx, &after)
			}); err != nil {
				return nil, err
			}
		}

		return &strategyOutcome{
			teacherID:         freed,
			conflictsResolved: 1,
			conflicts: []dto.ConflictRecord{
				{RequestID: long.ID, Action: "split", Detail: fmt.Sprintf("replaced by %s-%s and %s-%s", before.StartTime, before.EndTime, after.StartTime, after.EndTime)},
			},
		}, nil
	}
	return nil, nil
}

// poolExpansion widens the candidate set to scheduled part-time teachers and
// retired teachers who opted in.
func (s *ConflictService) poolExpansion(ctx context.Context, req models.SubstitutionRequest, opts dto.AssignOptions) (*strategyOutcome, error) {
	partTime, err := s.pool.FreePartTimeTeachers(ctx, req.Date, req.StartTime, req.EndTime, req.OriginalTeacherID)
	if err != nil {
		return nil, err
	}
	retired, err := s.pool.FreeRetiredTeachers(ctx, req.Date, req.StartTime, req.EndTime, req.OriginalTeacherID)
	if err != nil {
		return nil, err
	}

	expanded := make([]models.Teacher, 0, len(partTime)+len(retired))
	for _, t := range partTime {
		if t.WorksOn(req.Date.Weekday()) {
			expanded = append(expanded, t)
		}
	}
	expanded = append(expanded, retired...)
	if len(expanded) == 0 {
		return nil, nil
	}

	loads := make(map[string]int, len(expanded))
	for _, t := range expanded {
		load, err := s.requests.CountTeacherLoad(ctx, t.ID, req.Date)
		if err != nil {
			return nil, err
		}
		loads[t.ID] = load
	}
	best, ok := BestCandidate(RankCandidates(expanded, req, loads, Criteria(opts.Criteria).OrDefault()))
	if !ok {
		return nil, nil
	}

	return &strategyOutcome{
		teacherID:   best.Teacher.ID,
		teacherName: best.Teacher.FullName,
	}, nil
}

// scheduleModification reshapes the request itself: combine it with a
// compatible pending session, shift it into a free bell slot, or break it
// into teachable blocks. The first option that yields a teacher wins.
func (s *ConflictService) scheduleModification(ctx context.Context, req models.SubstitutionRequest, opts dto.AssignOptions) (*strategyOutcome, error) {
	if outcome, err := s.combineSessions(ctx, req, opts); err != nil || outcome != nil {
		return outcome, err
	}
	if outcome, err := s.shiftToFreeSlot(ctx, req, opts); err != nil || outcome != nil {
		return outcome, err
	}
	return s.splitIntoBlocks(ctx, req, opts)
}

func (s *ConflictService) combineSessions(ctx context.Context, req models.SubstitutionRequest, opts dto.AssignOptions) (*strategyOutcome, error) {
	if req.SubjectID == nil || req.ClassID == nil || s.classes == nil {
		return nil, nil
	}
	reqClass, err := s.classes.FindByID(ctx, *req.ClassID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	pending, err := s.requests.ListPendingByDate(ctx, req.Date)
	if err != nil {
		return nil, err
	}
	for _, partner := range pending {
		if partner.ID == req.ID || partner.SubjectID == nil || partner.ClassID == nil {
			continue
		}
		if *partner.SubjectID != *req.SubjectID || partner.Overlaps(req) {
			continue
		}
		partnerClass, err := s.classes.FindByID(ctx, *partner.ClassID)
		if err != nil {
			continue
		}
		if !reqClass.AdjacentGrade(*partnerClass) {
			continue
		}

		teachers, err := s.availability.FreeTeachers(ctx, partner.Date, partner.StartTime, partner.EndTime, req.OriginalTeacherID)
		if err != nil {
			return nil, err
		}
		teachers = excludeTeachers(teachers, partner.OriginalTeacherID)
		if len(teachers) == 0 {
			continue
		}

		if !opts.DryRun {
			// The partner is folded into the surviving request so the
			// combined slot consumes exactly one substitute.
			note := fmt.Sprintf("combined with request %s (class %s)", partner.ID, *partner.ClassID)
			mergeNote := fmt.Sprintf("merged into request %s for a combined session", req.ID)
			if err := s.inTx(ctx, func(tx *sqlx.Tx) error {
				if err := s.requests.UpdateWindowTx(ctx, tx, req.ID, partner.StartTime, partner.EndTime, note); err != nil {
					return err
				}
				return s.requests.CancelTx(ctx, tx, partner.ID, mergeNote)
			}); err != nil {
				return nil, err
			}
			if s.notifier != nil {
				s.notifier.OriginalTeacherCovered(ctx, partner.OriginalTeacherID, partner)
			}
		}
		return &strategyOutcome{
			teacherID:         teachers[0].ID,
			teacherName:       teachers[0].FullName,
			conflictsResolved: 1,
			conflicts: []dto.ConflictRecord{{
				RequestID: partner.ID,
				Action:    "combined",
				Detail:    fmt.Sprintf("merged into shared slot %s-%s", partner.StartTime, partner.EndTime),
			}},
		}, nil
	}
	return nil, nil
}

func (s *ConflictService) shiftToFreeSlot(ctx context.Context, req models.SubstitutionRequest, opts dto.AssignOptions) (*strategyOutcome, error) {
	if s.periods == nil {
		return nil, nil
	}
	periods, err := s.periods.ListBySeason(ctx, SeasonFor(req.Date))
	if err != nil {
		return nil, err
	}

	duration := req.DurationMinutes()
	type slotCandidate struct {
		period models.Period
		start  int
		score  int
	}
	var slots []slotCandidate
	for _, period := range periods {
		if period.DurationMinutes() < duration {
			continue
		}
		start, err := models.ClockMinutes(period.StartTime)
		if err != nil {
			continue
		}
		if start == req.StartMinutes() {
			continue
		}
		slots = append(slots, slotCandidate{
			period: period,
			start:  start,
			score:  scoreTimeSlot(period, req),
		})
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].score > slots[j].score })

	for _, slot := range slots {
		newStart := models.MinutesClock(slot.start)
		newEnd := models.MinutesClock(slot.start + duration)
		teachers, err := s.availability.FreeTeachers(ctx, req.Date, newStart, newEnd, req.OriginalTeacherID)
		if err != nil {
			return nil, err
		}
		if len(teachers) == 0 {
			continue
		}

		if !opts.DryRun {
			note := fmt.Sprintf("moved to %s slot %s-%s", slot.period.Name, newStart, newEnd)
			if err := s.inTx(ctx, func(tx *sqlx.Tx) error {
				return s.requests.UpdateWindowTx(ctx, tx, req.ID, newStart, newEnd, note)
			}); err != nil {
				return nil, err
			}
		}
		return &strategyOutcome{
			teacherID:         teachers[0].ID,
			teacherName:       teachers[0].FullName,
			conflictsResolved: 1,
			conflicts: []dto.ConflictRecord{{
				RequestID: req.ID,
				Action:    "moved",
				Detail:    fmt.Sprintf("shifted to %s (%s-%s)", slot.period.Name, newStart, newEnd),
			}},
		}, nil
	}
	return nil, nil
}

func (s *ConflictService) splitIntoBlocks(ctx context.Context, req models.SubstitutionRequest, opts dto.AssignOptions) (*strategyOutcome, error) {
	duration := req.DurationMinutes()
	if duration < blockableMinDuration {
		return nil, nil
	}

	// The final block absorbs the remainder so the whole window stays
	// covered; remainders too short to teach extend the previous block.
	var blocks [][2]string
	for cursor := req.StartMinutes(); cursor < req.EndMinutes(); cursor += sessionBlockMinutes + sessionBreakMinutes {
		blockEnd := cursor + sessionBlockMinutes
		if blockEnd > req.EndMinutes() || req.EndMinutes()-blockEnd-sessionBreakMinutes < sessionBlockMinRemainder {
			blockEnd = req.EndMinutes()
		}
		blocks = append(blocks, [2]string{models.MinutesClock(cursor), models.MinutesClock(blockEnd)})
		if blockEnd == req.EndMinutes() {
			break
		}
	}
	if len(blocks) < 2 {
		return nil, nil
	}

	first := blocks[0]
	teachers, err := s.availability.FreeTeachers(ctx, req.Date, first[0], first[1], req.OriginalTeacherID)
	if err != nil {
		return nil, err
	}
	if len(teachers) == 0 {
		return nil, nil
	}

	conflicts := []dto.ConflictRecord{}
	if !opts.DryRun {
		if err := s.inTx(ctx, func(tx *sqlx.Tx) error {
			note := fmt.Sprintf("session split into %d teachable blocks", len(blocks))
			if err := s.requests.UpdateWindowTx(ctx, tx, req.ID, first[0], first[1], note); err != nil {
				return err
			}
			for _, block := range blocks[1:] {
				replica := replicaOf(req, block[0], block[1])
				replica.Status = models.StatusPending
				replica.SubstituteTeacherID = nil
				replica.AssignedAt = nil
				if err := s.requests.CreateTx(ctx, tx, &replica); err != nil {
					return err
				}
				conflicts = append(conflicts, dto.ConflictRecord{
					RequestID: replica.ID,
					Action:    "block_created",
					Detail:    fmt.Sprintf("%s-%s", block[0], block[1]),
				})
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return &strategyOutcome{
		teacherID:         teachers[0].ID,
		teacherName:       teachers[0].FullName,
		conflictsResolved: 1,
		conflicts:         conflicts,
	}, nil
}

// emergencyProtocols runs only for emergencies and high-priority requests:
// book administrative staff directly, or cancel the request so it never sits
// silently pending.
func (s *ConflictService) emergencyProtocols(ctx context.Context, req models.SubstitutionRequest, opts dto.AssignOptions) (*strategyOutcome, error) {
	if !req.IsEmergency && req.Priority != models.PriorityHigh {
		return nil, nil
	}

	staff, err := s.staff.FreeAdministrative(ctx, req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	if len(staff) > 0 {
		member := staff[0]
		if !opts.DryRun {
			note := fmt.Sprintf("emergency coverage by %s (%s)", member.FullName, member.Role)
			if err := s.inTx(ctx, func(tx *sqlx.Tx) error {
				return s.requests.AssignTx(ctx, tx, req.ID, member.ID, opts.ActorID, note, true)
			}); err != nil {
				return nil, err
			}
			if s.notifier != nil {
				s.notifier.SubstituteAssigned(ctx, member.ID, req)
				s.notifier.OriginalTeacherCovered(ctx, req.OriginalTeacherID, req)
			}
		}
		// The booking is the resolution itself; a dry run previews the
		// same outcome without the write.
		return &strategyOutcome{
			teacherID:   member.ID,
			teacherName: member.FullName,
			assigned:    true,
		}, nil
	}

	if !opts.DryRun {
		if err := s.inTx(ctx, func(tx *sqlx.Tx) error {
			return s.requests.CancelTx(ctx, tx, req.ID, "cancelled by emergency protocol: no coverage available")
		}); err != nil {
			return nil, err
		}
		if s.notifier != nil {
			s.notifier.EmergencyCancellation(ctx, req)
		}
	}
	return &strategyOutcome{
		cancelled: true,
		conflicts: []dto.ConflictRecord{{RequestID: req.ID, Action: "cancelled", Detail: "no emergency coverage available"}},
	}, nil
}

func (s *ConflictService) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if s.tx == nil {
		return appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// scoreTimeSlot ranks a candidate bell slot for a request.
func scoreTimeSlot(period models.Period, req models.SubstitutionRequest) int {
	score := 0
	if req.IsEmergency {
		score += 100
	}
	switch req.Priority {
	case models.PriorityHigh:
		score += 50
	case models.PriorityMedium:
		score += 30
	case models.PriorityLow:
		score += 10
	}
	if req.SubjectID != nil && strings.Contains(strings.ToLower(period.Name), strings.ToLower(*req.SubjectID)) {
		score += 20
	}
	if start, err := models.ClockMinutes(period.StartTime); err == nil && start >= 8*60 && start <= 11*60 {
		score += 15
	}
	return score
}

// SeasonFor maps a date onto the bell-timing season in effect.
func SeasonFor(date time.Time) models.PeriodSeason {
	switch date.Month() {
	case time.March, time.April, time.May, time.June:
		return models.SeasonSummer
	case time.July, time.August, time.September, time.October:
		return models.SeasonMonsoon
	default:
		return models.SeasonWinter
	}
}

// clusterOverlapping groups same-day requests into transitively overlapping
// clusters: if A overlaps B and B overlaps C, all three cluster together.
func clusterOverlapping(requests []models.SubstitutionRequest) [][]models.SubstitutionRequest {
	n := len(requests)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri != rj {
			parent[rj] = ri
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if requests[i].Overlaps(requests[j]) {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]models.SubstitutionRequest)
	order := []int{}
	for i, req := range requests {
		root := find(i)
		if _, seen := groups[root]; !seen {
			order = append(order, root)
		}
		groups[root] = append(groups[root], req)
	}

	clusters := make([][]models.SubstitutionRequest, 0, len(order))
	for _, root := range order {
		clusters = append(clusters, groups[root])
	}
	return clusters
}

// sortByBatchPriority orders cluster members the same way the batch runner
// does: priority desc, emergencies first, earlier start first.
func sortByBatchPriority(requests []models.SubstitutionRequest) {
	sort.SliceStable(requests, func(i, j int) bool {
		if requests[i].Priority.Rank() != requests[j].Priority.Rank() {
			return requests[i].Priority.Rank() > requests[j].Priority.Rank()
		}
		if requests[i].IsEmergency != requests[j].IsEmergency {
			return requests[i].IsEmergency
		}
		return requests[i].StartMinutes() < requests[j].StartMinutes()
	})
}

func teacherBusyElsewhere(assigned []models.SubstitutionRequest, exceptID, teacherID string) bool {
	for _, other := range assigned {
		if other.ID == exceptID || other.SubstituteTeacherID == nil {
			continue
		}
		if *other.SubstituteTeacherID == teacherID {
			return true
		}
	}
	return false
}

func excludeTeachers(teachers []models.Teacher, excluded ...string) []models.Teacher {
	filtered := teachers[:0:0]
	for _, t := range teachers {
		skip := false
		for _, id := range excluded {
			if t.ID == id {
				skip = true
				break
			}
		}
		if !skip {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func replicaOf(req models.SubstitutionRequest, start, end string) models.SubstitutionRequest {
	replica := req
	replica.ID = ""
	replica.StartTime = start
	replica.EndTime = end
	replica.Notes = fmt.Sprintf("replica of request %s", req.ID)
	replica.CreatedAt = time.Time{}
	return replica
}
