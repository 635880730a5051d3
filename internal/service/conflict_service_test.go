package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-subs-api/internal/dto"
	"github.com/noah-isme/sma-subs-api/internal/models"
)

type windowUpdate struct {
	requestID string
	start     string
	end       string
}

type stubConflictStore struct {
	items      map[string]*models.SubstitutionRequest
	assigned   []models.SubstitutionRequest
	pending    []models.SubstitutionRequest
	loads      map[string]int
	assigns    []assignCall
	reassigns  []assignCall
	cancels    []string
	created    []models.SubstitutionRequest
	windowMods []windowUpdate
}

func (m *stubConflictStore) FindByID(ctx context.Context, id string) (*models.SubstitutionRequest, error) {
	if req, ok := m.items[id]; ok {
		cp := *req
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *stubConflictStore) ListPendingByDate(ctx context.Context, date time.Time) ([]models.SubstitutionRequest, error) {
	return m.pending, nil
}

func (m *stubConflictStore) ListAssignedOverlapping(ctx context.Context, date time.Time, start, end string) ([]models.SubstitutionRequest, error) {
	return m.assigned, nil
}

func (m *stubConflictStore) CountTeacherLoad(ctx context.Context, teacherID string, date time.Time) (int, error) {
	return m.loads[teacherID], nil
}

func (m *stubConflictStore) AssignTx(ctx context.Context, exec sqlx.ExtContext, id, teacherID, actorID, note string, autoAssigned bool) error {
	m.assigns = append(m.assigns, assignCall{requestID: id, teacherID: teacherID, actorID: actorID, auto: autoAssigned})
	return nil
}

func (m *stubConflictStore) ReassignTx(ctx context.Context, exec sqlx.ExtContext, id, fromTeacherID, toTeacherID, note string) error {
	m.reassigns = append(m.reassigns, assignCall{requestID: id, teacherID: toTeacherID, actorID: fromTeacherID})
	return nil
}

func (m *stubConflictStore) CancelTx(ctx context.Context, exec sqlx.ExtContext, id, note string) error {
	m.cancels = append(m.cancels, id)
	return nil
}

func (m *stubConflictStore) CreateTx(ctx context.Context, exec sqlx.ExtContext, req *models.SubstitutionRequest) error {
	if req.ID == "" {
		req.ID = "replica"
	}
	m.created = append(m.created, *req)
	return nil
}

func (m *stubConflictStore) UpdateWindowTx(ctx context.Context, exec sqlx.ExtContext, id, start, end, note string) error {
	m.windowMods = append(m.windowMods, windowUpdate{requestID: id, start: start, end: end})
	return nil
}

type stubPool struct {
	partTime []models.Teacher
	retired  []models.Teacher
	calls    int
}

func (m *stubPool) FreePartTimeTeachers(ctx context.Context, date time.Time, start, end, excludeTeacherID string) ([]models.Teacher, error) {
	m.calls++
	return m.partTime, nil
}

func (m *stubPool) FreeRetiredTeachers(ctx context.Context, date time.Time, start, end, excludeTeacherID string) ([]models.Teacher, error) {
	return m.retired, nil
}

type stubPeriods struct {
	periods []models.Period
}

func (m *stubPeriods) ListBySeason(ctx context.Context, season models.PeriodSeason) ([]models.Period, error) {
	return m.periods, nil
}

type stubStaff struct {
	free  []models.StaffMember
	calls int
}

func (m *stubStaff) FreeAdministrative(ctx context.Context, date time.Time, start, end string) ([]models.StaffMember, error) {
	m.calls++
	return m.free, nil
}

type stubClasses struct {
	items map[string]*models.Class
}

func (m *stubClasses) FindByID(ctx context.Context, id string) (*models.Class, error) {
	if class, ok := m.items[id]; ok {
		cp := *class
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

type conflictFixture struct {
	store    *stubConflictStore
	free     *stubAvailability
	pool     *stubPool
	periods  *stubPeriods
	staff    *stubStaff
	classes  *stubClasses
	notifier *recordingNotifier
	svc      *ConflictService
}

func newConflictFixture(t *testing.T, withTx bool) *conflictFixture {
	f := &conflictFixture{
		store:    &stubConflictStore{loads: map[string]int{}},
		free:     &stubAvailability{},
		pool:     &stubPool{},
		periods:  &stubPeriods{},
		staff:    &stubStaff{},
		classes:  &stubClasses{},
		notifier: &recordingNotifier{},
	}
	var tx substitutionTxProvider
	if withTx {
		provider, mock := newTxMock(t)
		mock.MatchExpectationsInOrder(false)
		for i := 0; i < 4; i++ {
			mock.ExpectBegin()
			mock.ExpectCommit()
		}
		tx = provider
	}
	f.svc = NewConflictService(f.store, f.free, f.pool, f.periods, f.staff, f.classes, f.notifier, tx, nil, zap.NewNop())
	return f
}

func assignedRequest(id, start, end string, priority models.SubstitutionPriority, substitute string) models.SubstitutionRequest {
	req := pendingRequest(id, start, end)
	req.Priority = priority
	req.Status = models.StatusAssigned
	req.SubstituteTeacherID = &substitute
	req.OriginalTeacherID = "absent-" + id
	return req
}

func TestPriorityReassignmentFreesLowerPriority(t *testing.T) {
	f := newConflictFixture(t, true)
	f.store.assigned = []models.SubstitutionRequest{
		assignedRequest("low", "09:00", "10:00", models.PriorityLow, "busy-sub"),
	}
	f.free.teachers = []models.Teacher{{ID: "alt", FullName: "Alt"}}

	req := pendingRequest("urgent", "09:00", "10:00")
	req.Priority = models.PriorityHigh

	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StrategyPriorityReassignment, result.Strategy)
	assert.Equal(t, "busy-sub", result.TeacherID)
	assert.Equal(t, 1, result.ConflictsResolved)

	require.Len(t, f.store.reassigns, 1)
	assert.Equal(t, "low", f.store.reassigns[0].requestID)
	assert.Equal(t, "alt", f.store.reassigns[0].teacherID)
	// The cascade stops at the first strategy that works.
	assert.Equal(t, 0, f.pool.calls)
	assert.Equal(t, 0, f.staff.calls)
}

func TestPriorityReassignmentSkipsEqualAndEmergency(t *testing.T) {
	f := newConflictFixture(t, false)
	emergency := assignedRequest("e", "09:00", "10:00", models.PriorityLow, "sub-e")
	emergency.IsEmergency = true
	f.store.assigned = []models.SubstitutionRequest{
		emergency,
		assignedRequest("same", "09:00", "10:00", models.PriorityMedium, "sub-s"),
	}
	f.free.teachers = []models.Teacher{{ID: "alt"}}

	req := pendingRequest("new", "09:00", "10:00")
	req.Priority = models.PriorityMedium

	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, f.store.reassigns)
}

func TestAssignmentSplittingConservesCoverage(t *testing.T) {
	f := newConflictFixture(t, true)
	long := assignedRequest("long", "08:00", "12:00", models.PriorityMedium, "marathon")
	f.store.assigned = []models.SubstitutionRequest{long}

	req := pendingRequest("mid", "09:30", "10:30")
	req.Priority = models.PriorityMedium

	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StrategyAssignmentSplitting, result.Strategy)
	assert.Equal(t, "marathon", result.TeacherID)

	assert.Equal(t, []string{"long"}, f.store.cancels)
	require.Len(t, f.store.created, 2)
	before, after := f.store.created[0], f.store.created[1]
	assert.Equal(t, "08:00", before.StartTime)
	assert.Equal(t, "09:30", before.EndTime)
	assert.Equal(t, "10:30", after.StartTime)
	assert.Equal(t, "12:00", after.EndTime)
	// Replicas keep the original substitute and stay assigned.
	require.NotNil(t, before.SubstituteTeacherID)
	assert.Equal(t, "marathon", *before.SubstituteTeacherID)
	assert.Equal(t, models.StatusAssigned, before.Status)
	assert.Equal(t, models.StatusAssigned, after.Status)
}

func TestAssignmentSplittingRequiresRoom(t *testing.T) {
	f := newConflictFixture(t, false)
	// Only 15 minutes of slack before the new window.
	long := assignedRequest("long", "09:15", "12:00", models.PriorityMedium, "marathon")
	f.store.assigned = []models.SubstitutionRequest{long}

	req := pendingRequest("mid", "09:30", "10:30")
	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, f.store.cancels)
}

func TestPoolExpansionUsesScheduledPartTimers(t *testing.T) {
	f := newConflictFixture(t, false)
	f.pool.partTime = []models.Teacher{
		{ID: "pt-off", FullName: "Off Today", PartTimeDays: []string{"Tuesday"}},
		{ID: "pt-on", FullName: "On Today", PartTimeDays: []string{"Monday"}},
	}

	// 2026-09-07 is a Monday.
	req := pendingRequest("r1", "09:00", "10:00")
	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StrategyPoolExpansion, result.Strategy)
	assert.Equal(t, "pt-on", result.TeacherID)
	assert.False(t, result.Assigned)
}

func TestPoolExpansionFallsBackToRetired(t *testing.T) {
	f := newConflictFixture(t, false)
	f.pool.retired = []models.Teacher{{ID: "ret", FullName: "Retired", ExperienceYears: 20}}

	req := pendingRequest("r1", "09:00", "10:00")
	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "ret", result.TeacherID)
}

func TestScheduleModificationCombinesAdjacentGrades(t *testing.T) {
	f := newConflictFixture(t, true)
	partner := pendingRequest("partner", "11:00", "12:00")
	partner.SubjectID = strPtr("math")
	partner.ClassID = strPtr("c-10b")
	partner.OriginalTeacherID = "absent-partner"
	f.store.pending = []models.SubstitutionRequest{partner}
	f.classes.items = map[string]*models.Class{
		"c-10a": {ID: "c-10a", Grade: 10},
		"c-10b": {ID: "c-10b", Grade: 11},
	}
	f.free.teachers = []models.Teacher{{ID: "joint", FullName: "Joint"}}

	req := pendingRequest("r1", "09:00", "10:00")
	req.SubjectID = strPtr("math")
	req.ClassID = strPtr("c-10a")

	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StrategyScheduleModification, result.Strategy)
	assert.Equal(t, "joint", result.TeacherID)
	require.Len(t, f.store.windowMods, 1)
	assert.Equal(t, windowUpdate{requestID: "r1", start: "11:00", end: "12:00"}, f.store.windowMods[0])

	// The partner folds into the combined session instead of waiting for a
	// second substitute.
	assert.Equal(t, []string{"partner"}, f.store.cancels)
	assert.Equal(t, []string{"absent-partner"}, f.notifier.covered)
	assert.Equal(t, 1, result.ConflictsResolved)
}

func TestScheduleModificationShiftsToFreeSlot(t *testing.T) {
	f := newConflictFixture(t, true)
	f.periods.periods = []models.Period{
		{ID: "p1", Name: "Period 1", StartTime: "07:00", EndTime: "08:00", Season: models.SeasonMonsoon},
		{ID: "p3", Name: "Period 3", StartTime: "10:00", EndTime: "11:00", Season: models.SeasonMonsoon},
	}
	f.free.available = map[string][]models.Teacher{
		"10:00": {{ID: "late", FullName: "Late"}},
	}

	req := pendingRequest("r1", "09:00", "10:00")
	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "late", result.TeacherID)
	require.Len(t, f.store.windowMods, 1)
	assert.Equal(t, "10:00", f.store.windowMods[0].start)
	assert.Equal(t, "11:00", f.store.windowMods[0].end)
}

func TestScheduleModificationSplitsIntoBlocks(t *testing.T) {
	f := newConflictFixture(t, true)
	f.free.available = map[string][]models.Teacher{
		"09:00": {{ID: "short", FullName: "Short"}},
	}

	req := pendingRequest("r1", "09:00", "10:40")
	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StrategyScheduleModification, result.Strategy)
	assert.Equal(t, "short", result.TeacherID)

	// Original shrinks to the first block; the second block takes the rest
	// of the window and becomes pending.
	require.Len(t, f.store.windowMods, 1)
	assert.Equal(t, windowUpdate{requestID: "r1", start: "09:00", end: "09:45"}, f.store.windowMods[0])
	require.Len(t, f.store.created, 1)
	assert.Equal(t, "09:50", f.store.created[0].StartTime)
	assert.Equal(t, "10:40", f.store.created[0].EndTime)
	assert.Equal(t, models.StatusPending, f.store.created[0].Status)
	assert.Nil(t, f.store.created[0].SubstituteTeacherID)
}

func TestScheduleModificationSplitsNinetyMinutes(t *testing.T) {
	f := newConflictFixture(t, true)
	f.free.available = map[string][]models.Teacher{
		"09:00": {{ID: "short", FullName: "Short"}},
	}

	req := pendingRequest("r1", "09:00", "10:30")
	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StrategyScheduleModification, result.Strategy)
	require.Len(t, f.store.windowMods, 1)
	assert.Equal(t, windowUpdate{requestID: "r1", start: "09:00", end: "09:45"}, f.store.windowMods[0])
	require.Len(t, f.store.created, 1)
	assert.Equal(t, "09:50", f.store.created[0].StartTime)
	assert.Equal(t, "10:30", f.store.created[0].EndTime)
}

func TestEmergencyProtocolsBooksStaff(t *testing.T) {
	f := newConflictFixture(t, true)
	f.staff.free = []models.StaffMember{{ID: "vp", FullName: "Vice Principal", Role: models.RoleVicePrincipal}}

	req := pendingRequest("r1", "09:00", "10:00")
	req.IsEmergency = true

	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{ActorID: "admin"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StrategyEmergencyProtocols, result.Strategy)
	assert.True(t, result.Assigned)
	assert.Equal(t, "vp", result.TeacherID)
	require.Len(t, f.store.assigns, 1)
	assert.Equal(t, "vp", f.store.assigns[0].teacherID)
	assert.Equal(t, []string{"vp"}, f.notifier.assigned)
}

func TestEmergencyProtocolsDryRunPreviewsStaffBooking(t *testing.T) {
	f := newConflictFixture(t, false)
	f.staff.free = []models.StaffMember{{ID: "vp", FullName: "Vice Principal", Role: models.RoleVicePrincipal}}

	req := pendingRequest("r1", "09:00", "10:00")
	req.IsEmergency = true

	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Assigned)
	assert.Equal(t, "vp", result.TeacherID)
	assert.Equal(t, "Vice Principal", result.TeacherName)
	assert.Empty(t, f.store.assigns)
	assert.Empty(t, f.notifier.assigned)
}

func TestEmergencyProtocolsCancelsWhenNoCoverage(t *testing.T) {
	f := newConflictFixture(t, true)

	req := pendingRequest("r1", "09:00", "10:00")
	req.Priority = models.PriorityHigh

	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, ReasonRequestCancelled, result.Reason)
	assert.Equal(t, StrategyEmergencyProtocols, result.Strategy)
	assert.Equal(t, []string{"r1"}, f.store.cancels)
	assert.Equal(t, []string{"r1"}, f.notifier.cancelled)
}

func TestEmergencyProtocolsSkippedForRoutineRequests(t *testing.T) {
	f := newConflictFixture(t, false)

	req := pendingRequest("r1", "09:00", "10:00")
	req.Priority = models.PriorityMedium

	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "all_strategies_exhausted", result.Reason)
	assert.Equal(t, 0, f.staff.calls)
	assert.Empty(t, f.store.cancels)
}

func TestDisableEmergencyProtocols(t *testing.T) {
	f := newConflictFixture(t, false)
	f.svc.DisableEmergencyProtocols()
	f.staff.free = []models.StaffMember{{ID: "vp", FullName: "Vice Principal", Role: models.RoleVicePrincipal}}

	req := pendingRequest("r1", "09:00", "10:00")
	req.IsEmergency = true

	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "all_strategies_exhausted", result.Reason)
	assert.Equal(t, 0, f.staff.calls)
	assert.Empty(t, f.notifier.cancelled)
}

func TestResolveDryRunWritesNothing(t *testing.T) {
	f := newConflictFixture(t, false)
	f.store.assigned = []models.SubstitutionRequest{
		assignedRequest("low", "09:00", "10:00", models.PriorityLow, "busy-sub"),
	}
	f.free.teachers = []models.Teacher{{ID: "alt"}}

	req := pendingRequest("urgent", "09:00", "10:00")
	req.Priority = models.PriorityHigh

	result, err := f.svc.Resolve(context.Background(), req, dto.AssignOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, f.store.reassigns)
	assert.Empty(t, f.store.cancels)
	assert.Empty(t, f.store.created)
}

func TestResolveConflictsRequiresPending(t *testing.T) {
	f := newConflictFixture(t, false)
	done := pendingRequest("r1", "09:00", "10:00")
	done.Status = models.StatusCompleted
	f.store.items = map[string]*models.SubstitutionRequest{"r1": &done}

	_, err := f.svc.ResolveConflicts(context.Background(), "r1")
	require.Error(t, err)

	_, err = f.svc.ResolveConflicts(context.Background(), "ghost")
	require.Error(t, err)
}

func TestClusterOverlappingTransitive(t *testing.T) {
	a := pendingRequest("a", "09:00", "10:00")
	b := pendingRequest("b", "09:30", "11:00")
	c := pendingRequest("c", "10:30", "12:00")
	d := pendingRequest("d", "14:00", "15:00")

	clusters := clusterOverlapping([]models.SubstitutionRequest{a, b, c, d})
	require.Len(t, clusters, 2)
	assert.Len(t, clusters[0], 3)
	assert.Len(t, clusters[1], 1)
	assert.Equal(t, "d", clusters[1][0].ID)
}

func TestClusterOverlappingAdjacentWindowsSeparate(t *testing.T) {
	a := pendingRequest("a", "09:00", "10:00")
	b := pendingRequest("b", "10:00", "11:00")

	clusters := clusterOverlapping([]models.SubstitutionRequest{a, b})
	assert.Len(t, clusters, 2)
}

func TestSortByBatchPriority(t *testing.T) {
	low := pendingRequest("low", "08:00", "09:00")
	low.Priority = models.PriorityLow
	highLate := pendingRequest("high-late", "11:00", "12:00")
	highLate.Priority = models.PriorityHigh
	highEmergency := pendingRequest("high-emergency", "13:00", "14:00")
	highEmergency.Priority = models.PriorityHigh
	highEmergency.IsEmergency = true
	highEarly := pendingRequest("high-early", "09:00", "10:00")
	highEarly.Priority = models.PriorityHigh

	cluster := []models.SubstitutionRequest{low, highLate, highEmergency, highEarly}
	sortByBatchPriority(cluster)

	ids := []string{cluster[0].ID, cluster[1].ID, cluster[2].ID, cluster[3].ID}
	assert.Equal(t, []string{"high-emergency", "high-early", "high-late", "low"}, ids)
}

func TestSeasonFor(t *testing.T) {
	assert.Equal(t, models.SeasonSummer, SeasonFor(time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, models.SeasonMonsoon, SeasonFor(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, models.SeasonWinter, SeasonFor(time.Date(2026, 12, 10, 0, 0, 0, 0, time.UTC)))
}

func TestScoreTimeSlot(t *testing.T) {
	period := models.Period{Name: "Morning math block", StartTime: "09:00", EndTime: "10:00"}

	routine := pendingRequest("r", "13:00", "14:00")
	routine.Priority = models.PriorityLow
	assert.Equal(t, 10+15, scoreTimeSlot(period, routine))

	urgent := pendingRequest("u", "13:00", "14:00")
	urgent.Priority = models.PriorityHigh
	urgent.IsEmergency = true
	urgent.SubjectID = strPtr("math")
	assert.Equal(t, 100+50+20+15, scoreTimeSlot(period, urgent))

	afternoon := models.Period{Name: "Period 7", StartTime: "13:00", EndTime: "14:00"}
	assert.Equal(t, 10, scoreTimeSlot(afternoon, routine))
}
