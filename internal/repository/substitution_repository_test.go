package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-subs-api/internal/models"
)

func substitutionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "date", "start_time", "end_time", "priority", "is_emergency",
		"original_teacher_id", "substitute_teacher_id", "subject_id", "class_id",
		"status", "auto_assigned", "assigned_at", "assigned_by", "notes",
		"created_at", "updated_at",
	})
}

func TestSubstitutionRepositoryCreateGeneratesID(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewSubstitutionRepository(db)

	mock.ExpectExec("INSERT INTO substitution_requests").
		WillReturnResult(sqlmock.NewResult(1, 1))

	req := &models.SubstitutionRequest{
		Date:              time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		StartTime:         "09:00",
		EndTime:           "10:00",
		Priority:          models.PriorityHigh,
		OriginalTeacherID: "t1",
	}
	require.NoError(t, repo.Create(context.Background(), req))
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.False(t, req.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubstitutionRepositoryListPendingFromOrdering(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewSubstitutionRepository(db)

	rows := substitutionRows().
		AddRow("r1", time.Now(), "09:00", "10:00", "high", true, "t1", nil, nil, nil, "pending", false, nil, nil, "", time.Now(), time.Now())
	mock.ExpectQuery("SELECT .+ FROM substitution_requests\\s+WHERE status = 'pending' AND date >= \\$1\\s+ORDER BY CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,\\s+is_emergency DESC, date ASC, start_time ASC, id ASC").
		WithArgs("2026-09-07").
		WillReturnRows(rows)

	pending, err := repo.ListPendingFrom(context.Background(), time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].IsEmergency)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubstitutionRepositoryAssignTxGuardsStatus(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewSubstitutionRepository(db)

	mock.ExpectExec("UPDATE substitution_requests").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AssignTx(context.Background(), db, "r1", "sub", "admin", "note", true)
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubstitutionRepositoryAssignTxSuccess(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewSubstitutionRepository(db)

	mock.ExpectExec("UPDATE substitution_requests").
		WithArgs("r1", "sub", true, sqlmock.AnyArg(), sqlmock.AnyArg(), "note").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AssignTx(context.Background(), db, "r1", "sub", "admin", "note", true))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubstitutionRepositoryCancelTxGuardsTerminal(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewSubstitutionRepository(db)

	mock.ExpectExec("UPDATE substitution_requests\\s+SET status = 'cancelled'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.CancelTx(context.Background(), db, "r1", "note")
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubstitutionRepositoryListAssignedOverlapping(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewSubstitutionRepository(db)

	sub := "sub-1"
	rows := substitutionRows().
		AddRow("r2", time.Now(), "08:00", "12:00", "low", false, "t2", sub, nil, nil, "assigned", true, time.Now(), nil, "", time.Now(), time.Now())
	mock.ExpectQuery("SELECT .+ FROM substitution_requests\\s+WHERE status = 'assigned' AND date = \\$1 AND start_time < \\$3 AND \\$2 < end_time").
		WithArgs("2026-09-07", "09:00", "10:00").
		WillReturnRows(rows)

	overlapping, err := repo.ListAssignedOverlapping(context.Background(), time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC), "09:00", "10:00")
	require.NoError(t, err)
	require.Len(t, overlapping, 1)
	require.NotNil(t, overlapping[0].SubstituteTeacherID)
	assert.Equal(t, "sub-1", *overlapping[0].SubstituteTeacherID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubstitutionRepositoryStats(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewSubstitutionRepository(db)

	rows := sqlmock.NewRows([]string{"total", "assigned", "auto_assigned", "pending", "cancelled", "avg_assigned_minutes"}).
		AddRow(10, 8, 6, 1, 1, 12.5)
	mock.ExpectQuery("SELECT\\s+COUNT\\(\\*\\) AS total").
		WithArgs("2026-09-01", "2026-09-30").
		WillReturnRows(rows)

	stats, err := repo.Stats(context.Background(),
		time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 6, stats.AutoAssigned)
	assert.InDelta(t, 12.5, stats.AvgAssignedMinutes, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}
