package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-subs-api/internal/models"
)

const teacherColumns = `id, full_name, email, subject_ids, class_ids, experience_years, performance_rating,
	status, available_for_substitution, part_time_days, created_at, updated_at`

// Teachers with an overlapping committed substitution, or who are themselves
// absent in the window, are not free. Candidates come back ID-ascending so
// scoring tie-breaks stay reproducible.
const freeTeacherPredicate = `
	AND t.id <> $1
	AND NOT EXISTS (
		SELECT 1 FROM substitution_requests sr
		WHERE sr.substitute_teacher_id = t.id AND sr.date = $2
			AND sr.status IN ('assigned', 'confirmed', 'completed')
			AND sr.start_time < $4 AND $3 < sr.end_time)
	AND NOT EXISTS (
		SELECT 1 FROM substitution_requests sr
		WHERE sr.original_teacher_id = t.id AND sr.date = $2
			AND sr.status <> 'cancelled'
			AND sr.start_time < $4 AND $3 < sr.end_time)`

// TeacherRepository reads teacher reference data and answers availability
// queries for the assignment engine.
type TeacherRepository struct {
	db *sqlx.DB
}

// NewTeacherRepository constructs a TeacherRepository.
func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

// FindByID fetches a teacher by ID.
func (r *TeacherRepository) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	query := fmt.Sprintf("SELECT %s FROM teachers WHERE id = $1", teacherColumns)
	var teacher models.Teacher
	if err := r.db.GetContext(ctx, &teacher, query, id); err != nil {
		return nil, err
	}
	return &teacher, nil
}

// FreeTeachers returns active teachers with no conflicting commitment in the
// given window, excluding the absent teacher.
func (r *TeacherRepository) FreeTeachers(ctx context.Context, date time.Time, start, end, excludeTeacherID string) ([]models.Teacher, error) {
	query := fmt.Sprintf(`SELECT %s FROM teachers t WHERE t.status = 'active' %s ORDER BY t.id ASC`,
		teacherColumns, freeTeacherPredicate)
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query, excludeTeacherID, date.Format("2006-01-02"), start, end); err != nil {
		return nil, fmt.Errorf("list free teachers: %w", err)
	}
	return teachers, nil
}

// FreePartTimeTeachers returns part-time teachers scheduled for the weekday
// who are free in the window.
func (r *TeacherRepository) FreePartTimeTeachers(ctx context.Context, date time.Time, start, end, excludeTeacherID string) ([]models.Teacher, error) {
	query := fmt.Sprintf(`SELECT %s FROM teachers t
		WHERE t.status = 'part_time' AND $5 = ANY(t.part_time_days) %s ORDER BY t.id ASC`,
		teacherColumns, freeTeacherPredicate)
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query,
		excludeTeacherID, date.Format("2006-01-02"), start, end, date.Weekday().String()); err != nil {
		return nil, fmt.Errorf("list free part-time teachers: %w", err)
	}
	return teachers, nil
}

// FreeRetiredTeachers returns retired teachers who opted in to substitution
// and are free in the window.
func (r *TeacherRepository) FreeRetiredTeachers(ctx context.Context, date time.Time, start, end, excludeTeacherID string) ([]models.Teacher, error) {
	query := fmt.Sprintf(`SELECT %s FROM teachers t
		WHERE t.status = 'retired' AND t.available_for_substitution %s ORDER BY t.id ASC`,
		teacherColumns, freeTeacherPredicate)
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, query, excludeTeacherID, date.Format("2006-01-02"), start, end); err != nil {
		return nil, fmt.Errorf("list free retired teachers: %w", err)
	}
	return teachers, nil
}
