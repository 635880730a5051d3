package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-subs-api/internal/models"
)

// StaffRepository reads administrative staff used by emergency protocols.
type StaffRepository struct {
	db *sqlx.DB
}

// NewStaffRepository constructs a StaffRepository.
func NewStaffRepository(db *sqlx.DB) *StaffRepository {
	return &StaffRepository{db: db}
}

// FreeAdministrative returns active administrative staff with no committed
// substitution overlapping the window, ordered by seniority of role.
func (r *StaffRepository) FreeAdministrative(ctx context.Context, date time.Time, start, end string) ([]models.StaffMember, error) {
	const query = `SELECT s.id, s.full_name, s.email, s.role, s.active, s.created_at
		FROM staff_members s
		WHERE s.active AND s.role IN ('admin', 'principal', 'vice_principal')
			AND NOT EXISTS (
				SELECT 1 FROM substitution_requests sr
				WHERE sr.substitute_teacher_id = s.id AND sr.date = $1
					AND sr.status IN ('assigned', 'confirmed', 'completed')
					AND sr.start_time < $3 AND $2 < sr.end_time)
		ORDER BY CASE s.role WHEN 'admin' THEN 1 WHEN 'vice_principal' THEN 2 ELSE 3 END, s.id ASC`
	var staff []models.StaffMember
	if err := r.db.SelectContext(ctx, &staff, query, date.Format("2006-01-02"), start, end); err != nil {
		return nil, fmt.Errorf("list free administrative staff: %w", err)
	}
	return staff, nil
}
