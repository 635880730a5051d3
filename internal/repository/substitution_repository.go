package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-subs-api/internal/models"
)

const substitutionColumns = `id, date, start_time, end_time, priority, is_emergency, original_teacher_id,
	substitute_teacher_id, subject_id, class_id, status, auto_assigned, assigned_at, assigned_by, notes,
	created_at, updated_at`

// SubstitutionRepository manages persistence for substitution requests. All
// mutations that are part of an assignment decision take an sqlx.ExtContext so
// the service can scope them to one transaction.
type SubstitutionRepository struct {
	db *sqlx.DB
}

// NewSubstitutionRepository constructs a SubstitutionRepository.
func NewSubstitutionRepository(db *sqlx.DB) *SubstitutionRepository {
	return &SubstitutionRepository{db: db}
}

// Create inserts a new pending request.
func (r *SubstitutionRepository) Create(ctx context.Context, req *models.SubstitutionRequest) error {
	return r.CreateTx(ctx, r.db, req)
}

// CreateTx inserts a request using the provided executor.
func (r *SubstitutionRepository) CreateTx(ctx context.Context, exec sqlx.ExtContext, req *models.SubstitutionRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = models.StatusPending
	}

	const query = `INSERT INTO substitution_requests
		(id, date, start_time, end_time, priority, is_emergency, original_teacher_id, substitute_teacher_id,
		 subject_id, class_id, status, auto_assigned, assigned_at, assigned_by, notes, created_at, updated_at)
		VALUES (:id, :date, :start_time, :end_time, :priority, :is_emergency, :original_teacher_id, :substitute_teacher_id,
		 :subject_id, :class_id, :status, :auto_assigned, :assigned_at, :assigned_by, :notes, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, req); err != nil {
		return fmt.Errorf("create substitution request: %w", err)
	}
	return nil
}

// FindByID fetches a request by ID.
func (r *SubstitutionRepository) FindByID(ctx context.Context, id string) (*models.SubstitutionRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM substitution_requests WHERE id = $1", substitutionColumns)
	var req models.SubstitutionRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests matching the filter along with a total count.
func (r *SubstitutionRepository) List(ctx context.Context, filter models.SubstitutionFilter) ([]models.SubstitutionRequest, int, error) {
	base := "FROM substitution_requests WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Date != nil {
		conditions = append(conditions, fmt.Sprintf("date = $%d", len(args)+1))
		args = append(args, filter.Date.Format("2006-01-02"))
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("(original_teacher_id = $%d OR substitute_teacher_id = $%d)", len(args)+1, len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"date":       true,
		"start_time": true,
		"priority":   true,
		"status":     true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s, start_time ASC LIMIT %d OFFSET %d", substitutionColumns, base, sortBy, order, size, offset)
	var requests []models.SubstitutionRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list substitution requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count substitution requests: %w", err)
	}
	return requests, total, nil
}

// ListPendingFrom returns pending requests on or after the given date, sorted
// for batch processing: priority desc, emergency first, date asc, start asc.
func (r *SubstitutionRepository) ListPendingFrom(ctx context.Context, from time.Time) ([]models.SubstitutionRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM substitution_requests
		WHERE status = 'pending' AND date >= $1
		ORDER BY CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
			is_emergency DESC, date ASC, start_time ASC, id ASC`, substitutionColumns)
	var requests []models.SubstitutionRequest
	if err := r.db.SelectContext(ctx, &requests, query, from.Format("2006-01-02")); err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return requests, nil
}

// ListPendingByDate returns all pending requests for one calendar day ordered
// by start time.
func (r *SubstitutionRepository) ListPendingByDate(ctx context.Context, date time.Time) ([]models.SubstitutionRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM substitution_requests
		WHERE status = 'pending' AND date = $1
		ORDER BY start_time ASC, id ASC`, substitutionColumns)
	var requests []models.SubstitutionRequest
	if err := r.db.SelectContext(ctx, &requests, query, date.Format("2006-01-02")); err != nil {
		return nil, fmt.Errorf("list pending requests by date: %w", err)
	}
	return requests, nil
}

// ListAssignedOverlapping returns assigned requests on the date whose window
// intersects [start, end).
func (r *SubstitutionRepository) ListAssignedOverlapping(ctx context.Context, date time.Time, start, end string) ([]models.SubstitutionRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM substitution_requests
		WHERE status = 'assigned' AND date = $1 AND start_time < $3 AND $2 < end_time
		ORDER BY start_time ASC, id ASC`, substitutionColumns)
	var requests []models.SubstitutionRequest
	if err := r.db.SelectContext(ctx, &requests, query, date.Format("2006-01-02"), start, end); err != nil {
		return nil, fmt.Errorf("list overlapping assigned requests: %w", err)
	}
	return requests, nil
}

// CountTeacherLoad counts a teacher's committed substitutions on the date.
func (r *SubstitutionRepository) CountTeacherLoad(ctx context.Context, teacherID string, date time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM substitution_requests
		WHERE substitute_teacher_id = $1 AND date = $2 AND status IN ('assigned', 'confirmed', 'completed')`
	var count int
	if err := r.db.GetContext(ctx, &count, query, teacherID, date.Format("2006-01-02")); err != nil {
		return 0, fmt.Errorf("count teacher load: %w", err)
	}
	return count, nil
}

// AssignTx books a substitute onto a pending request. The status guard makes
// concurrent batch runs lose rather than double-assign.
func (r *SubstitutionRepository) AssignTx(ctx context.Context, exec sqlx.ExtContext, id, teacherID, actorID, note string, autoAssigned bool) error {
	const query = `UPDATE substitution_requests
		SET substitute_teacher_id = $2, status = 'assigned', auto_assigned = $3,
			assigned_at = $4, assigned_by = $5, notes = %s, updated_at = $4
		WHERE id = $1 AND status = 'pending'`
	result, err := exec.ExecContext(ctx, fmt.Sprintf(query, appendNoteExpr(6)),
		id, teacherID, autoAssigned, time.Now().UTC(), nullable(actorID), note)
	if err != nil {
		return fmt.Errorf("assign substitute: %w", err)
	}
	return requireRow(result)
}

// ReassignTx moves an assigned request to a different substitute. The guard on
// the current substitute keeps the swap safe under concurrent runs.
func (r *SubstitutionRepository) ReassignTx(ctx context.Context, exec sqlx.ExtContext, id, fromTeacherID, toTeacherID, note string) error {
	const query = `UPDATE substitution_requests
		SET substitute_teacher_id = $3, assigned_at = $4, notes = %s, updated_at = $4
		WHERE id = $1 AND status = 'assigned' AND substitute_teacher_id = $2`
	result, err := exec.ExecContext(ctx, fmt.Sprintf(query, appendNoteExpr(5)),
		id, fromTeacherID, toTeacherID, time.Now().UTC(), note)
	if err != nil {
		return fmt.Errorf("reassign substitute: %w", err)
	}
	return requireRow(result)
}

// CancelTx cancels a non-terminal request and appends an audit note.
func (r *SubstitutionRepository) CancelTx(ctx context.Context, exec sqlx.ExtContext, id, note string) error {
	const query = `UPDATE substitution_requests
		SET status = 'cancelled', notes = %s, updated_at = $2
		WHERE id = $1 AND status NOT IN ('completed', 'cancelled')`
	result, err := exec.ExecContext(ctx, fmt.Sprintf(query, appendNoteExpr(3)), id, time.Now().UTC(), note)
	if err != nil {
		return fmt.Errorf("cancel substitution request: %w", err)
	}
	return requireRow(result)
}

// UpdateWindowTx shifts a pending request to a new time window.
func (r *SubstitutionRepository) UpdateWindowTx(ctx context.Context, exec sqlx.ExtContext, id, start, end, note string) error {
	const query = `UPDATE substitution_requests
		SET start_time = $2, end_time = $3, notes = %s, updated_at = $4
		WHERE id = $1 AND status = 'pending'`
	result, err := exec.ExecContext(ctx, fmt.Sprintf(query, appendNoteExpr(5)), id, start, end, time.Now().UTC(), note)
	if err != nil {
		return fmt.Errorf("update request window: %w", err)
	}
	return requireRow(result)
}

// Stats aggregates assignment counters for the inclusive date range.
func (r *SubstitutionRepository) Stats(ctx context.Context, from, to time.Time) (*models.SubstitutionStats, error) {
	const query = `SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status IN ('assigned', 'confirmed', 'completed')) AS assigned,
		COUNT(*) FILTER (WHERE status IN ('assigned', 'confirmed', 'completed') AND auto_assigned) AS auto_assigned,
		COUNT(*) FILTER (WHERE status = 'pending') AS pending,
		COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
		COALESCE(AVG(EXTRACT(EPOCH FROM assigned_at - created_at) / 60) FILTER (WHERE assigned_at IS NOT NULL), 0) AS avg_assigned_minutes
		FROM substitution_requests WHERE date BETWEEN $1 AND $2`
	var stats models.SubstitutionStats
	if err := r.db.GetContext(ctx, &stats, query, from.Format("2006-01-02"), to.Format("2006-01-02")); err != nil {
		return nil, fmt.Errorf("aggregate substitution stats: %w", err)
	}
	return &stats, nil
}

func appendNoteExpr(arg int) string {
	return fmt.Sprintf("CASE WHEN notes = '' THEN $%d ELSE notes || E'\\n' || $%d END", arg, arg)
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
