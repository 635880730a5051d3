package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-subs-api/internal/models"
)

// PeriodRepository reads bell-timing reference data.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository constructs a PeriodRepository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

// ListBySeason returns periods for the season ordered by start time.
func (r *PeriodRepository) ListBySeason(ctx context.Context, season models.PeriodSeason) ([]models.Period, error) {
	const query = `SELECT id, name, start_time, end_time, season FROM periods WHERE season = $1 ORDER BY start_time ASC`
	var periods []models.Period
	if err := r.db.SelectContext(ctx, &periods, query, season); err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	return periods, nil
}
